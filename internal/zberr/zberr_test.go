package zberr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zerobrew/zerobrew/internal/zberr"
)

func TestErrorsAsDiscriminates(t *testing.T) {
	var err error = &zberr.NotInstalled{Name: "jq"}

	var notInstalled *zberr.NotInstalled
	assert.True(t, errors.As(err, &notInstalled))
	assert.Equal(t, "jq", notInstalled.Name)

	var conflict *zberr.LinkConflict
	assert.False(t, errors.As(err, &conflict))
}

func TestLinkConflictMessage(t *testing.T) {
	err := &zberr.LinkConflict{Path: "/prefix/bin/jq", Owner: "jq-old"}
	assert.Contains(t, err.Error(), "/prefix/bin/jq")
	assert.Contains(t, err.Error(), "jq-old")
}

func TestStoreCorruptionUnwraps(t *testing.T) {
	inner := errors.New("disk full")
	err := zberr.WrapStoreCorruption(inner, "writing entry")
	assert.ErrorIs(t, err, inner)
}
