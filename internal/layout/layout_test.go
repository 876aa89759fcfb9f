package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zerobrew/zerobrew/internal/layout"
)

func TestKegPath(t *testing.T) {
	assert.Equal(t, "/opt/zb/Cellar/jq/1.7.1", layout.KegPath("/opt/zb", "jq", "1.7.1"))
}

func TestStorePath(t *testing.T) {
	assert.Equal(t, "/var/zb/store/abc123", layout.StorePath("/var/zb", "abc123"))
}

func TestDatabasePath(t *testing.T) {
	assert.Equal(t, "/var/zb/db.sqlite", layout.DatabasePath("/var/zb"))
}

func TestLinkedPath(t *testing.T) {
	assert.Equal(t, "/opt/zb/bin/jq", layout.LinkedPath("/opt/zb", "bin", "jq"))
}

func TestLinkableSubdirsStable(t *testing.T) {
	assert.Contains(t, layout.LinkableSubdirs, "bin")
	assert.Contains(t, layout.LinkableSubdirs, "lib")
	assert.Contains(t, layout.LinkableSubdirs, "Frameworks")
}
