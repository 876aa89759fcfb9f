package link

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerobrew/zerobrew/internal/db"
	"github.com/zerobrew/zerobrew/internal/layout"
	"github.com/zerobrew/zerobrew/internal/zberr"
)

func newTestDatabase(t *testing.T) *db.Database {
	t.Helper()
	conn, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeKegFile(t *testing.T, prefix, name, version, subdir, relPath, content string) {
	t.Helper()
	full := filepath.Join(layout.KegPath(prefix, name, version), subdir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o755))
}

func TestLinkCreatesSymlinksAndRecordsThem(t *testing.T) {
	prefix := t.TempDir()
	writeKegFile(t, prefix, "jq", "1.7", "bin", "jq", "#!/bin/sh\n")

	conn := newTestDatabase(t)
	tx, err := conn.Transaction(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	l := New(prefix)
	require.NoError(t, l.Link(context.Background(), tx, "jq", "1.7", false))
	require.NoError(t, tx.Commit())

	linkedPath := filepath.Join(prefix, "bin", "jq")
	target, err := os.Readlink(linkedPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.KegPath(prefix, "jq", "1.7"), "bin", "jq"), target)

	files, err := conn.ListLinkedFiles(context.Background(), "jq")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, linkedPath, files[0].LinkedPath)
}

func TestLinkConflictsWithDifferentOwner(t *testing.T) {
	prefix := t.TempDir()
	writeKegFile(t, prefix, "jq", "1.7", "bin", "jq", "#!/bin/sh\n")

	conn := newTestDatabase(t)

	// pretend a different package already owns bin/jq
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "bin", "jq"), []byte("other"), 0o644))

	seedTx, err := conn.Transaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, seedTx.RecordLinkedFile(context.Background(), "other-jq", "1.0", filepath.Join(prefix, "bin", "jq"), "/somewhere"))
	require.NoError(t, seedTx.Commit())

	tx, err := conn.Transaction(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	l := New(prefix)
	err = l.Link(context.Background(), tx, "jq", "1.7", false)
	require.Error(t, err)

	var conflict *zberr.LinkConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestLinkAllowsUpgradeOfSamePackage(t *testing.T) {
	prefix := t.TempDir()
	writeKegFile(t, prefix, "jq", "1.8", "bin", "jq", "#!/bin/sh\n")

	conn := newTestDatabase(t)

	oldTarget := filepath.Join(layout.KegPath(prefix, "jq", "1.7"), "bin", "jq")
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "bin"), 0o755))
	require.NoError(t, os.Symlink(oldTarget, filepath.Join(prefix, "bin", "jq")))

	seedTx, err := conn.Transaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, seedTx.RecordLinkedFile(context.Background(), "jq", "1.7", filepath.Join(prefix, "bin", "jq"), oldTarget))
	require.NoError(t, seedTx.Commit())

	tx, err := conn.Transaction(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	l := New(prefix)
	require.NoError(t, l.Link(context.Background(), tx, "jq", "1.8", false))
	require.NoError(t, tx.Commit())

	target, err := os.Readlink(filepath.Join(prefix, "bin", "jq"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.KegPath(prefix, "jq", "1.8"), "bin", "jq"), target)
}

func TestUnlinkRemovesRecordedLinksAndPrunesEmptyDirs(t *testing.T) {
	prefix := t.TempDir()
	writeKegFile(t, prefix, "jq", "1.7", "share", filepath.Join("doc", "jq", "README"), "hi")

	conn := newTestDatabase(t)
	tx, err := conn.Transaction(context.Background())
	require.NoError(t, err)

	l := New(prefix)
	require.NoError(t, l.Link(context.Background(), tx, "jq", "1.7", false))
	require.NoError(t, tx.Commit())

	unlinkTx, err := conn.Transaction(context.Background())
	require.NoError(t, err)
	require.NoError(t, l.Unlink(context.Background(), unlinkTx, "jq"))
	require.NoError(t, unlinkTx.Commit())

	_, err = os.Lstat(filepath.Join(prefix, "share", "doc", "jq", "README"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(prefix, "share", "doc", "jq"))
	assert.True(t, os.IsNotExist(err), "now-empty directory should be pruned")
}
