// Package store implements the BlobCache: a content-addressed filesystem
// of extracted bottle trees, keyed by a stable fingerprint (the StoreKey).
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zerobrew/zerobrew/internal/zberr"
	"github.com/zerobrew/zerobrew/internal/zblog"
)

// Store is the BlobCache rooted at <root>/store.
type Store struct {
	root string
	log  zblog.Logger
}

// New returns a Store rooted at <root>/store, creating the directory if
// necessary.
func New(root string) (*Store, error) {
	dir := filepath.Join(root, "store")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, zberr.WrapStoreCorruption(err, "creating store root")
	}
	return &Store{root: root, log: zblog.Default()}, nil
}

// EntryPath returns the deterministic, disk-untouched path for storeKey.
func (s *Store) EntryPath(storeKey string) string {
	return filepath.Join(s.root, "store", storeKey)
}

// Has reports whether a StoreEntry exists for storeKey.
func (s *Store) Has(storeKey string) bool {
	info, err := os.Stat(s.EntryPath(storeKey))
	return err == nil && info.IsDir()
}

// Insert extracts the archive read from r (an archive of the given
// format) into the StoreEntry for storeKey. Concurrent inserts for the
// same key serialize on a per-key exclusive lock; inserts for different
// keys never block each other. If the entry already exists by the time
// the lock is acquired (another writer won the race), Insert is a no-op.
func (s *Store) Insert(storeKey string, format Format, r io.Reader) error {
	lock, err := acquireKeyLock(s.root, storeKey)
	if err != nil {
		return zberr.WrapStoreCorruption(err, "acquiring store lock")
	}
	defer lock.release()

	if s.Has(storeKey) {
		s.log.Debug("store entry already present, skipping insert", "store_key", storeKey)
		return nil
	}

	parent := filepath.Join(s.root, "store")
	tmpDir, err := os.MkdirTemp(parent, ".insert-"+storeKey+"-")
	if err != nil {
		return zberr.WrapStoreCorruption(err, "creating temp directory")
	}
	defer os.RemoveAll(tmpDir) // no-op once renamed away

	if err := extractInto(r, format, tmpDir); err != nil {
		return zberr.WrapStoreCorruption(err, fmt.Sprintf("extracting bottle for %s", storeKey))
	}

	finalPath := s.EntryPath(storeKey)
	if err := os.Rename(tmpDir, finalPath); err != nil {
		if s.Has(storeKey) {
			// Lost a race despite the lock (e.g. a stale entry from a
			// prior crashed process); treat as success.
			return nil
		}
		return zberr.WrapStoreCorruption(err, "moving extracted entry into place")
	}

	return nil
}

// Remove deletes the StoreEntry directory tree for storeKey.
func (s *Store) Remove(storeKey string) error {
	if err := os.RemoveAll(s.EntryPath(storeKey)); err != nil {
		return zberr.WrapStoreCorruption(err, fmt.Sprintf("removing store entry %s", storeKey))
	}
	return nil
}
