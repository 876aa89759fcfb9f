// Package gc implements the garbage collection sweep behind Installer.GC
// and the standalone gc CLI verb (uninstall does not sweep): find
// every StoreKey with refcount <= 0 and best-effort remove its StoreEntry
// and catalog row.
package gc

import (
	"context"

	"github.com/zerobrew/zerobrew/internal/zblog"
)

// Database is the subset of *db.Database a Sweep needs.
type Database interface {
	GetUnreferencedStoreKeys(ctx context.Context) ([]string, error)
	DeleteStoreRef(ctx context.Context, storeKey string) error
}

// BlobCache is the subset of *store.Store a Sweep needs.
type BlobCache interface {
	Remove(key string) error
}

// Sweep removes every unreferenced StoreEntry it can, never aborting the
// pass because one key failed to remove — only the initial catalog read
// can fail the whole sweep. Per-key failures are logged, not returned.
func Sweep(ctx context.Context, database Database, blobs BlobCache, log zblog.Logger) ([]string, error) {
	keys, err := database.GetUnreferencedStoreKeys(ctx)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errCount int

	for _, key := range keys {
		if err := blobs.Remove(key); err != nil {
			errCount++
			if log != nil {
				log.Warn("gc: removing store entry failed", "key", key, "error", err)
			}
			continue
		}
		if err := database.DeleteStoreRef(ctx, key); err != nil {
			errCount++
			if log != nil {
				log.Warn("gc: deleting store ref failed", "key", key, "error", err)
			}
			continue
		}
		removed = append(removed, key)
	}

	if errCount > 0 && log != nil {
		log.Warn("gc completed with errors", "error_count", errCount)
	}

	return removed, nil
}
