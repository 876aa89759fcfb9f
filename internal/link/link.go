// Package link implements the Linker: farms files out of a materialized
// keg into the user-visible prefix via symlinks, and tears that farming
// back down on uninstall.
package link

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zerobrew/zerobrew/internal/db"
	"github.com/zerobrew/zerobrew/internal/layout"
	"github.com/zerobrew/zerobrew/internal/zberr"
)

// Linker farms keg files into prefix, recording each link on the active
// install transaction.
type Linker struct {
	prefix string
}

// New returns a Linker rooted at prefix.
func New(prefix string) *Linker {
	return &Linker{prefix: prefix}
}

// Link walks the keg's linkable subdirectories (§4.1) and symlinks every
// regular file and directory-local symlink it finds into the prefix,
// recording each link on tx. A destination already recorded as owned by
// name is replaced. If force is false and a destination path exists
// without that ownership, Link fails with a *zberr.LinkConflict naming the
// offending path and its current owner (if any is recorded in tx's
// database).
func (l *Linker) Link(ctx context.Context, tx *db.InstallTransaction, name, version string, force bool) error {
	kegPath := layout.KegPath(l.prefix, name, version)

	for _, subdir := range layout.LinkableSubdirs {
		kegSubdir := filepath.Join(kegPath, subdir)
		info, err := os.Stat(kegSubdir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return zberr.WrapStoreCorruption(err, fmt.Sprintf("statting keg subdir %s", kegSubdir))
		}
		if !info.IsDir() {
			continue
		}

		err = filepath.Walk(kegSubdir, func(path string, d os.FileInfo, err error) error {
			if err != nil {
				return zberr.WrapStoreCorruption(err, fmt.Sprintf("walking keg subdir %s", kegSubdir))
			}
			if d.IsDir() {
				return nil
			}

			relPath, err := filepath.Rel(kegSubdir, path)
			if err != nil {
				return zberr.WrapStoreCorruption(err, fmt.Sprintf("resolving %s relative to %s", path, kegSubdir))
			}
			linkedPath := layout.LinkedPath(l.prefix, subdir, relPath)

			if err := l.linkOne(ctx, tx, name, linkedPath, path, force); err != nil {
				return err
			}

			return tx.RecordLinkedFile(ctx, name, version, linkedPath, path)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// linkOne creates a single symlink, applying the conflict policy: an
// existing path owned by name (an upgrade in progress) is always
// replaced; an existing path owned by someone else, or force, follows the
// caller's choice.
func (l *Linker) linkOne(ctx context.Context, tx *db.InstallTransaction, name, linkedPath, target string, force bool) error {
	_, err := os.Lstat(linkedPath)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return zberr.WrapStoreCorruption(err, fmt.Sprintf("statting %s", linkedPath))
	}

	if exists {
		owner, hasOwner, lookupErr := tx.GetLinkOwner(ctx, linkedPath)
		if lookupErr != nil {
			return lookupErr
		}
		sameOwner := hasOwner && owner == name

		if !sameOwner && !force {
			return &zberr.LinkConflict{Path: linkedPath, Owner: owner}
		}

		if err := os.Remove(linkedPath); err != nil {
			return zberr.WrapStoreCorruption(err, fmt.Sprintf("removing conflicting link %s", linkedPath))
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(linkedPath), 0o755); err != nil {
			return zberr.WrapStoreCorruption(err, fmt.Sprintf("creating prefix directory for %s", linkedPath))
		}
	}

	if err := os.Symlink(target, linkedPath); err != nil {
		return zberr.WrapStoreCorruption(err, fmt.Sprintf("linking %s", linkedPath))
	}
	return nil
}

// Unlink removes every linked_path previously recorded for name, pruning
// now-empty prefix subdirectories opportunistically. A failure to remove
// one entry does not stop the others from being processed; the first such
// failure is returned.
func (l *Linker) Unlink(ctx context.Context, tx *db.InstallTransaction, name string) error {
	files, err := tx.ListLinkedFiles(ctx, name)
	if err != nil {
		return err
	}

	var firstErr error
	dirs := make(map[string]struct{})

	for _, f := range files {
		if err := os.Remove(f.LinkedPath); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = zberr.WrapStoreCorruption(err, fmt.Sprintf("removing link %s", f.LinkedPath))
			}
			continue
		}
		dirs[filepath.Dir(f.LinkedPath)] = struct{}{}
	}

	for dir := range dirs {
		pruneEmptyDirs(dir, l.prefix)
	}

	return firstErr
}

// pruneEmptyDirs removes dir and its empty ancestors, stopping at stop
// (exclusive) or at the first non-empty directory.
func pruneEmptyDirs(dir, stop string) {
	for dir != stop && dir != "." && dir != string(filepath.Separator) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
