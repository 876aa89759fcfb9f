// Package cellar implements the Cellar (Materialize) component: turning
// an immutable StoreEntry into a versioned, relocated, per-package working
// tree at <prefix>/Cellar/<name>/<version>/.
package cellar

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zerobrew/zerobrew/internal/layout"
	"github.com/zerobrew/zerobrew/internal/relocate"
	"github.com/zerobrew/zerobrew/internal/zberr"
	"github.com/zerobrew/zerobrew/internal/zblog"
)

// Cellar materializes StoreEntries into <prefix>/Cellar.
type Cellar struct {
	prefix string
	log    zblog.Logger
}

// New returns a Cellar rooted at the given prefix.
func New(prefix string) *Cellar {
	return &Cellar{prefix: prefix, log: zblog.Default()}
}

// KegPath returns the materialized keg path for (name, version).
func (c *Cellar) KegPath(name, version string) string {
	return layout.KegPath(c.prefix, name, version)
}

// HasKeg reports whether the keg directory for (name, version) exists.
func (c *Cellar) HasKeg(name, version string) bool {
	info, err := os.Stat(c.KegPath(name, version))
	return err == nil && info.IsDir()
}

// Materialize copies storeEntryDir's bottle content into the keg path for
// (name, version), relocates the new keg, and (on macOS) runs the
// code-signing post-pass. Idempotent: if the keg already exists, it is
// returned unchanged with no re-copy and no re-patch.
func (c *Cellar) Materialize(name, version, storeEntryDir string) (string, error) {
	kegPath := c.KegPath(name, version)
	if c.HasKeg(name, version) {
		return kegPath, nil
	}

	sourceRoot := findBottleContent(storeEntryDir, name, version)

	packageDir := layout.CellarPackageDir(c.prefix, name)
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return "", zberr.WrapStoreCorruption(err, "creating cellar package directory")
	}

	if err := copyTree(sourceRoot, kegPath); err != nil {
		return "", zberr.WrapStoreCorruption(err, fmt.Sprintf("copying %s into keg", name))
	}

	result, err := relocate.Relocate(kegPath, c.prefix, name, version)
	if err != nil {
		return "", zberr.WrapStoreCorruption(err, fmt.Sprintf("relocating %s", name))
	}
	if result.FailureCount > 0 {
		c.log.Warn("relocation completed with per-file failures",
			"package", name, "version", version, "failures", result.FailureCount)
	}

	if err := postSignAndQuarantine(kegPath); err != nil {
		c.log.Warn("post-materialize signing pass failed", "package", name, "error", err)
	}

	return kegPath, nil
}

// RemoveKeg removes the keg directory recursively, then opportunistically
// removes the now-possibly-empty <prefix>/Cellar/<name>/ parent.
func (c *Cellar) RemoveKeg(name, version string) error {
	kegPath := c.KegPath(name, version)
	if err := os.RemoveAll(kegPath); err != nil {
		return zberr.WrapStoreCorruption(err, fmt.Sprintf("removing keg %s/%s", name, version))
	}
	_ = os.Remove(layout.CellarPackageDir(c.prefix, name)) // best-effort, ignore ENOTEMPTY
	return nil
}

// findBottleContent disambiguates Homebrew's three possible bottle
// content shapes: entry/name/version, entry/name/<single child>, or
// entry itself. This order is mandatory; flat bottles and the functional
// test fixtures exercise all three.
func findBottleContent(entryDir, name, version string) string {
	nameVersion := filepath.Join(entryDir, name, version)
	if isDir(nameVersion) {
		return nameVersion
	}

	nameDir := filepath.Join(entryDir, name)
	if entries, err := os.ReadDir(nameDir); err == nil && len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(nameDir, entries[0].Name())
	}

	return entryDir
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
