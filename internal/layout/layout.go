// Package layout implements PrefixLayout: pure, failure-free functions
// mapping (root, prefix, name, version) to canonical on-disk paths. No
// function in this package touches disk or returns an error.
package layout

import "path/filepath"

// LinkableSubdirs lists the keg subdirectories the Linker farms into the
// prefix. Order is stable but not otherwise meaningful.
var LinkableSubdirs = []string{
	"bin", "sbin", "lib", "include", "share", "etc", "Frameworks", "libexec", "var",
}

// StorePath returns the BlobCache directory for a given root and store key.
func StorePath(root, storeKey string) string {
	return filepath.Join(root, "store", storeKey)
}

// DatabasePath returns the path to the metadata database for a given root.
func DatabasePath(root string) string {
	return filepath.Join(root, "db.sqlite")
}

// CellarRoot returns the cellar root for a given prefix.
func CellarRoot(prefix string) string {
	return filepath.Join(prefix, "Cellar")
}

// CellarPackageDir returns the per-package directory (parent of version
// directories) for name under prefix.
func CellarPackageDir(prefix, name string) string {
	return filepath.Join(CellarRoot(prefix), name)
}

// KegPath returns the materialized keg directory for (name, version) under
// prefix.
func KegPath(prefix, name, version string) string {
	return filepath.Join(CellarPackageDir(prefix, name), version)
}

// LinkedPath returns the prefix-relative symlink path for a file at
// relPath inside subdir of a keg (e.g. subdir="bin", relPath="jq").
func LinkedPath(prefix, subdir, relPath string) string {
	return filepath.Join(prefix, subdir, relPath)
}
