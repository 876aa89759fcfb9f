// Package relocate implements the Relocator: the parallel binary/text
// patcher that rewrites Homebrew placeholder tokens, hard-coded canonical
// Homebrew path prefixes, and dynamic-linker metadata (ELF RPATH/RUNPATH/
// interpreter, Mach-O load commands) inside a freshly materialized keg.
package relocate

import (
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zerobrew/zerobrew/internal/zblog"
)

// canonicalPrefixes are the four hard-coded Homebrew installation roots
// that may appear verbatim inside bottle files.
var canonicalPrefixes = []string{
	"/opt/homebrew",
	"/usr/local/Homebrew",
	"/usr/local",
	"/home/linuxbrew/.linuxbrew",
}

// placeholders maps a Homebrew @@TOKEN@@ to the function computing its
// replacement for a given new prefix.
var placeholders = map[string]func(newPrefix string) string{
	"@@HOMEBREW_PREFIX@@":     func(p string) string { return p },
	"@@HOMEBREW_CELLAR@@":     func(p string) string { return filepath.Join(p, "Cellar") },
	"@@HOMEBREW_REPOSITORY@@": func(p string) string { return p },
	"@@HOMEBREW_LIBRARY@@":    func(p string) string { return filepath.Join(p, "Library") },
	"@@HOMEBREW_PERL@@":       func(string) string { return "/usr/bin/perl" },
	"@@HOMEBREW_JAVA@@":       func(string) string { return "/usr/bin/java" },
}

// Result summarizes a relocation pass. FailureCount is informational
// only: per spec, the Relocator never fails an install because of
// per-file patch failures.
type Result struct {
	FilesScanned int
	FilesPatched int
	FailureCount int
}

// Relocate walks kegPath in parallel and applies the text pass plus the
// platform-appropriate binary pass. It returns an error only if kegPath
// cannot be walked; individual file failures are logged and counted in the
// returned Result.
func Relocate(kegPath, newPrefix, name, version string) (Result, error) {
	log := zblog.Default()

	files, err := collectRegularFiles(kegPath)
	if err != nil {
		return Result{}, err
	}

	var patched int64
	var failures int64
	var processedInodes inodeSet

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for _, path := range files {
		path := path
		g.Go(func() error {
			changed, err := relocateTextFile(path, newPrefix)
			if err != nil {
				log.Warn("text relocation failed", "path", path, "error", err)
				atomic.AddInt64(&failures, 1)
			} else if changed {
				atomic.AddInt64(&patched, 1)
			}

			bchanged, err := relocateBinaryFile(path, newPrefix, name, version, &processedInodes)
			if err != nil {
				log.Warn("binary relocation failed", "path", path, "error", err)
				atomic.AddInt64(&failures, 1)
			} else if bchanged {
				atomic.AddInt64(&patched, 1)
			}

			return nil // per-file failures never abort the pass
		})
	}
	_ = g.Wait()

	return Result{
		FilesScanned: len(files),
		FilesPatched: int(patched),
		FailureCount: int(failures),
	}, nil
}

func collectRegularFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// withWritable runs fn with path temporarily made owner-writable if it
// was read-only, restoring the original mode bits afterward regardless of
// how fn returns. This is the "permission dance" required by files
// extracted from Homebrew bottles, which are frequently read-only.
func withWritable(path string, fn func() error) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	originalMode := info.Mode()

	if originalMode&0o200 == 0 {
		if err := os.Chmod(path, originalMode|0o200); err != nil {
			return err
		}
		defer os.Chmod(path, originalMode)
	}

	return fn()
}

// peekIsText reports whether data looks like text: no NUL byte in its
// first 8KiB and valid UTF-8 throughout (the heuristic the rest of the
// engine uses to distinguish text files from binaries worth patching).
func peekIsText(data []byte) bool {
	limit := len(data)
	if limit > 8192 {
		limit = 8192
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return false
		}
	}
	return isValidUTF8(data)
}
