package cellar

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyTree materializes src into dst. It first tries the platform's
// cheapest whole-directory clone (clonefile on macOS); if that is
// unavailable or fails, it falls back to a recursive walk that
// hardlinks regular files (falling back to a byte copy when hardlinking
// fails, e.g. across filesystems) and recreates symlinks verbatim.
// Permissions are preserved in all cases.
func copyTree(src, dst string) error {
	if tryCloneDir(src, dst) {
		return nil
	}
	return copyTreeRecursive(src, dst)
}

func copyTreeRecursive(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", src, err)
		}
		return os.Symlink(target, dst)
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("mkdir %s: %w", dst, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("readdir %s: %w", src, err)
		}
		for _, entry := range entries {
			if err := copyTreeRecursive(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return os.Chmod(dst, info.Mode().Perm())
	}

	return copyRegularFile(src, dst, info)
}

// copyRegularFile hardlinks src to dst, falling back to a byte-for-byte
// copy (e.g. across filesystem boundaries, where hardlinking fails with
// EXDEV).
func copyRegularFile(src, dst string, info os.FileInfo) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return os.Chmod(dst, info.Mode().Perm())
}
