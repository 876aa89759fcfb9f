//go:build darwin

package cellar

import "golang.org/x/sys/unix"

// tryCloneDir attempts a whole-directory clonefile(2) copy, the cheapest
// materialization strategy on APFS. Returns false (never an error) so the
// caller falls back to the portable hardlink/copy walk on any failure,
// including when src/dst span filesystems that don't support cloning.
func tryCloneDir(src, dst string) bool {
	const noFollow = 0x0001
	err := unix.Clonefile(src, dst, noFollow)
	return err == nil
}
