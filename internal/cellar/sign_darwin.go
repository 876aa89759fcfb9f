//go:build darwin

package cellar

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// postSignAndQuarantine strips quarantine/provenance extended attributes
// from the whole keg, then verifies and (if needed) ad-hoc re-signs every
// entry directly inside <keg>/bin. Files are not checked for being
// Mach-O, subdirectories of bin/ are not descended into, and no other
// directory of the keg is visited.
func postSignAndQuarantine(kegPath string) error {
	_ = exec.Command("xattr", "-rd", "com.apple.quarantine", kegPath).Run()
	_ = exec.Command("xattr", "-rd", "com.apple.provenance", kegPath).Run()

	binDir := filepath.Join(kegPath, "bin")
	matches, err := filepath.Glob(filepath.Join(binDir, "*"))
	if err != nil {
		return nil
	}

	for _, path := range matches {
		verify := exec.Command("codesign", "-v", path)
		if err := verify.Run(); err == nil {
			continue
		}
		sign := exec.Command("codesign", "--force", "--sign", "-", path)
		if out, err := sign.CombinedOutput(); err != nil && !strings.Contains(string(out), "not a valid") {
			// best-effort; a single file's signature failure never aborts materialize
			continue
		}
	}
	return nil
}
