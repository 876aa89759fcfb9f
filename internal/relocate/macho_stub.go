//go:build !darwin

package relocate

// relocateMachO is never expected to run off macOS (no Mach-O bottles ship
// for other platforms), but the dispatcher in binary.go needs a symbol on
// every build target.
func relocateMachO(path, newPrefix, name, version string) (bool, error) {
	return false, nil
}
