package relocate

import (
	"os"
	"runtime"
	"strings"
)

// relocateTextFile implements §4.5.1. It peeks the first 8KiB for a NUL
// byte (skip if binary), validates UTF-8 (skip if invalid), and
// substitutes every placeholder token plus (on macOS only) the four
// canonical Homebrew prefixes. Idempotent: a file with no matching token
// left is returned unchanged, so running the pass twice yields identical
// bytes.
func relocateTextFile(path, newPrefix string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}

	if !peekIsText(data) {
		return false, nil
	}

	content := string(data)
	rewritten := content
	for token, replace := range placeholders {
		rewritten = strings.ReplaceAll(rewritten, token, replace(newPrefix))
	}

	if runtime.GOOS == "darwin" {
		for _, prefix := range canonicalPrefixes {
			if prefix == newPrefix {
				continue
			}
			rewritten = strings.ReplaceAll(rewritten, prefix, newPrefix)
		}
	}

	if rewritten == content {
		return false, nil
	}

	err = withWritable(path, func() error {
		return os.WriteFile(path, []byte(rewritten), 0)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
