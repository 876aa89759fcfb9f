// Package bundle parses Brewfiles: newline-delimited `brew "name"`
// declarations consumed by the bundle subcommand.
package bundle

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Parse reads a Brewfile and returns the formula names it declares, in
// file order. Blank lines and lines starting with # are ignored.
// Anything else that isn't a `brew "name"` line is a parse error naming
// the offending line number.
func Parse(r io.Reader) ([]string, error) {
	var names []string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, ok := parseBrewLine(line)
		if !ok {
			return nil, fmt.Errorf("Brewfile:%d: expected `brew \"name\"`, got %q", lineNo, line)
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading Brewfile: %w", err)
	}

	return names, nil
}

// parseBrewLine matches `brew "name"` (single or double quotes,
// tolerating trailing whitespace or a trailing comment).
func parseBrewLine(line string) (string, bool) {
	const prefix = "brew "
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(line[len(prefix):])
	if len(rest) < 2 {
		return "", false
	}

	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return "", false
	}

	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return "", false
	}

	return rest[1 : 1+end], true
}
