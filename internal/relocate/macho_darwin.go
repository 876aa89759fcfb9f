//go:build darwin

package relocate

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// relocateMachO implements §4.5.3: rewriting a Mach-O binary's load
// commands (LC_ID_DYLIB, LC_LOAD_DYLIB, LC_RPATH) to point at the new
// prefix, then re-signing with an ad-hoc signature since any load-command
// edit invalidates the original signature.
func relocateMachO(path, newPrefix, name, version string) (bool, error) {
	loadCommands, err := otoolLoadCommands(path)
	if err != nil {
		return false, fmt.Errorf("reading load commands: %w", err)
	}

	var changes bool

	for _, cmd := range loadCommands {
		newPath, ok := rewriteMachOPath(cmd.path, newPrefix, name, version)
		if !ok {
			continue
		}
		args := []string{}
		if cmd.isID {
			args = append(args, "-id", newPath, path)
		} else {
			args = append(args, "-change", cmd.path, newPath, path)
		}
		if err := exec.Command("install_name_tool", args...).Run(); err != nil {
			return changes, fmt.Errorf("install_name_tool %v: %w", args, err)
		}
		changes = true
	}

	rpaths, err := otoolRpaths(path)
	if err != nil {
		return changes, fmt.Errorf("reading rpaths: %w", err)
	}
	for _, rpath := range rpaths {
		newRpath, ok := rewriteMachOPath(rpath, newPrefix, name, version)
		if !ok {
			continue
		}
		cmd := exec.Command("install_name_tool", "-rpath", rpath, newRpath, path)
		if err := cmd.Run(); err != nil {
			return changes, fmt.Errorf("install_name_tool -rpath: %w", err)
		}
		changes = true
	}

	if !changes {
		return false, nil
	}

	if err := exec.Command("codesign", "--force", "--sign", "-", path).Run(); err != nil {
		return changes, fmt.Errorf("re-signing after load-command patch: %w", err)
	}

	return true, nil
}

type loadCommand struct {
	path string
	isID bool
}

// versionSelfCorrection matches an embedded "/<name>/<version>/" segment
// so a path whose version component drifted from the keg being
// materialized (e.g. a dependency bottle built against an older patch
// release) is corrected to the version actually on disk.
var versionSelfCorrection = regexp.MustCompile(`/([^/]+)/([0-9][^/]*)/`)

func rewriteMachOPath(original, newPrefix, name, version string) (string, bool) {
	rewritten := original
	changed := false

	for _, prefix := range append([]string{"@@HOMEBREW_PREFIX@@"}, canonicalPrefixes...) {
		if strings.HasPrefix(rewritten, prefix) {
			rewritten = newPrefix + strings.TrimPrefix(rewritten, prefix)
			changed = true
			break
		}
	}

	if strings.Contains(rewritten, "/"+name+"/") {
		rewritten = versionSelfCorrection.ReplaceAllStringFunc(rewritten, func(segment string) string {
			m := versionSelfCorrection.FindStringSubmatch(segment)
			if m == nil || m[1] != name || m[2] == version {
				return segment
			}
			changed = true
			return "/" + name + "/" + version + "/"
		})
	}

	return rewritten, changed
}

func otoolLoadCommands(path string) ([]loadCommand, error) {
	out, err := exec.Command("otool", "-L", path).Output()
	if err != nil {
		return nil, err
	}

	idOut, err := exec.Command("otool", "-D", path).Output()
	if err != nil {
		return nil, err
	}
	var id string
	for _, line := range strings.Split(string(idOut), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasSuffix(line, ":") {
			id = line
		}
	}

	var commands []loadCommand
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasSuffix(line, ":") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		commands = append(commands, loadCommand{path: fields[0], isID: id != "" && fields[0] == id})
	}
	return commands, scanner.Err()
}

func otoolRpaths(path string) ([]string, error) {
	out, err := exec.Command("otool", "-l", path).Output()
	if err != nil {
		return nil, err
	}

	var rpaths []string
	lines := strings.Split(string(out), "\n")
	for i, line := range lines {
		if strings.Contains(line, "cmd LC_RPATH") {
			for j := i; j < len(lines) && j < i+3; j++ {
				if strings.Contains(lines[j], "path ") {
					fields := strings.Fields(lines[j])
					if len(fields) >= 2 {
						rpaths = append(rpaths, fields[1])
					}
					break
				}
			}
		}
	}
	return rpaths, nil
}
