package functional

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// anEmptyZerobrewRoot is a no-op because the Before hook already sets up a
// fresh root/prefix pair. This step exists so feature files read naturally.
func anEmptyZerobrewRoot(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

// iRun executes a command string, replacing a leading "zb" with the test
// binary path and pointing ZEROBREW_ROOT/ZEROBREW_PREFIX at the scenario's
// scratch directories.
func iRun(ctx context.Context, command string) (context.Context, error) {
	state := getState(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state; is the Before hook running?")
	}

	args := strings.Fields(command)
	if len(args) > 0 && args[0] == "zb" {
		args[0] = state.binPath
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = filepath.Dir(state.binPath)
	cmd.Env = append(os.Environ(),
		"ZEROBREW_ROOT="+state.root,
		"ZEROBREW_PREFIX="+state.prefix,
		"ZEROBREW_YES=1",
	)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	state.stdout = stdout.String()
	state.stderr = stderr.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			state.exitCode = exitErr.ExitCode()
		} else {
			return ctx, fmt.Errorf("command execution failed: %w", err)
		}
	} else {
		state.exitCode = 0
	}

	return ctx, nil
}

func theExitCodeIs(ctx context.Context, expected int) error {
	state := getState(ctx)
	if state.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nstdout: %s\nstderr: %s",
			expected, state.exitCode, state.stdout, state.stderr)
	}
	return nil
}

func theOutputContains(ctx context.Context, text string) error {
	state := getState(ctx)
	if !strings.Contains(state.stdout, text) {
		return fmt.Errorf("expected stdout to contain %q, got:\n%s", text, state.stdout)
	}
	return nil
}

func theOutputDoesNotContain(ctx context.Context, text string) error {
	state := getState(ctx)
	if strings.Contains(state.stdout, text) {
		return fmt.Errorf("expected stdout not to contain %q, got:\n%s", text, state.stdout)
	}
	return nil
}

func theFileExists(ctx context.Context, path string) error {
	state := getState(ctx)
	fullPath := filepath.Join(state.prefix, path)
	if _, err := os.Lstat(fullPath); os.IsNotExist(err) {
		return fmt.Errorf("expected file %q to exist", fullPath)
	}
	return nil
}

// iCanRun execs a linked binary directly, with <prefix>/bin on PATH, the
// way a user's shell would after `zb init` wires PATH.
func iCanRun(ctx context.Context, command string) (context.Context, error) {
	state := getState(ctx)

	cmd := exec.Command("bash", "-c", command)
	cmd.Env = append(os.Environ(),
		"PATH="+filepath.Join(state.prefix, "bin")+":"+os.Getenv("PATH"),
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return ctx, fmt.Errorf("command %q failed: %v\noutput: %s", command, err, string(out))
	}
	return ctx, nil
}
