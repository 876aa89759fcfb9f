package functional

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"
)

type stateKeyType struct{}

var stateKey = stateKeyType{}

type testState struct {
	root     string
	prefix   string
	binPath  string
	stdout   string
	stderr   string
	exitCode int
}

func getState(ctx context.Context) *testState {
	if s, ok := ctx.Value(stateKey).(*testState); ok {
		return s
	}
	return nil
}

func setState(ctx context.Context, s *testState) context.Context {
	return context.WithValue(ctx, stateKey, s)
}

func TestFeatures(t *testing.T) {
	binPath := os.Getenv("ZEROBREW_TEST_BINARY")
	if binPath == "" {
		t.Skip("ZEROBREW_TEST_BINARY not set; set it to a built zb binary to run the feature suite")
	}

	// Resolve to absolute path since go test changes the working directory
	absBin, err := filepath.Abs(binPath)
	if err != nil {
		t.Fatalf("resolving binary path: %v", err)
	}
	binPath = absBin

	opts := &godog.Options{
		Format:   "pretty",
		Paths:    []string{"features"},
		TestingT: t,
	}
	if tags := os.Getenv("ZEROBREW_TEST_TAGS"); tags != "" {
		opts.Tags = tags
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			initializeScenario(ctx, binPath)
		},
		Options: opts,
	}
	if suite.Run() != 0 {
		t.Fatal("functional tests failed")
	}
}

func initializeScenario(ctx *godog.ScenarioContext, binPath string) {
	// Each scenario gets a fresh root/prefix pair so install state never
	// leaks between scenarios.
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		repoRoot := filepath.Dir(binPath)
		testHome := filepath.Join(repoRoot, ".zerobrew-test")
		os.RemoveAll(testHome)

		root := filepath.Join(testHome, "root")
		prefix := filepath.Join(testHome, "prefix")
		if err := os.MkdirAll(root, 0o755); err != nil {
			return ctx, err
		}
		if err := os.MkdirAll(prefix, 0o755); err != nil {
			return ctx, err
		}

		state := &testState{
			root:    root,
			prefix:  prefix,
			binPath: binPath,
		}
		return setState(ctx, state), nil
	})

	// Environment steps
	ctx.Step(`^an empty zerobrew root$`, anEmptyZerobrewRoot)

	// Command steps
	ctx.Step(`^I run "([^"]*)"$`, iRun)

	// Assertion steps
	ctx.Step(`^the exit code is (\d+)$`, theExitCodeIs)
	ctx.Step(`^the output contains "([^"]*)"$`, theOutputContains)
	ctx.Step(`^the output does not contain "([^"]*)"$`, theOutputDoesNotContain)
	ctx.Step(`^the file "([^"]*)" exists$`, theFileExists)
	ctx.Step(`^I can run "([^"]*)"$`, iCanRun)
}
