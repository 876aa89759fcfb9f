// Package config resolves zerobrew's runtime configuration from
// environment variables (and an optional project-local zerobrew.toml),
// following the same "parse, validate range, warn and fall back to
// default" pattern used throughout this codebase's ambient configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// EnvRoot overrides the default <root> (content store + database).
	EnvRoot = "ZEROBREW_ROOT"

	// EnvPrefix overrides the default <prefix> (user-visible install tree).
	EnvPrefix = "ZEROBREW_PREFIX"

	// EnvConcurrency overrides Config.Concurrency. The Installer does not
	// read Config.Concurrency; its plan and fetch stages are not bounded
	// by this value.
	EnvConcurrency = "ZEROBREW_CONCURRENCY"

	// EnvAutoInit sets Config.AutoInit when truthy. No command reads
	// Config.AutoInit: ensureInit creates <root> and <prefix> on every
	// run regardless of this variable.
	EnvAutoInit = "ZEROBREW_AUTO_INIT"

	// EnvYes bypasses interactive confirmation prompts when truthy.
	EnvYes = "ZEROBREW_YES"

	// DefaultConcurrency is the value of Config.Concurrency when neither
	// ZEROBREW_CONCURRENCY nor zerobrew.toml sets one.
	DefaultConcurrency = 20

	// DefaultRootDirName is the directory name under the user's home used
	// when ZEROBREW_ROOT is unset.
	DefaultRootDirName = ".zerobrew"

	// ProjectConfigFile is the optional project-local defaults file.
	ProjectConfigFile = "zerobrew.toml"
)

// Config holds the fully-resolved runtime configuration for one
// invocation of the engine.
type Config struct {
	Root        string
	Prefix      string
	Concurrency int
	AutoInit    bool
	Yes         bool
}

// projectFile mirrors the subset of zerobrew.toml that Load parses. Only
// concurrency is applied to Config; no_link is parsed but not applied.
type projectFile struct {
	Concurrency int  `toml:"concurrency"`
	NoLink      bool `toml:"no_link"`
}

// Load resolves configuration from environment variables, falling back to
// defaults (and an optional zerobrew.toml in the current directory) where
// unset or invalid.
func Load() (*Config, error) {
	root, err := Root()
	if err != nil {
		return nil, err
	}

	prefix := Prefix(root)

	cfg := &Config{
		Root:        root,
		Prefix:      prefix,
		Concurrency: Concurrency(),
		AutoInit:    truthy(os.Getenv(EnvAutoInit)),
		Yes:         truthy(os.Getenv(EnvYes)),
	}

	if pf, ok := loadProjectFile(ProjectConfigFile); ok && pf.Concurrency > 0 {
		if os.Getenv(EnvConcurrency) == "" {
			cfg.Concurrency = pf.Concurrency
		}
	}

	return cfg, nil
}

// Root returns <root>, the directory holding the content store and
// database. Defaults to ~/.zerobrew.
func Root() (string, error) {
	if v := os.Getenv(EnvRoot); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving default root: %w", err)
	}
	return filepath.Join(home, DefaultRootDirName), nil
}

// Prefix returns <prefix>, the user-visible install tree. Defaults to
// <root>/prefix.
func Prefix(root string) string {
	if v := os.Getenv(EnvPrefix); v != "" {
		return v
	}
	return filepath.Join(root, "prefix")
}

// Concurrency returns the configured plan concurrency from
// ZEROBREW_CONCURRENCY. If unset or invalid, returns DefaultConcurrency.
func Concurrency() int {
	v := os.Getenv(EnvConcurrency)
	if v == "" {
		return DefaultConcurrency
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n",
			EnvConcurrency, v, DefaultConcurrency)
		return DefaultConcurrency
	}
	if n > 256 {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%d), using maximum 256\n", EnvConcurrency, n)
		return 256
	}
	return n
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func loadProjectFile(path string) (projectFile, bool) {
	var pf projectFile
	if _, err := os.Stat(path); err != nil {
		return pf, false
	}
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to parse %s: %v\n", path, err)
		return pf, false
	}
	return pf, true
}
