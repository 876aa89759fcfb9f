package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zerobrew/internal/config"
	"github.com/zerobrew/zerobrew/internal/db"
	"github.com/zerobrew/zerobrew/internal/layout"
)

var initNoModifyPath bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create <root> and <prefix> and, unless --no-modify-path, wire <prefix>/bin onto PATH",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := runInit(cfg, initNoModifyPath); err != nil {
			return err
		}
		fmt.Println("Initialized zerobrew.")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initNoModifyPath, "no-modify-path", false, "don't append a PATH line to the shell rc file")
}

// runInit creates the directories every other command assumes exist,
// opens (creating) the database, and idempotently wires <prefix>/bin
// onto PATH via the user's shell rc file.
func runInit(cfg *config.Config, noModifyPath bool) error {
	if err := os.MkdirAll(filepath.Join(cfg.Root, "store"), 0o755); err != nil {
		return fmt.Errorf("creating store dir: %w", err)
	}
	if err := os.MkdirAll(layout.CellarRoot(cfg.Prefix), 0o755); err != nil {
		return fmt.Errorf("creating Cellar dir: %w", err)
	}

	database, err := db.Open(layout.DatabasePath(cfg.Root))
	if err != nil {
		return err
	}
	database.Close()

	if !noModifyPath {
		if err := modifyShellRC(cfg.Prefix); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not modify shell rc file: %v\n", err)
		}
	}

	return nil
}

const pathSentinel = "# added by zerobrew"

// modifyShellRC appends a PATH export line for <prefix>/bin to the rc
// file implied by $SHELL, skipping if the sentinel comment is already
// present.
func modifyShellRC(prefix string) error {
	rc, exportLine := shellRCFor(os.Getenv("SHELL"), prefix)
	if rc == "" {
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	rcPath := filepath.Join(home, rc)

	existing, err := os.ReadFile(rcPath)
	if err == nil && strings.Contains(string(existing), pathSentinel) {
		return nil
	}

	f, err := os.OpenFile(rcPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "\n%s\n%s\n", pathSentinel, exportLine)
	return w.Flush()
}

func shellRCFor(shell, prefix string) (rcFile, exportLine string) {
	bin := filepath.Join(prefix, "bin")
	switch {
	case strings.Contains(shell, "zsh"):
		return ".zshrc", fmt.Sprintf("export PATH=%q:$PATH", bin)
	case strings.Contains(shell, "bash"):
		return ".bashrc", fmt.Sprintf("export PATH=%q:$PATH", bin)
	case strings.Contains(shell, "fish"):
		return filepath.Join(".config", "fish", "config.fish"), fmt.Sprintf("set -gx PATH %s $PATH", bin)
	default:
		return "", ""
	}
}
