package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zerobrew/internal/layout"
)

var runCmd = &cobra.Command{
	Use:                "run FORMULA [ARGS...]",
	Short:              "Exec a linked formula's binary, replacing the current process",
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		formula := args[0]
		rest := args[1:]

		a, err := newApp()
		if err != nil {
			return err
		}

		keg, err := a.db.GetInstalled(globalCtx, formula)
		if err != nil {
			a.Close()
			return err
		}
		if keg == nil {
			a.Close()
			return fmt.Errorf("formula %q is not installed", formula)
		}
		prefix := a.cfg.Prefix
		a.Close()

		bin, err := resolveBinary(prefix, formula, keg.Version)
		if err != nil {
			return err
		}

		argv := append([]string{bin}, rest...)
		return syscall.Exec(bin, argv, os.Environ())
	},
}

// resolveBinary finds the executable to run for formula: the linked
// <prefix>/bin/<formula> if present, falling back to the keg's own
// bin directory otherwise (a formula whose binary doesn't share its name).
func resolveBinary(prefix, formula, version string) (string, error) {
	linked := layout.LinkedPath(prefix, "bin", formula)
	if info, err := os.Stat(linked); err == nil && !info.IsDir() {
		return linked, nil
	}

	kegBin := filepath.Join(layout.KegPath(prefix, formula, version), "bin")
	entries, err := os.ReadDir(kegBin)
	if err != nil {
		return "", fmt.Errorf("no executable found for %s: %w", formula, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		return filepath.Join(kegBin, entry.Name()), nil
	}
	return "", fmt.Errorf("no executable found for %s", formula)
}
