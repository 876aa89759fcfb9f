package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zerobrew/zerobrew/internal/config"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe the store, cellar, and database and re-initialize",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return runReset(cfg, yesFlag || cfg.Yes)
	},
}

func runReset(cfg *config.Config, yes bool) error {
	rootExists := dirExists(cfg.Root)
	prefixExists := dirExists(cfg.Prefix)
	if !rootExists && !prefixExists {
		fmt.Println("Nothing to reset - directories do not exist.")
		return nil
	}

	if !yes {
		fmt.Println("Warning: This will delete all zerobrew data at:")
		fmt.Printf("      - %s\n", cfg.Root)
		fmt.Printf("      - %s\n", cfg.Prefix)
		if !confirm("Continue?") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	for _, dir := range []string{cfg.Root, cfg.Prefix} {
		if !dirExists(dir) {
			continue
		}
		fmt.Printf("==> Clearing %s...\n", dir)
		if err := clearDirContents(dir); err != nil {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintf(os.Stderr, "error: failed to clear %s (permission denied, non-interactive mode)\n", dir)
				exitWithCode(ExitGeneral)
			}
			if sudoErr := sudoRemoveAll(dir); sudoErr != nil {
				fmt.Fprintf(os.Stderr, "error: failed to remove %s\n", dir)
				exitWithCode(ExitGeneral)
			}
		}
	}

	if err := runInit(cfg, false); err != nil {
		return err
	}

	fmt.Println("==> Reset complete. Ready for cold install.")
	return nil
}

func dirExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// clearDirContents removes everything inside dir without removing dir
// itself, so re-running init never needs elevated privileges to recreate it.
func clearDirContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := dir + string(os.PathSeparator) + entry.Name()
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

func sudoRemoveAll(dir string) error {
	cmd := exec.Command("sudo", "rm", "-rf", dir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
