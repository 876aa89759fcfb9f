package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zerobrew/zerobrew/internal/config"
	"github.com/zerobrew/zerobrew/internal/download"
	"github.com/zerobrew/zerobrew/internal/migrate"
)

var (
	migrateYes   bool
	migrateForce bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate installed Homebrew formulas to zerobrew",
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := migrate.Collect(globalCtx)
		if err != nil {
			return err
		}

		if len(plan.Formulas) == 0 {
			fmt.Println("no homebrew/core formulas to migrate")
			printSkipped(plan)
			return nil
		}

		fmt.Println("will migrate:")
		for _, f := range plan.Formulas {
			fmt.Printf("  %s\n", f.Name)
		}
		printSkipped(plan)

		if !migrateYes && !yesFlag && !isTruthy(os.Getenv(config.EnvYes)) && !confirm("proceed?") {
			fmt.Println("aborted")
			return nil
		}

		names := make([]string, len(plan.Formulas))
		for i, f := range plan.Formulas {
			names[i] = f.Name
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		installPlan, err := a.inst.Plan(globalCtx, names)
		if err != nil {
			return err
		}

		installPlan.Artifacts = filterAlreadyInstalled(globalCtx, a, installPlan.Artifacts, migrateForce)
		if len(installPlan.Artifacts) == 0 {
			fmt.Println("nothing left to migrate")
			return nil
		}

		if err := a.inst.Execute(globalCtx, installPlan, false); err != nil {
			return err
		}

		fmt.Printf("migrated %d formulas\n", len(installPlan.Artifacts))
		return nil
	},
}

// filterAlreadyInstalled drops artifacts that zerobrew already has at an
// equal or newer version, unless force is set, so migrate never
// silently re-churns an up-to-date install.
func filterAlreadyInstalled(ctx context.Context, a *app, artifacts []download.Artifact, force bool) []download.Artifact {
	kept := artifacts[:0]
	for _, artifact := range artifacts {
		keg, err := a.db.GetInstalled(ctx, artifact.Name)
		if err != nil || keg == nil {
			kept = append(kept, artifact)
			continue
		}
		if migrate.SkipOverwrite(keg.Version, artifact.Version, force) {
			fmt.Printf("  skipping %s (already installed at %s)\n", artifact.Name, keg.Version)
			continue
		}
		kept = append(kept, artifact)
	}
	return kept
}

func printSkipped(plan migrate.Plan) {
	for _, f := range plan.NonCoreFormulas {
		fmt.Printf("  skipping %s (tap %s is not homebrew/core)\n", f.Name, f.Tap)
	}
	for _, c := range plan.Casks {
		fmt.Printf("  skipping %s (cask)\n", c.Name)
	}
}

// confirm prompts on a TTY; on a non-interactive stdin it defaults to
// no, requiring --yes for unattended use.
func confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func init() {
	migrateCmd.Flags().BoolVarP(&migrateYes, "yes", "y", false, "skip confirmation prompt")
	migrateCmd.Flags().BoolVar(&migrateForce, "force", false, "migrate even if zerobrew already has a formula installed")
}
