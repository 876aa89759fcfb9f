package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerobrew/zerobrew/internal/bundle"
)

var (
	bundleFile   string
	bundleNoLink bool
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Install every formula listed in a Brewfile",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(bundleFile)
		if err != nil {
			return fmt.Errorf("opening %s: %w", bundleFile, err)
		}
		defer f.Close()

		names, err := bundle.Parse(f)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("nothing to install")
			return nil
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.inst.Plan(globalCtx, names)
		if err != nil {
			return err
		}
		if err := a.inst.Execute(globalCtx, plan, bundleNoLink); err != nil {
			return err
		}

		for _, artifact := range plan.Artifacts {
			fmt.Printf("installed %s %s\n", artifact.Name, artifact.Version)
		}
		return nil
	},
}

func init() {
	bundleCmd.Flags().StringVarP(&bundleFile, "file", "f", "Brewfile", "path to the Brewfile")
	bundleCmd.Flags().BoolVar(&bundleNoLink, "no-link", false, "materialize kegs without linking them into the prefix")
}
