package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var installNoLink bool

var installCmd = &cobra.Command{
	Use:   "install NAMES...",
	Short: "Install one or more formulas",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.inst.Plan(globalCtx, args)
		if err != nil {
			return err
		}
		if err := a.inst.Execute(globalCtx, plan, installNoLink); err != nil {
			return err
		}

		for _, artifact := range plan.Artifacts {
			fmt.Printf("installed %s %s\n", artifact.Name, artifact.Version)
		}
		return nil
	},
}

func init() {
	installCmd.Flags().BoolVar(&installNoLink, "no-link", false, "materialize kegs without linking them into the prefix")
}
