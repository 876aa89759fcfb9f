package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uninstallAll bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall NAMES...",
	Short: "Uninstall one or more formulas",
	Args: func(cmd *cobra.Command, args []string) error {
		if !uninstallAll && len(args) == 0 {
			return fmt.Errorf("requires at least one formula name, or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		freed, err := a.inst.Uninstall(globalCtx, args, uninstallAll)
		if err != nil {
			return err
		}

		if len(freed) > 0 {
			fmt.Printf("%d store entries eligible for gc\n", len(freed))
		}
		return nil
	},
}

func init() {
	uninstallCmd.Flags().BoolVar(&uninstallAll, "all", false, "uninstall every installed formula")
}
