package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove store entries no longer referenced by any installed formula",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Running garbage collection...")

		removed, err := a.inst.GC(globalCtx)
		if err != nil {
			return err
		}

		if len(removed) == 0 {
			fmt.Println("No unreferenced store entries to remove.")
			return nil
		}

		for _, key := range removed {
			fmt.Printf("    Removed %s\n", key[:12])
		}

		plural := "ies"
		if len(removed) == 1 {
			plural = "y"
		}
		fmt.Printf("Removed %d store entr%s.\n", len(removed), plural)
		return nil
	},
}
