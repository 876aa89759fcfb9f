package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info NAME",
	Short: "Show details about an installed formula",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		name := args[0]
		keg, err := a.db.GetInstalled(globalCtx, name)
		if err != nil {
			return err
		}
		if keg == nil {
			fmt.Printf("Formula '%s' is not installed.\n", name)
			return nil
		}

		printField("Name:", keg.Name)
		printField("Version:", keg.Version)
		printField("Store key:", keg.StoreKey[:12])
		printField("Installed:", formatTimestamp(keg.InstalledAt))
		return nil
	},
}

func printField(label, value string) {
	fmt.Printf("%-10s  %s\n", label, value)
}

// formatTimestamp renders an installed_at time the way the original
// CLI's info command does: an absolute timestamp plus a relative
// day/hour/minute suffix, coarsest unit first.
func formatTimestamp(t time.Time) string {
	local := t.Local()
	now := time.Now()
	d := now.Sub(local)

	switch {
	case int(d.Hours()/24) > 0:
		return fmt.Sprintf("%s (%d days ago)", local.Format("2006-01-02"), int(d.Hours()/24))
	case int(d.Hours()) > 0:
		return fmt.Sprintf("%s (%d hours ago)", local.Format("2006-01-02 15:04"), int(d.Hours()))
	default:
		return fmt.Sprintf("%s (%d minutes ago)", local.Format("15:04"), int(d.Minutes()))
	}
}
