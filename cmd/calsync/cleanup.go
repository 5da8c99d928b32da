package main

import (
	"context"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [connection-id]",
	Short: "Prune mirrored events that ended long ago",
	Long:  "Prunes mirrored events for one connection, or for every connection (deactivated ones included) when no connection id is given.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "older-than-days", 0, "prune events that ended more than this many days ago (0 uses the configured default)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()

	var n int
	if len(args) == 1 {
		n, err = a.orchestrator.CleanupOldEvents(ctx, args[0], cleanupDays)
	} else {
		n, err = a.orchestrator.CleanupAllOldEvents(ctx, cleanupDays)
	}
	if err != nil {
		return err
	}

	cmd.Printf("Pruned %d events.\n", n)
	return nil
}
