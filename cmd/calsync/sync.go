package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync [connection-id]",
	Short: "Synchronise calendar connections",
	Long: `Triggers synchronisation. With a connection ID, only that connection
is synced; otherwise every active connection is synced once.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "force a full resync instead of an incremental one")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()

	if len(args) > 0 {
		id := args[0]
		cmd.Printf("Synchronising connection %s...\n", id)

		if syncFull {
			err = a.orchestrator.FullSyncConnection(ctx, id)
		} else {
			err = a.orchestrator.SyncConnection(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		cmd.Printf("Connection %s synchronised.\n", id)
		return nil
	}

	cmd.Println("Synchronising all active connections...")
	failures, err := a.orchestrator.SyncAllActiveConnections(ctx)
	if err != nil {
		return err
	}
	for id, ferr := range failures {
		cmd.PrintErrf("connection %s: %v\n", id, ferr)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d connection(s) failed to sync", len(failures))
	}

	cmd.Println("All connections synchronised.")
	return nil
}
