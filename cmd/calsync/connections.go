package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Manage calendar connections",
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active calendar connections",
	RunE:  runConnectionsList,
}

func init() {
	connectionsCmd.AddCommand(connectionsListCmd)
	rootCmd.AddCommand(connectionsCmd)
}

func runConnectionsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	conns, err := a.store.ListActiveConnections(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tEMAIL\tCURSOR\tLAST SYNC")
	for _, c := range conns {
		lastSync := "never"
		if c.LastIncrementalSyncAt != nil {
			lastSync = c.LastIncrementalSyncAt.Format("2006-01-02 15:04:05")
		} else if c.LastFullSyncAt != nil {
			lastSync = c.LastFullSyncAt.Format("2006-01-02 15:04:05")
		}
		cursor := "none"
		if c.SyncCursor != "" {
			cursor = "set"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Provider, c.Email, cursor, lastSync)
	}
	return w.Flush()
}
