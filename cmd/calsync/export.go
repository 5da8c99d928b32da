package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cadencehq/calsync/internal/feed"
)

var (
	exportOutput string
	exportDays   int
)

var exportCmd = &cobra.Command{
	Use:   "export <connection-id>",
	Short: "Export a connection's mirrored events as an ICS feed",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "output file, or - for stdout")
	exportCmd.Flags().IntVar(&exportDays, "days", 90, "export events within this many days in either direction")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()
	if exportOutput != "-" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	now := time.Now().UTC()
	window := time.Duration(exportDays) * 24 * time.Hour
	exporter := feed.NewExporter(a.store)
	return exporter.WriteICS(context.Background(), out, args[0], now.Add(-window), now.Add(window))
}
