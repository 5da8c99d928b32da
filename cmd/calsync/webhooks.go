package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "Manage push-notification channels",
}

var webhooksRenewCmd = &cobra.Command{
	Use:   "renew",
	Short: "Renew webhook channels expiring within the renewal window",
	RunE:  runWebhooksRenew,
}

var webhooksSetupCmd = &cobra.Command{
	Use:   "setup <connection-id>",
	Short: "Register a push-notification channel for a connection",
	Args:  cobra.ExactArgs(1),
	RunE:  runWebhooksSetup,
}

func init() {
	webhooksCmd.AddCommand(webhooksRenewCmd)
	webhooksCmd.AddCommand(webhooksSetupCmd)
	rootCmd.AddCommand(webhooksCmd)
}

func runWebhooksRenew(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orchestrator.RenewExpiringWebhooks(context.Background()); err != nil {
		return err
	}
	cmd.Println("Webhook renewal completed.")
	return nil
}

func runWebhooksSetup(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Sync.WebhookNotificationURL == "" {
		return fmt.Errorf("sync.webhook_notification_url is not configured")
	}

	ctx := context.Background()
	conn, err := a.store.GetConnection(ctx, args[0])
	if err != nil {
		return err
	}

	svc, err := a.factory.ServiceFor(conn.Provider)
	if err != nil {
		return err
	}

	info, err := svc.SetupWebhook(ctx, conn.ID, a.cfg.Sync.WebhookNotificationURL)
	if err != nil {
		return err
	}

	cmd.Printf("Channel %s established, expires %s.\n", info.WebhookID, info.Expiration.Format("2006-01-02 15:04:05"))
	return nil
}
