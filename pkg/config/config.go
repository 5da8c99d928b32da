// Package config loads the service configuration from YAML and applies
// defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cadencehq/calsync/internal/notify"
	"github.com/cadencehq/calsync/pkg/retry"
)

type Config struct {
	Database  DatabaseConfig     `yaml:"database"`
	NATS      *notify.NATSConfig `yaml:"nats"`
	Providers ProvidersConfig    `yaml:"providers"`
	Sync      SyncConfig         `yaml:"sync"`
	Retry     *retry.Config      `yaml:"retry"`
	Tokens    TokensConfig       `yaml:"tokens"`
	Logging   LoggingConfig      `yaml:"logging"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ProvidersConfig struct {
	Google  *OAuthConfig `yaml:"google"`
	Outlook *OAuthConfig `yaml:"outlook"`
}

type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`

	// Tenant applies to Outlook only.
	Tenant string `yaml:"tenant"`
}

type SyncConfig struct {
	Interval               time.Duration `yaml:"interval"`
	MaxConcurrentSyncs     int           `yaml:"max_concurrent_syncs"`
	BatchSize              int64         `yaml:"batch_size"`
	Lookback               time.Duration `yaml:"lookback"`
	Lookahead              time.Duration `yaml:"lookahead"`
	WebhookRenewalWindow   time.Duration `yaml:"webhook_renewal_window"`
	WebhookNotificationURL string        `yaml:"webhook_notification_url"`
	StaleLogAge            time.Duration `yaml:"stale_log_age"`
	CleanupOlderThanDays   int           `yaml:"cleanup_older_than_days"`
}

type TokensConfig struct {
	RefreshMargin    time.Duration `yaml:"refresh_margin"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		c.Database.Path = "calsync.db"
	}

	if c.Providers.Google == nil && c.Providers.Outlook == nil {
		return fmt.Errorf("at least one provider must be configured")
	}
	if g := c.Providers.Google; g != nil {
		if g.ClientID == "" || g.ClientSecret == "" {
			return fmt.Errorf("providers.google: client_id and client_secret are required")
		}
	}
	if o := c.Providers.Outlook; o != nil {
		if o.ClientID == "" || o.ClientSecret == "" {
			return fmt.Errorf("providers.outlook: client_id and client_secret are required")
		}
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.MaxConcurrentSyncs == 0 {
		c.Sync.MaxConcurrentSyncs = 4
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.Lookback == 0 {
		c.Sync.Lookback = 30 * 24 * time.Hour
	}
	if c.Sync.Lookahead == 0 {
		c.Sync.Lookahead = 90 * 24 * time.Hour
	}
	if c.Sync.WebhookRenewalWindow == 0 {
		c.Sync.WebhookRenewalWindow = 24 * time.Hour
	}
	if c.Sync.StaleLogAge == 0 {
		c.Sync.StaleLogAge = time.Hour
	}
	if c.Sync.CleanupOlderThanDays == 0 {
		c.Sync.CleanupOlderThanDays = 90
	}

	if c.Tokens.RefreshMargin == 0 {
		c.Tokens.RefreshMargin = 5 * time.Minute
	}
	if c.Tokens.FailureThreshold == 0 {
		c.Tokens.FailureThreshold = 3
	}

	if c.Retry == nil {
		c.Retry = retry.DefaultConfig()
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
