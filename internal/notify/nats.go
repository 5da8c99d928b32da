package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS publisher configuration.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// DefaultNATSConfig returns a default NATS configuration.
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:            nats.DefaultURL,
		SubjectPrefix:  "calsync",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
	}
}

// NATSNotifier publishes sync lifecycle events to NATS.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier connects to NATS with the given configuration.
func NewNATSNotifier(config *NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	options := []nats.Option{
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(config.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}

	logger.Info("NATS notifier initialized",
		"url", config.URL,
		"subject_prefix", config.SubjectPrefix,
		"connected_url", conn.ConnectedUrl())

	return &NATSNotifier{
		conn:   conn,
		prefix: config.SubjectPrefix,
		logger: logger,
	}, nil
}

// PublishSyncEvent publishes a sync lifecycle event on <prefix>.<subject>.
func (n *NATSNotifier) PublishSyncEvent(ctx context.Context, subject string, ev *SyncEvent) error {
	if n.conn == nil || n.conn.IsClosed() {
		return fmt.Errorf("NATS connection is not available")
	}

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	full := n.prefix + "." + subject
	if err := n.conn.Publish(full, data); err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}

	n.logger.Debug("Published sync event",
		"subject", full,
		"connection_id", ev.ConnectionID,
		"provider", ev.Provider)

	return nil
}

// IsHealthy checks if the NATS connection is usable.
func (n *NATSNotifier) IsHealthy() error {
	if n.conn == nil {
		return fmt.Errorf("NATS connection is nil")
	}
	if n.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !n.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn != nil && !n.conn.IsClosed() {
		if err := n.conn.FlushTimeout(5 * time.Second); err != nil {
			n.logger.Warn("Failed to flush messages on close", "error", err)
		}
		n.conn.Close()
		n.logger.Info("NATS notifier closed")
	}
	return nil
}

var _ Notifier = (*NATSNotifier)(nil)
var _ Notifier = Noop{}
