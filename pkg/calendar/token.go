package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/cadencehq/calsync/internal/models"
	"github.com/cadencehq/calsync/internal/store"
)

const (
	// DefaultRefreshMargin is how close to expiry a token is refreshed
	// ahead of use.
	DefaultRefreshMargin = 5 * time.Minute

	// DefaultFailureThreshold is the number of consecutive refresh
	// failures after which a connection is deactivated.
	DefaultFailureThreshold = 3
)

// TokenManager owns the OAuth token lifecycle for one provider. Each provider
// client composes its own manager around that provider's oauth2 endpoint.
type TokenManager struct {
	oauth            *oauth2.Config
	store            store.ConnectionStore
	refreshMargin    time.Duration
	failureThreshold int
	logger           *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// TokenManagerOption customizes a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithRefreshMargin overrides the expiry safety margin.
func WithRefreshMargin(margin time.Duration) TokenManagerOption {
	return func(tm *TokenManager) { tm.refreshMargin = margin }
}

// WithFailureThreshold overrides the consecutive-failure deactivation threshold.
func WithFailureThreshold(n int) TokenManagerOption {
	return func(tm *TokenManager) { tm.failureThreshold = n }
}

// NewTokenManager creates a token manager for one provider's oauth2 config.
func NewTokenManager(cfg *oauth2.Config, st store.ConnectionStore, logger *slog.Logger, opts ...TokenManagerOption) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}

	tm := &TokenManager{
		oauth:            cfg,
		store:            st,
		refreshMargin:    DefaultRefreshMargin,
		failureThreshold: DefaultFailureThreshold,
		logger:           logger,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Token returns a valid access token for the connection, refreshing
// synchronously first if the stored token is within the safety margin of
// expiry. The passed connection is updated in place on refresh.
func (tm *TokenManager) Token(ctx context.Context, conn *models.CalendarConnection) (*oauth2.Token, error) {
	if !conn.TokenExpiresWithin(tm.refreshMargin, tm.now()) {
		return &oauth2.Token{
			AccessToken:  conn.AccessToken,
			RefreshToken: conn.RefreshToken,
			Expiry:       conn.TokenExpiry,
		}, nil
	}
	return tm.Refresh(ctx, conn)
}

// Refresh exchanges the refresh token for a new access token and persists it.
// On success the consecutive-failure counter resets; on failure it is
// incremented and, past the threshold, the connection is deactivated.
func (tm *TokenManager) Refresh(ctx context.Context, conn *models.CalendarConnection) (*oauth2.Token, error) {
	if conn.RefreshToken == "" {
		return nil, tm.recordFailure(ctx, conn, fmt.Errorf("connection %s has no refresh token", conn.ID))
	}

	src := tm.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tm.recordFailure(ctx, conn, err)
	}

	conn.AccessToken = tok.AccessToken
	conn.TokenExpiry = tok.Expiry
	if tok.RefreshToken != "" {
		conn.RefreshToken = tok.RefreshToken
	}
	conn.ConsecutiveFailures = 0
	conn.LastError = ""

	if err := tm.store.SaveConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("persisting refreshed tokens: %w", err)
	}

	tm.logger.Debug("refreshed access token",
		"connection_id", conn.ID,
		"provider", conn.Provider,
		"expiry", tok.Expiry)

	return tok, nil
}

func (tm *TokenManager) recordFailure(ctx context.Context, conn *models.CalendarConnection, cause error) error {
	conn.ConsecutiveFailures++
	conn.LastError = cause.Error()

	if conn.ConsecutiveFailures >= tm.failureThreshold {
		conn.IsActive = false
		tm.logger.Warn("deactivating connection after repeated refresh failures",
			"connection_id", conn.ID,
			"provider", conn.Provider,
			"failures", conn.ConsecutiveFailures)
	} else {
		tm.logger.Warn("token refresh failed",
			"connection_id", conn.ID,
			"provider", conn.Provider,
			"failures", conn.ConsecutiveFailures,
			"error", cause)
	}

	if err := tm.store.SaveConnection(ctx, conn); err != nil {
		tm.logger.Error("failed to persist refresh failure",
			"connection_id", conn.ID,
			"error", err)
	}

	return WrapError(CodeAuthenticationFailed, cause)
}
