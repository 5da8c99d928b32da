package calendar

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cadencehq/calsync/internal/models"
)

// RateLimitConfig holds the sustained rate and burst size for one provider's API.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimits keeps well below the providers' published quotas.
var DefaultRateLimits = map[models.Provider]RateLimitConfig{
	models.ProviderGoogle:  {RequestsPerSecond: 5.0, BurstSize: 10},
	models.ProviderOutlook: {RequestsPerSecond: 4.0, BurstSize: 8},
}

// RateLimiter paces outbound API calls with a token bucket and honors
// provider backoff hints after a 429.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter creates a limiter with the provider's default config.
func NewRateLimiter(provider models.Provider) *RateLimiter {
	cfg, ok := DefaultRateLimits[provider]
	if !ok {
		cfg = RateLimitConfig{RequestsPerSecond: 4.0, BurstSize: 8}
	}
	return NewRateLimiterWithConfig(cfg)
}

// NewRateLimiterWithConfig creates a limiter with a custom config.
func NewRateLimiterWithConfig(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// Wait blocks until a request may be made, respecting any backoff window set
// by RecordRateLimitHit.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(retryAt)):
		}
	}

	return r.limiter.Wait(ctx)
}

// RecordRateLimitHit sets a backoff window after a 429 response, using the
// provider's Retry-After hint when present.
func (r *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryAt = time.Now().Add(retryAfter)
}
