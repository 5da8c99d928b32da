// Package retry provides a small exponential-backoff executor driven by an
// injected retryability predicate, so it stays independent of any provider.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Config holds retry tuning.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      bool          `yaml:"jitter"`
}

// DefaultConfig returns sensible defaults: three attempts, one second base
// delay doubled per attempt.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      true,
	}
}

// Operation is a retriable operation.
type Operation func() error

// Retryer retries operations whose failures the predicate marks retryable.
// The last error is returned unchanged once attempts are exhausted, or
// immediately when the predicate rejects it.
type Retryer struct {
	config    *Config
	retryable func(error) bool
	logger    *slog.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Retryer. A nil predicate retries nothing.
func New(config *Config, retryable func(error) bool, logger *slog.Logger) *Retryer {
	if config == nil {
		config = DefaultConfig()
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Retryer{
		config:    config,
		retryable: retryable,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Do executes the operation with exponential backoff.
func (r *Retryer) Do(ctx context.Context, operation Operation) error {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt - 1)
			r.logger.Debug("retrying after backoff",
				"attempt", attempt+1,
				"max_attempts", r.config.MaxAttempts,
				"delay", delay,
				"last_error", lastErr)

			if err := r.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("operation succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		if !r.retryable(err) {
			return err
		}
	}

	r.logger.Warn("retry attempts exhausted",
		"attempts", r.config.MaxAttempts,
		"last_error", lastErr)
	return lastErr
}

// DoWithResult executes an operation returning a value with retry semantics.
func DoWithResult[T any](ctx context.Context, r *Retryer, operation func() (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func() error {
		var opErr error
		result, opErr = operation()
		return opErr
	})
	return result, err
}

// delay is base × 2^attempt, capped at MaxDelay, with optional 10% jitter.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(r.config.MaxDelay); r.config.MaxDelay > 0 && d > max {
		d = max
	}
	if r.config.Jitter {
		d += rand.Float64() * 0.1 * d
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
