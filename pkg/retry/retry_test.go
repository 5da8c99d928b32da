package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// newTestRetryer returns a retryer with sleeping replaced by recording.
func newTestRetryer(config *Config, retryable func(error) bool) (*Retryer, *[]time.Duration) {
	r := New(config, retryable, nil)
	var delays []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return r, &delays
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	r, delays := newTestRetryer(nil, func(error) bool { return true })

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	config := &Config{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute}
	r, delays := newTestRetryer(config, func(error) bool { return true })

	want := errors.New("still failing")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return want
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// The last error must come back unchanged.
	if err != want {
		t.Errorf("Do() = %v, want the original error", err)
	}

	// Delays double per attempt: 1s then 2s.
	wantDelays := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(wantDelays) {
		t.Fatalf("slept %d times, want %d", len(*delays), len(wantDelays))
	}
	for i, d := range wantDelays {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], d)
		}
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	config := &Config{MaxAttempts: 5, BaseDelay: time.Second}
	r, delays := newTestRetryer(config, func(error) bool { return false })

	want := errors.New("permanent")
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return want
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != want {
		t.Errorf("Do() = %v, want the original error", err)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestDoRecoversAfterRetry(t *testing.T) {
	config := &Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
	r, _ := newTestRetryer(config, func(error) bool { return true })

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDelayCap(t *testing.T) {
	config := &Config{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	r := New(config, nil, nil)

	if d := r.delay(0); d != time.Second {
		t.Errorf("delay(0) = %v, want 1s", d)
	}
	if d := r.delay(2); d != 4*time.Second {
		t.Errorf("delay(2) = %v, want 4s", d)
	}
	if d := r.delay(6); d != 5*time.Second {
		t.Errorf("delay(6) = %v, want the 5s cap", d)
	}
}

func TestDoWithResult(t *testing.T) {
	config := &Config{MaxAttempts: 2, BaseDelay: time.Millisecond}
	r, _ := newTestRetryer(config, func(error) bool { return true })

	calls := 0
	got, err := DoWithResult(context.Background(), r, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if got != 42 {
		t.Errorf("DoWithResult() = %d, want 42", got)
	}
}

func TestDoRespectsContextDuringBackoff(t *testing.T) {
	config := &Config{MaxAttempts: 3, BaseDelay: time.Hour}
	r := New(config, func(error) bool { return true }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func() error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() = %v, want context.Canceled", err)
	}
}
