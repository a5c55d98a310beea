package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient error")
	errPermanent = errors.New("permanent error")
)

func isTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestDo_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		failures   int
		failWith   error
		wantCalls  int
		wantErr    error
		wantResult int
	}{
		{name: "first attempt succeeds", maxRetries: 3, wantCalls: 1, wantResult: 42},
		{name: "recovers after transient failures", maxRetries: 3, failures: 2, failWith: errTransient, wantCalls: 3, wantResult: 42},
		{name: "permanent error is not retried", maxRetries: 3, failures: 10, failWith: errPermanent, wantCalls: 1, wantErr: errPermanent},
		{name: "budget exhausted", maxRetries: 2, failures: 10, failWith: errTransient, wantCalls: 3, wantErr: errTransient},
		{name: "zero retries means one attempt", maxRetries: 0, failures: 10, failWith: errTransient, wantCalls: 1, wantErr: errTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			result, err := Do(context.Background(), fastConfig(tt.maxRetries), isTransient, nil, func() (int, error) {
				calls++
				if calls <= tt.failures {
					return 0, tt.failWith
				}
				return 42, nil
			})

			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.wantResult {
				t.Errorf("expected result %d, got %d", tt.wantResult, result)
			}
		})
	}
}

func TestDo_PermanentErrorIsReturnedUnwrapped(t *testing.T) {
	_, err := Do(context.Background(), fastConfig(3), isTransient, nil, func() (int, error) {
		return 0, errPermanent
	})
	if err != errPermanent {
		t.Errorf("expected the original error value, got %v", err)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	cfg := Config{MaxRetries: 10, InitialBackoff: 100 * time.Millisecond}
	onRetry := func(int, error, time.Duration) { cancel() }

	_, err := Do(ctx, cfg, isTransient, onRetry, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_OnRetryReceivesAttemptsAndExponentialDelays(t *testing.T) {
	cfg := Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	var attempts []int
	var delays []time.Duration
	onRetry := func(attempt int, _ error, backoff time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, backoff)
	}

	_, _ = Do(context.Background(), cfg, isTransient, onRetry, func() (int, error) {
		return 0, errTransient
	})

	wantDelays := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(delays) != len(wantDelays) {
		t.Fatalf("expected %d retries, got %d", len(wantDelays), len(delays))
	}
	for i := range wantDelays {
		if attempts[i] != i+1 {
			t.Errorf("attempt[%d] = %d, want %d", i, attempts[i], i+1)
		}
		if delays[i] != wantDelays[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], wantDelays[i])
		}
	}
}

func TestDo_CapsBackoffAtMax(t *testing.T) {
	cfg := Config{
		MaxRetries:     4,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  3.0,
		Jitter:         true,
	}

	var delays []time.Duration
	onRetry := func(_ int, _ error, backoff time.Duration) { delays = append(delays, backoff) }

	_, _ = Do(context.Background(), cfg, isTransient, onRetry, func() (int, error) {
		return 0, errTransient
	})

	// Jitter spreads each delay by at most 50% around the capped interval.
	for i, d := range delays {
		if d > 15*time.Millisecond {
			t.Errorf("delay[%d] = %v exceeds jittered max", i, d)
		}
	}
}

func TestDoVoid_RetriesAndSucceeds(t *testing.T) {
	calls := 0
	err := DoVoid(context.Background(), fastConfig(3), isTransient, nil, func() error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestConfig_NewBackOffAppliesDefaults(t *testing.T) {
	b := Config{}.NewBackOff()
	if b.InitialInterval != 10*time.Millisecond {
		t.Errorf("expected default initial interval 10ms, got %v", b.InitialInterval)
	}
	if b.MaxInterval != 100*time.Millisecond {
		t.Errorf("expected default max interval 100ms, got %v", b.MaxInterval)
	}
	if b.RandomizationFactor != 0 {
		t.Errorf("expected no jitter, got %v", b.RandomizationFactor)
	}
}
