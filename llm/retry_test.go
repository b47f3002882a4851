package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
}

func serverErr() error {
	return &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "server error"}, Retryable: true}}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 1.0, BackoffMultiplier: 2.0, MaxDelay: 5.0}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, expected := range want {
		if got := policy.Delay(attempt); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 1.0, BackoffMultiplier: 2.0, MaxDelay: 60.0, Jitter: true}
	for i := 0; i < 50; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		failures  int
		err       func() error
		wantCalls int
		wantErr   bool
	}{
		{"no error", 3, 0, serverErr, 1, false},
		{"recovers after transient failures", 3, 2, serverErr, 3, false},
		{"exhausts retries", 2, 10, serverErr, 3, true},
		{"non-retryable stops immediately", 3, 10, func() error {
			return &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}
		}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), fastPolicy(tt.retries), func(ctx context.Context) (string, error) {
				calls++
				if calls <= tt.failures {
					return "", tt.err()
				}
				return "ok", nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if !tt.wantErr && got != "ok" {
				t.Errorf("expected ok, got %q", got)
			}
			if calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 1.0, BackoffMultiplier: 1, MaxDelay: 1.0}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	calls := 0
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("always fails")
	})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %T (%v)", err, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestRetryHonorsRetryAfterCap(t *testing.T) {
	after := 120.0
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		return "", &RateLimitError{ProviderError: ProviderError{Retryable: true, RetryAfter: &after}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected Retry-After beyond max delay to stop retries, got %d calls", calls)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries != 2 || p.BaseDelay != 1.0 || p.MaxDelay != 60.0 || p.BackoffMultiplier != 2.0 || !p.Jitter {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
