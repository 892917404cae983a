package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", policy.MaxRetries)
	}
	if policy.InitialDelay != 1*time.Second {
		t.Errorf("Expected InitialDelay=1s, got %v", policy.InitialDelay)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("Default policy should be valid: %v", err)
	}
}

func TestPolicyCalculateDelay(t *testing.T) {
	policy := Policy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
	}

	for _, test := range tests {
		if actual := policy.CalculateDelay(test.retryCount); actual != test.expected {
			t.Errorf("retry %d: expected %v, got %v", test.retryCount, test.expected, actual)
		}
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"rate limit", errors.New("status 429: Too Many Requests"), true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), false},
		{"bad request", errors.New("status 400: invalid model"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsRetriableError(test.err); got != test.want {
				t.Errorf("Expected %v, got %v", test.want, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	bad := Policy{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond, BackoffMultiplier: 2}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error when InitialDelay exceeds MaxDelay")
	}
}

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), fastPolicy(3), nil, "test", func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("service unavailable")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Errorf("Expected ok after 3 attempts, got %q after %d", got, attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(3), nil, "test", func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("invalid api key")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected a single attempt, got %d", attempts)
	}
}

func TestDoExhaustsPolicy(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), fastPolicy(2), nil, "test", func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("timeout")
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 1}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, nil, "test", func(ctx context.Context) (int, error) {
			return 0, errors.New("timeout")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
