package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	policy := Policy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0.5}

	tests := []struct {
		attempt int
		random  float64
		want    time.Duration
	}{
		{attempt: 1, random: 0, want: 100 * time.Millisecond},
		{attempt: 2, random: 0, want: 200 * time.Millisecond},
		{attempt: 3, random: 0, want: 400 * time.Millisecond},
		{attempt: 1, random: 1, want: 150 * time.Millisecond},
		{attempt: 10, random: 0, want: 10000 * time.Millisecond}, // capped at MaxMs
	}
	for _, tt := range tests {
		if got := ComputeWithRand(policy, tt.attempt, tt.random); got != tt.want {
			t.Errorf("attempt=%d random=%v: expected %v, got %v", tt.attempt, tt.random, tt.want, got)
		}
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 2}
	calls := 0
	result, err := RetryWithBackoff(context.Background(), policy, 5, func(attempt int) (string, error) {
		calls++
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != "ok" || result.Attempts != 3 || calls != 3 {
		t.Errorf("unexpected result: %+v (calls=%d)", result, calls)
	}
}

func TestRetryWithBackoff_PermanentStopsImmediately(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 5, Factor: 2}
	terminal := errors.New("bad credentials")
	calls := 0
	_, err := RetryWithBackoff(context.Background(), policy, 5, func(attempt int) (string, error) {
		calls++
		return "", Permanent(terminal)
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("expected the wrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt for a permanent error, got %d", calls)
	}
}

func TestRetryWithBackoff_ExhaustsAttempts(t *testing.T) {
	policy := Policy{InitialMs: 1, MaxMs: 2, Factor: 1}
	last := errors.New("still down")
	result, err := RetryWithBackoff(context.Background(), policy, 3, func(attempt int) (int, error) {
		return 0, last
	})
	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Fatalf("expected ErrMaxAttemptsExhausted, got %v", err)
	}
	if result.Attempts != 3 || !errors.Is(result.LastError, last) {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	policy := Policy{InitialMs: 1000, MaxMs: 1000, Factor: 1}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := RetryWithBackoff(ctx, policy, 3, func(attempt int) (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry loop did not stop on context cancellation")
	}
}
