package hedge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRetryWithBackoffSucceedsOnFirstTry(t *testing.T) {
	t.Parallel()
	calls := 0
	err := retryWithBackoff(context.Background(), nil, testLogger(), "op", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	t.Parallel()
	calls := 0
	backoff := []time.Duration{time.Millisecond, time.Millisecond}
	err := retryWithBackoff(context.Background(), backoff, testLogger(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoffExhausted(t *testing.T) {
	t.Parallel()
	calls := 0
	backoff := []time.Duration{time.Millisecond}
	err := retryWithBackoff(context.Background(), backoff, testLogger(), "op", func() error {
		calls++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls (1 + 1 retry), got %d", calls)
	}
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backoff := []time.Duration{time.Second}
	calls := 0
	err := retryWithBackoff(ctx, backoff, testLogger(), "op", func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call before context cancellation aborts the wait, got %d", calls)
	}
}
