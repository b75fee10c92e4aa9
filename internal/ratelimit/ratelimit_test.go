package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func newFixedLimiter(epoch int64) *Limiter {
	limiter := New()
	limiter.now = func() time.Time { return time.Unix(epoch, 0) }
	return limiter
}

func TestEnforceAllowsUpToLimit(t *testing.T) {
	limiter := newFixedLimiter(1200)

	for i := 0; i < 3; i++ {
		if err := limiter.Enforce("ask_per_minute", "1.2.3.4", 3, 60); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	err := limiter.Enforce("ask_per_minute", "1.2.3.4", 3, 60)
	var limited *LimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("attempt limit+1 = %v, want LimitExceededError", err)
	}
	if limited.RetryAfterSeconds < 1 || limited.RetryAfterSeconds > 60 {
		t.Errorf("retry_after = %d, want within (0, 60]", limited.RetryAfterSeconds)
	}
}

func TestEnforceRetryAfterCountsDownWindow(t *testing.T) {
	limiter := New()
	current := int64(1200) // window start for 60s windows
	limiter.now = func() time.Time { return time.Unix(current, 0) }

	if err := limiter.Enforce("b", "k", 1, 60); err != nil {
		t.Fatal(err)
	}
	current = 1245
	err := limiter.Enforce("b", "k", 1, 60)
	var limited *LimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("err = %v", err)
	}
	if limited.RetryAfterSeconds != 15 {
		t.Errorf("retry_after = %d, want 15", limited.RetryAfterSeconds)
	}
}

func TestEnforceWindowRollover(t *testing.T) {
	limiter := New()
	current := int64(1200)
	limiter.now = func() time.Time { return time.Unix(current, 0) }

	if err := limiter.Enforce("b", "k", 1, 60); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Enforce("b", "k", 1, 60); err == nil {
		t.Fatal("expected limit in same window")
	}

	current = 1260 // next window
	if err := limiter.Enforce("b", "k", 1, 60); err != nil {
		t.Errorf("fresh window should reset the counter: %v", err)
	}
}

func TestEnforceIsolatesBucketsAndKeys(t *testing.T) {
	limiter := newFixedLimiter(1200)

	if err := limiter.Enforce("minute", "a", 1, 60); err != nil {
		t.Fatal(err)
	}
	if err := limiter.Enforce("hour", "a", 1, 3600); err != nil {
		t.Errorf("separate bucket should not share counters: %v", err)
	}
	if err := limiter.Enforce("minute", "b", 1, 60); err != nil {
		t.Errorf("separate key should not share counters: %v", err)
	}
}

func TestEnforceZeroLimitDisabled(t *testing.T) {
	limiter := newFixedLimiter(1200)
	for i := 0; i < 100; i++ {
		if err := limiter.Enforce("b", "k", 0, 60); err != nil {
			t.Fatalf("limit 0 should disable enforcement: %v", err)
		}
	}
}
