// Package ratelimit implements fixed-window in-process counters keyed by
// client identity and bucket.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// LimitExceededError is raised on the first attempt past the window limit.
type LimitExceededError struct {
	RetryAfterSeconds int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Retry after %ds.", e.RetryAfterSeconds)
}

type counterKey struct {
	bucket      string
	key         string
	windowStart int64
}

// Limiter counts requests per (bucket, key, window).
type Limiter struct {
	mu     sync.Mutex
	counts map[counterKey]int
	now    func() time.Time
}

// New builds an empty limiter.
func New() *Limiter {
	return &Limiter{
		counts: make(map[counterKey]int),
		now:    time.Now,
	}
}

// Enforce increments the counter for (bucket, key) in the current window and
// fails when the count has already reached limit. A non-positive limit
// disables the bucket.
func (l *Limiter) Enforce(bucket, key string, limit, windowSeconds int) error {
	if limit <= 0 {
		return nil
	}

	now := l.now().Unix()
	windowStart := now - (now % int64(windowSeconds))
	counter := counterKey{bucket: bucket, key: key, windowStart: windowStart}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.counts[counter]
	if current >= limit {
		retryAfter := int(int64(windowSeconds) - (now - windowStart))
		if retryAfter < 1 {
			retryAfter = 1
		}
		return &LimitExceededError{RetryAfterSeconds: retryAfter}
	}
	l.counts[counter] = current + 1
	return nil
}

// Clear drops all counters; used by tests.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = make(map[counterKey]int)
}
