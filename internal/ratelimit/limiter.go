package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"loomspace.org/internal/obs"
)

// Counter is the narrow interface over the shared counter store. The
// increment must be atomic with its TTL: two concurrent callers on the same
// key must observe distinct counts, never a read-modify-write race that
// admits both past a limit.
type Counter interface {
	IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (count int64, expiresAt time.Time, err error)
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RateLimitedError carries the retry-after hint for callers implementing
// backoff. The core itself never delays or queues.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Limiter counts hits in fixed windows per key. The first hit starts the
// window; hits beyond maxAttempts within it are denied with the time left
// until the window resets.
type Limiter struct {
	counter Counter
	now     func() time.Time
}

// Option configures Limiter behavior.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

func NewLimiter(counter Counter, opts ...Option) (*Limiter, error) {
	if counter == nil {
		return nil, errors.New("ratelimit: counter is required")
	}
	l := &Limiter{counter: counter, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check records one hit for the key and reports whether it is admitted.
// A store failure is returned as-is: the caller decides whether to fail open
// or closed, the limiter never silently does either.
func (l *Limiter) Check(ctx context.Context, key string, maxAttempts int64, window time.Duration) (Decision, error) {
	if key == "" || maxAttempts <= 0 || window <= 0 {
		return Decision{}, errors.New("ratelimit: key, maxAttempts and window are required")
	}
	count, expiresAt, err := l.counter.IncrementAndGet(ctx, key, window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: counter increment: %w", err)
	}
	if count > maxAttempts {
		retry := expiresAt.Sub(l.now())
		if retry < time.Second {
			retry = time.Second
		}
		obs.ObserveRateLimitDenial(keyClass(key))
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true}, nil
}

// Enforce is Check folded into an error: denial comes back as a
// *RateLimitedError so callers have one branch point.
func (l *Limiter) Enforce(ctx context.Context, key string, maxAttempts int64, window time.Duration) error {
	d, err := l.Check(ctx, key, maxAttempts, window)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}
	return nil
}

// keyClass is the key prefix before the first colon, used as a bounded metric
// label.
func keyClass(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
