package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/auth"
	"github.com/rs/zerolog"
)

// Window is the length of one quota bucket
const Window = time.Hour

// bucketFormat names the UTC hour a bucket covers
const bucketFormat = "2006010215"

// CounterStore increments a named counter only while it is below limit.
// The check and the increment must be a single atomic operation.
type CounterStore interface {
	IncrementIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (count int64, allowed bool, err error)
}

// Decision is the outcome of one quota check
type Decision struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	ResetAt           time.Time
	RetryAfterSeconds int64

	// Degraded is set when the counter store could not be reached and the
	// request was let through unchecked
	Degraded bool
}

// Limiter enforces a fixed number of requests per key per UTC hour
type Limiter struct {
	store   CounterStore
	limit   int64
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a limiter. timeout bounds each store call.
func New(store CounterStore, limit int64, timeout time.Duration, log zerolog.Logger) *Limiter {
	return &Limiter{
		store:   store,
		limit:   limit,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// SetClock replaces the time source used to pick the hour bucket
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Limit returns the configured requests per window
func (l *Limiter) Limit() int64 {
	return l.limit
}

// CheckAndIncrement records one request for key if it fits in the current
// hour's quota. Store failures let the request through.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string) Decision {
	now := l.now().UTC()
	resetAt := now.Truncate(Window).Add(Window)
	bucket := BucketKey(key, now)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	// The bucket name already pins the hour; the TTL only cleans up
	count, allowed, err := l.store.IncrementIfBelow(ctx, bucket, l.limit, resetAt.Sub(now)+time.Minute)
	if err != nil {
		l.log.Warn().
			Err(err).
			Str("bucket", bucket).
			Msg("rate limit store unavailable, allowing request")
		return Decision{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: l.limit,
			ResetAt:   resetAt,
			Degraded:  true,
		}
	}

	if !allowed {
		return Decision{
			Allowed:           false,
			Limit:             l.limit,
			Remaining:         0,
			ResetAt:           resetAt,
			RetryAfterSeconds: retryAfter(now, resetAt),
		}
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// BucketKey names the counter for key during the UTC hour containing t
func BucketKey(key string, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", auth.KeyHash(key), t.UTC().Format(bucketFormat))
}

// retryAfter is the whole number of seconds until resetAt, at least 1
func retryAfter(now, resetAt time.Time) int64 {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
