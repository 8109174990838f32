package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/memstore"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/redis"
	"github.com/rs/zerolog"
)

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time { return c.t }

func newTestLimiter(store CounterStore, limit int64, c *clock) *Limiter {
	l := New(store, limit, time.Second, zerolog.Nop())
	l.SetClock(c.now)
	return l
}

func TestCheckAndIncrement_RejectsOverLimit(t *testing.T) {
	c := &clock{t: time.Date(2025, 9, 29, 10, 59, 30, 0, time.UTC)}
	l := newTestLimiter(memstore.NewCounters(), 3, c)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		d := l.CheckAndIncrement(ctx, "k-acme-123")
		if !d.Allowed || d.Remaining != 3-i {
			t.Fatalf("request %d: %+v", i, d)
		}
	}

	d := l.CheckAndIncrement(ctx, "k-acme-123")
	if d.Allowed {
		t.Fatal("request limit+1 should be rejected")
	}
	if d.RetryAfterSeconds != 30 {
		t.Errorf("RetryAfterSeconds = %d, want 30", d.RetryAfterSeconds)
	}
	if d.Remaining != 0 || d.Limit != 3 {
		t.Errorf("unexpected metadata %+v", d)
	}
	if want := time.Date(2025, 9, 29, 11, 0, 0, 0, time.UTC); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
	}

	// Other keys have their own quota
	if d := l.CheckAndIncrement(ctx, "k-globex-456"); !d.Allowed {
		t.Error("a different key should not share the quota")
	}
}

func TestCheckAndIncrement_HourBoundaryResets(t *testing.T) {
	c := &clock{t: time.Date(2025, 9, 29, 10, 59, 59, 0, time.UTC)}
	l := newTestLimiter(memstore.NewCounters(), 2, c)
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "k")
	l.CheckAndIncrement(ctx, "k")
	if d := l.CheckAndIncrement(ctx, "k"); d.Allowed || d.RetryAfterSeconds != 1 {
		t.Fatalf("expected rejection with 1s retry, got %+v", d)
	}

	c.t = c.t.Add(time.Second)
	d := l.CheckAndIncrement(ctx, "k")
	if !d.Allowed || d.Remaining != 1 {
		t.Errorf("new hour should start from zero, got %+v", d)
	}
}

func TestCheckAndIncrement_RetryAfterRoundsUp(t *testing.T) {
	c := &clock{t: time.Date(2025, 9, 29, 10, 59, 59, 500_000_000, time.UTC)}
	l := newTestLimiter(memstore.NewCounters(), 1, c)
	ctx := context.Background()

	l.CheckAndIncrement(ctx, "k")
	if d := l.CheckAndIncrement(ctx, "k"); d.RetryAfterSeconds != 1 {
		t.Errorf("RetryAfterSeconds = %d, want 1", d.RetryAfterSeconds)
	}
}

type failingStore struct{}

func (failingStore) IncrementIfBelow(context.Context, string, int64, time.Duration) (int64, bool, error) {
	return 0, false, errors.New("connection refused")
}

func TestCheckAndIncrement_FailsOpen(t *testing.T) {
	c := &clock{t: time.Date(2025, 9, 29, 10, 0, 0, 0, time.UTC)}
	l := newTestLimiter(failingStore{}, 100, c)

	for i := 0; i < 200; i++ {
		d := l.CheckAndIncrement(context.Background(), "k")
		if !d.Allowed || !d.Degraded {
			t.Fatalf("request %d: expected degraded allow, got %+v", i, d)
		}
	}
}

func TestBucketKey(t *testing.T) {
	at := time.Date(2025, 9, 29, 17, 4, 52, 0, time.FixedZone("CST", -6*3600))
	key := BucketKey("k-acme-123", at)

	if !strings.HasPrefix(key, "ratelimit:") || !strings.HasSuffix(key, ":2025092923") {
		t.Errorf("unexpected bucket key %q", key)
	}
	if len(strings.Split(key, ":")[1]) != 16 {
		t.Errorf("expected 16-char key hash in %q", key)
	}
	if strings.Contains(key, "k-acme-123") {
		t.Error("bucket key must not contain the raw API key")
	}
}

func TestCheckAndIncrement_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.New("redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	c := &clock{t: time.Date(2025, 9, 29, 10, 30, 0, 0, time.UTC)}
	l := newTestLimiter(client, 2, c)
	ctx := context.Background()

	if d := l.CheckAndIncrement(ctx, "k"); !d.Allowed || d.Remaining != 1 {
		t.Fatalf("first request: %+v", d)
	}
	l.CheckAndIncrement(ctx, "k")
	if d := l.CheckAndIncrement(ctx, "k"); d.Allowed || d.RetryAfterSeconds != 1800 {
		t.Errorf("third request: %+v", d)
	}

	bucket := BucketKey("k", c.t)
	if got, _ := mr.Get(bucket); got != "2" {
		t.Errorf("stored count = %q, want 2", got)
	}
	if ttl := mr.TTL(bucket); ttl <= 30*time.Minute {
		t.Errorf("expected TTL past the hour boundary, got %v", ttl)
	}

	mr.Close()
	if d := l.CheckAndIncrement(ctx, "k"); !d.Allowed || !d.Degraded {
		t.Errorf("expected fail-open with store down, got %+v", d)
	}
}
