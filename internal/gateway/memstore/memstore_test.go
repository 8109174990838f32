package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSecrets_Latest(t *testing.T) {
	s := NewSecrets()
	ctx := context.Background()

	if _, err := s.FetchLatestSecret(ctx, "keys"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s.Put("keys", []byte("v1"))
	s.Put("keys", []byte("v2"))
	got, err := s.FetchLatestSecret(ctx, "keys")
	if err != nil || string(got) != "v2" {
		t.Errorf("FetchLatestSecret = %q, %v; want v2", got, err)
	}
}

func TestCounters_IncrementIfBelow(t *testing.T) {
	c := NewCounters()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, ok, err := c.IncrementIfBelow(ctx, "k", 3, time.Hour)
		if err != nil || !ok || count != i {
			t.Fatalf("request %d: count=%d ok=%v err=%v", i, count, ok, err)
		}
	}

	count, ok, err := c.IncrementIfBelow(ctx, "k", 3, time.Hour)
	if err != nil || ok || count != 3 {
		t.Errorf("over limit: count=%d ok=%v err=%v", count, ok, err)
	}
	if c.Count("k") != 3 {
		t.Errorf("count passed the limit: %d", c.Count("k"))
	}
}

func TestCounters_Expiry(t *testing.T) {
	now := time.Date(2025, 9, 29, 10, 0, 0, 0, time.UTC)
	c := NewCounters()
	c.SetClock(func() time.Time { return now })
	ctx := context.Background()

	c.IncrementIfBelow(ctx, "k", 1, time.Minute)
	if _, ok, _ := c.IncrementIfBelow(ctx, "k", 1, time.Minute); ok {
		t.Fatal("expected limit to be reached")
	}

	now = now.Add(time.Minute)
	if c.Count("k") != 0 {
		t.Errorf("expected expired counter to read zero")
	}
	if count, ok, _ := c.IncrementIfBelow(ctx, "k", 1, time.Minute); !ok || count != 1 {
		t.Errorf("expected fresh counter, got count=%d ok=%v", count, ok)
	}
}

func TestCounters_Concurrent(t *testing.T) {
	c := NewCounters()
	ctx := context.Background()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := c.IncrementIfBelow(ctx, "k", 20, time.Hour); ok {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != 20 {
		t.Errorf("admitted %d requests, want 20", admitted)
	}
}

func TestObjects(t *testing.T) {
	o := NewObjects()
	ctx := context.Background()

	o.Put("predictions/current.json", []byte(`{}`))
	got, err := o.ReadObject(ctx, "predictions/current.json")
	if err != nil || string(got) != `{}` {
		t.Errorf("ReadObject = %q, %v", got, err)
	}

	o.Delete("predictions/current.json")
	if _, err := o.ReadObject(ctx, "predictions/current.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := o.ReadObject(cancelled, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
