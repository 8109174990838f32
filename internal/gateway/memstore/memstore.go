// Package memstore holds in-process implementations of the gateway's
// external stores, for local mode and tests. State lives only as long as
// the process and is not shared between replicas.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown secrets and objects
var ErrNotFound = errors.New("not found")

// Secrets is a versioned secret store
type Secrets struct {
	mu       sync.RWMutex
	versions map[string][][]byte
}

// NewSecrets creates an empty secret store
func NewSecrets() *Secrets {
	return &Secrets{versions: make(map[string][][]byte)}
}

// Put adds a new version of name
func (s *Secrets) Put(name string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[name] = append(s.versions[name], append([]byte(nil), payload...))
}

// FetchLatestSecret returns the newest version of name
func (s *Secrets) FetchLatestSecret(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("secret %s: %w", name, ErrNotFound)
	}
	return append([]byte(nil), versions[len(versions)-1]...), nil
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// Counters is an expiring counter store with an atomic conditional increment
type Counters struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewCounters creates an empty counter store
func NewCounters() *Counters {
	return &Counters{counters: make(map[string]*counter), now: time.Now}
}

// SetClock replaces the time source used for expiry
func (c *Counters) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// IncrementIfBelow increments key when its count is below limit. The TTL
// is set when the counter is created.
func (c *Counters) IncrementIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ctr, ok := c.counters[key]
	if !ok || (!ctr.expiresAt.IsZero() && !now.Before(ctr.expiresAt)) {
		ctr = &counter{}
		if ttl > 0 {
			ctr.expiresAt = now.Add(ttl)
		}
		c.counters[key] = ctr
	}

	if ctr.count >= limit {
		return ctr.count, false, nil
	}
	ctr.count++
	return ctr.count, true, nil
}

// Count returns the current value of key, zero when absent or expired
func (c *Counters) Count(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctr, ok := c.counters[key]
	if !ok || (!ctr.expiresAt.IsZero() && !c.now().Before(ctr.expiresAt)) {
		return 0
	}
	return ctr.count
}

// Objects is an object store keyed by path
type Objects struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewObjects creates an empty object store
func NewObjects() *Objects {
	return &Objects{objects: make(map[string][]byte)}
}

// Put stores data at path
func (o *Objects) Put(path string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[path] = append([]byte(nil), data...)
}

// Delete removes path
func (o *Objects) Delete(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, path)
}

// ReadObject returns the object at path
func (o *Objects) ReadObject(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	data, ok := o.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", path, ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
