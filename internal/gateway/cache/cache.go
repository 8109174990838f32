package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/models"
	"github.com/rs/zerolog"
)

// ObjectStore reads published objects by path
type ObjectStore interface {
	ReadObject(ctx context.Context, path string) ([]byte, error)
}

// Cache serves the prediction artifact published by the batch job while
// it is fresh. It never writes.
type Cache struct {
	store   ObjectStore
	path    string
	ttl     time.Duration
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a cache reading path from store. timeout bounds each read.
func New(store ObjectStore, path string, ttl, timeout time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		store:   store,
		path:    path,
		ttl:     ttl,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// SetClock replaces the time source used to age artifacts
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the freshness window
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached artifact if it exists and is fresh. Absent,
// unreadable, undated, unpriced and stale artifacts are all misses.
func (c *Cache) Get(ctx context.Context) (*models.PredictionArtifact, bool) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := c.store.ReadObject(ctx, c.path)
	if err != nil {
		c.log.Debug().Err(err).Str("path", c.path).Msg("cache miss")
		return nil, false
	}

	var artifact models.PredictionArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("cached prediction undecodable")
		return nil, false
	}
	if artifact.GeneratedAt.IsZero() {
		c.log.Warn().Str("path", c.path).Msg("cached prediction has no generated_at")
		return nil, false
	}
	if artifact.PredictedPriceUSD <= 0 {
		c.log.Warn().Float64("price", artifact.PredictedPriceUSD).Str("path", c.path).Msg("cached prediction has no valid price")
		return nil, false
	}

	age := c.now().Sub(artifact.GeneratedAt.Time)
	if age > c.ttl {
		c.log.Debug().Dur("age", age).Msg("cached prediction stale")
		return nil, false
	}

	return &artifact, true
}
