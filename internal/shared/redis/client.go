package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// New creates a Redis client. Connections are dialed on first use.
func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Every call is bounded; the caller's context usually tightens this further
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	return &Client{client: redis.NewClient(opts)}, nil
}

// Ping checks that Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// ReadObject returns the object stored under path.
// Published artifacts (model bundle, cached prediction, feature snapshot)
// are plain string keys named by their object path.
func (c *Client) ReadObject(ctx context.Context, path string) ([]byte, error) {
	val, err := c.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", path, err)
	}
	return []byte(val), nil
}

// incrementIfBelowLua increments KEYS[1] only while it is below ARGV[1].
// The TTL is set once, on the first increment of the key.
// Returns {allowed, count}.
var incrementIfBelowLua = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current >= tonumber(ARGV[1]) then
		return {0, current}
	end
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return {1, count}
`)

// IncrementIfBelow atomically increments the counter at key if it is below limit.
// It returns the counter value after the call and whether the increment happened.
// The check and the increment run as one script, so concurrent callers across
// gateway instances can never both be admitted at limit-1.
func (c *Client) IncrementIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	res, err := incrementIfBelowLua.Run(ctx, c.client, []string{key}, limit, ttlSeconds).Result()
	if err != nil {
		return 0, false, fmt.Errorf("increment %q: %w", key, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, false, fmt.Errorf("increment %q: unexpected script result %v", key, res)
	}
	allowed, ok1 := vals[0].(int64)
	count, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("increment %q: unexpected script result %v", key, res)
	}

	return count, allowed == 1, nil
}
