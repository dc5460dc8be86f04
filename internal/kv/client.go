// Package kv provides a typed wrapper over the remote key/value store that
// backs the cache, the single-flight lock, and the rate limiter. It is the
// only component that imports the Redis driver directly; everything above
// it depends on the Client interface.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Client is the explicit backend interface the Cache, Lock, and RateLimit
// components depend on (spec.md §9's "duck-typed cache backend" →
// "explicit KV-client interface" re-architecture note). Any store meeting
// this contract — get/set-with-TTL, atomic set-if-absent, atomic
// compare-and-delete, a scripted atomic increment, prefix scan, and a
// liveness probe — satisfies spec.md §6's KV store contract.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	ScanPrefix(ctx context.Context, prefix string) (<-chan ScanEntry, error)
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	PingWithRetry(ctx context.Context, attempts int, baseDelay time.Duration) error
	Close() error
}

// ScanEntry is one key/value pair yielded by ScanPrefix.
type ScanEntry struct {
	Key   string
	Value []byte
	Err   error
}

// RedisClient implements Client atop go-redis, grounded on the teacher's
// internal/kv RedisCache connection-and-options setup, generalized from a
// simple JSON get/set cache to the full lock/scan/script contract the
// gateway's Cache and RateLimiter need.
type RedisClient struct {
	rdb    *redis.Client
	logger observability.Logger
}

// compareAndDeleteScript deletes key only if its current value equals
// ARGV[1], the lock compare-and-delete primitive from spec.md §4.5.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// NewRedisClient dials the backend at cfg options. It does not ping; the
// Lifecycle Controller owns startup probing (spec.md §4.6).
func NewRedisClient(addr, password string, db int, logger observability.Logger) *RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisClient{rdb: rdb, logger: logger.WithPrefix("kv")}
}

// NewRedisClientFromUniversalClient wraps an already-constructed redis
// client, used by tests to point the gateway at a miniredis instance.
func NewRedisClientFromUniversalClient(rdb *redis.Client, logger observability.Logger) *RedisClient {
	return &RedisClient{rdb: rdb, logger: logger.WithPrefix("kv")}
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

// SetNX is the atomic set-if-absent primitive used for lock acquisition and
// rate-limit bucket initialization.
func (c *RedisClient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv setnx %q: %w", key, err)
	}
	return ok, nil
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv del %q: %w", key, err)
	}
	return nil
}

// CompareAndDelete deletes key only if its stored value equals expected,
// via a Lua script so the check-and-delete is atomic — the safe lock
// release primitive of spec.md §4.5.
func (c *RedisClient) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := c.rdb.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Result()
	if err != nil {
		return false, fmt.Errorf("kv compare-and-delete %q: %w", key, err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// ScanPrefix enumerates all keys under prefix using a cursor-based SCAN,
// never KEYS, so it does not block the store while the cache grows (the
// §9 "semantic scan scalability" open question's mitigation starts here).
func (c *RedisClient) ScanPrefix(ctx context.Context, prefix string) (<-chan ScanEntry, error) {
	out := make(chan ScanEntry)
	go func() {
		defer close(out)
		var cursor uint64
		match := prefix + "*"
		for {
			keys, next, err := c.rdb.Scan(ctx, cursor, match, 200).Result()
			if err != nil {
				out <- ScanEntry{Err: fmt.Errorf("kv scan %q: %w", prefix, err)}
				return
			}
			for _, k := range keys {
				val, err := c.rdb.Get(ctx, k).Bytes()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					out <- ScanEntry{Err: fmt.Errorf("kv scan get %q: %w", k, err)}
					continue
				}
				select {
				case out <- ScanEntry{Key: k, Value: val}:
				case <-ctx.Done():
					return
				}
			}
			cursor = next
			if cursor == 0 {
				return
			}
		}
	}()
	return out, nil
}

// Eval runs a Lua script atomically server-side, used by the rate limiter
// for its read-refill-consume-write sequence (spec.md §4.2 step 5).
func (c *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := c.rdb.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("kv eval: %w", err)
	}
	return res, nil
}

// PingWithRetry probes the store with exponential backoff, grounded on the
// teacher's connectDatabase retry loop, generalized from a Postgres ping to
// a KV ping. Returns the last error if every attempt fails.
func (c *RedisClient) PingWithRetry(ctx context.Context, attempts int, baseDelay time.Duration) error {
	var lastErr error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err := c.rdb.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < attempts-1 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("kv unreachable after %d attempts: %w", attempts, lastErr)
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
