// Package ratelimit implements the per-credential token bucket of spec.md
// §4.2, backed by an atomic Lua script run through the KV client so
// multiple gateway replicas share bucket state. It is a generalization of
// the teacher's pkg/auth/rate_limiter.go cache-backed attempt counter and
// apps/rag-loader/internal/resilience/rate_limiter.go token-bucket math
// from a local in-memory bucket to a KV-scripted one.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// Decision is the outcome of CheckAndConsume (spec.md §4.2 return shape).
type Decision struct {
	Allowed    bool
	Capacity   int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// refillScript atomically performs spec.md §4.2 steps 1-4: read
// (tokens, last_refill), compute the lazy refill, and either consume one
// token and write back, or write back the refilled amount and report
// denial. It returns {allowed, remaining}; CheckAndConsume derives
// retry_after from remaining. KEYS[1] is the bucket key; ARGV are
// capacity, refill_per_second, now (unix seconds as a float string), and
// ttl_seconds for the stored bucket key.
const refillScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local raw = redis.call("GET", key)
local tokens = capacity
local last_refill = now
if raw then
  local decoded = cjson.decode(raw)
  tokens = decoded["tokens"]
  last_refill = decoded["last_refill"]
end

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
local refilled = tokens + elapsed * refill_rate
if refilled > capacity then refilled = capacity end

local allowed = 0
local remaining = refilled
if refilled >= 1 then
  allowed = 1
  remaining = refilled - 1
end

local encoded = cjson.encode({tokens = remaining, last_refill = now})
redis.call("SET", key, encoded, "EX", ttl)

return {allowed, tostring(remaining)}
`

// Limiter is the token-bucket rate limiter keyed per credential.
type Limiter struct {
	kv              kv.Client
	logger          observability.Logger
	prefix          string
	capacity        float64
	refillPerSecond float64
	bucketTTL       time.Duration

	// degraded is the process-local fallback used only when the KV call
	// for CheckAndConsume itself fails (never for cache lookups), mirroring
	// the teacher's degraded-mode pattern in
	// pkg/embedding/cache/fallback_cache.go generalized from the cache to
	// the limiter.
	degraded *rate.Limiter
	onDegraded func()
}

// New constructs a Limiter. capacity and refillPerSecond come from
// config.RateLimitConfig; bucketTTL bounds how long an idle bucket's key
// lives in the KV store (set generously relative to the refill window so
// a bucket does not reset mid-burst).
func New(client kv.Client, prefix string, capacity, refillPerSecond float64, logger observability.Logger) *Limiter {
	bucketTTL := 10 * time.Minute
	return &Limiter{
		kv:              client,
		logger:          logger.WithPrefix("ratelimit"),
		prefix:          prefix,
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
		bucketTTL:       bucketTTL,
		degraded:        rate.NewLimiter(rate.Limit(refillPerSecond), int(capacity)),
	}
}

// OnDegraded registers a callback invoked whenever CheckAndConsume falls
// back to the process-local limiter, used by cmd/server/main.go to
// increment the rate_limit_degraded_total counter.
func (l *Limiter) OnDegraded(fn func()) { l.onDegraded = fn }

func (l *Limiter) key(credential string) string { return l.prefix + ":" + credential }

// CheckAndConsume performs spec.md §4.2's atomic read-refill-consume-write
// sequence for credential. capacity == 0 always denies (spec.md §8
// boundary behavior).
func (l *Limiter) CheckAndConsume(ctx context.Context, credential string) (Decision, error) {
	if l.capacity <= 0 {
		return Decision{Allowed: false, Capacity: 0, Remaining: 0, ResetAt: time.Now(), RetryAfter: time.Second}, nil
	}

	now := float64(time.Now().UnixNano()) / 1e9
	res, err := l.kv.Eval(ctx, refillScript, []string{l.key(credential)},
		l.capacity, l.refillPerSecond, now, int(l.bucketTTL.Seconds()))
	if err != nil {
		return l.degradedCheck(credential)
	}

	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed := toInt64(pair[0]) == 1

	var remaining float64
	if s, ok := pair[1].(string); ok {
		_, _ = fmt.Sscanf(s, "%f", &remaining)
	}

	d := Decision{
		Allowed:   allowed,
		Capacity:  int(l.capacity),
		Remaining: int(remaining),
		ResetAt:   time.Now().Add(time.Duration((l.capacity-remaining)/maxFloat(l.refillPerSecond, 0.0001)) * time.Second),
	}
	if !allowed {
		d.RetryAfter = time.Duration((1 - remaining) / maxFloat(l.refillPerSecond, 0.0001) * float64(time.Second))
	}
	return d, nil
}

// degradedCheck is used only when the KV store itself is unreachable for
// the limiter call; it never substitutes for a successful cache lookup
// elsewhere in the pipeline.
func (l *Limiter) degradedCheck(credential string) (Decision, error) {
	if l.onDegraded != nil {
		l.onDegraded()
	}
	l.logger.Warn("rate limiter degraded: falling back to in-process bucket", map[string]interface{}{
		"credential_suffix": suffix(credential),
	})
	if l.degraded.Allow() {
		return Decision{Allowed: true, Capacity: int(l.capacity), Remaining: int(l.capacity) - 1, ResetAt: time.Now().Add(time.Second)}, nil
	}
	return Decision{Allowed: false, Capacity: int(l.capacity), RetryAfter: time.Second, ResetAt: time.Now().Add(time.Second)}, nil
}

func suffix(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

