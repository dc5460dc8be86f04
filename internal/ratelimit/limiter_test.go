package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

func newTestLimiter(t *testing.T, capacity, refillPerSecond float64) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := kv.NewRedisClientFromUniversalClient(rdb, observability.NewNoopLogger())
	return New(client, "scg-rl", capacity, refillPerSecond, observability.NewNoopLogger())
}

func TestCheckAndConsumeAllowsWithinCapacity(t *testing.T) {
	l := newTestLimiter(t, 3, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.CheckAndConsume(ctx, "cred-a")
		require.NoError(t, err)
		require.True(t, d.Allowed, "attempt %d should be allowed within capacity", i)
		require.Equal(t, 3, d.Capacity, "Capacity must report the configured bucket size, not the remaining count")
	}
}

func TestCheckAndConsumeDeniesOverCapacity(t *testing.T) {
	l := newTestLimiter(t, 1, 0.01)
	ctx := context.Background()

	d, err := l.CheckAndConsume(ctx, "cred-a")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.CheckAndConsume(ctx, "cred-a")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.Equal(t, 1, d.Capacity, "Capacity must stay fixed at the configured bucket size even when denied")
}

func TestCheckAndConsumeZeroCapacityAlwaysDenies(t *testing.T) {
	l := newTestLimiter(t, 0, 1)
	d, err := l.CheckAndConsume(context.Background(), "cred-a")
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestCheckAndConsumeBucketsAreIndependentPerCredential(t *testing.T) {
	l := newTestLimiter(t, 1, 0.01)
	ctx := context.Background()

	d1, err := l.CheckAndConsume(ctx, "cred-a")
	require.NoError(t, err)
	require.True(t, d1.Allowed)

	d2, err := l.CheckAndConsume(ctx, "cred-b")
	require.NoError(t, err)
	require.True(t, d2.Allowed, "a distinct credential must have its own bucket")
}

func TestCheckAndConsumeDegradesWhenKVUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := kv.NewRedisClientFromUniversalClient(rdb, observability.NewNoopLogger())
	l := New(client, "scg-rl", 5, 1, observability.NewNoopLogger())

	var degraded bool
	l.OnDegraded(func() { degraded = true })

	mr.Close()

	d, err := l.CheckAndConsume(context.Background(), "cred-a")
	require.NoError(t, err, "degraded mode must not surface the KV error to the caller")
	require.True(t, d.Allowed)
	require.True(t, degraded, "OnDegraded callback must fire when the KV call fails")
}
