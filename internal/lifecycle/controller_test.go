package lifecycle

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

func newTestController(t *testing.T) (*Controller, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := kv.NewRedisClientFromUniversalClient(rdb, observability.NewNoopLogger())
	return New(client, observability.NewNoopLogger()), mr
}

func TestProbeStartupSucceedsWhenReachable(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.ProbeStartup(context.Background(), 3))
}

func TestProbeStartupFailsWhenUnreachable(t *testing.T) {
	c, mr := newTestController(t)
	mr.Close()
	err := c.ProbeStartup(context.Background(), 2)
	require.Error(t, err)
}

func TestAdmitRejectsAfterShutdown(t *testing.T) {
	c, _ := newTestController(t)
	require.True(t, c.Admit())
	c.Release()

	c.BeginShutdown()
	require.False(t, c.Admit(), "Admit must reject once shutdown has begun")
}

func TestReleaseIsSingleDecrementSite(t *testing.T) {
	c, _ := newTestController(t)
	require.True(t, c.Admit())
	require.True(t, c.Admit())
	require.Equal(t, int64(2), c.InFlight())
	c.Release()
	require.Equal(t, int64(1), c.InFlight())
	c.Release()
	require.Equal(t, int64(0), c.InFlight())
}

func TestDrainReturnsOnceInFlightReachesZero(t *testing.T) {
	c, _ := newTestController(t)
	require.True(t, c.Admit())

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Release()
	}()

	start := time.Now()
	c.Drain(context.Background(), time.Second, 5*time.Millisecond)
	require.Less(t, time.Since(start), time.Second, "drain must return promptly once in-flight reaches zero")
	require.Equal(t, int64(0), c.InFlight())
}

func TestDrainReturnsAtDeadlineWithRequestsStillInFlight(t *testing.T) {
	c, _ := newTestController(t)
	require.True(t, c.Admit())

	start := time.Now()
	c.Drain(context.Background(), 30*time.Millisecond, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Equal(t, int64(1), c.InFlight(), "drain must not force-decrement in-flight on deadline")
}
