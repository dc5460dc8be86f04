// Package lifecycle implements spec.md §4.6: startup dependency probing
// with backoff, an in-flight request counter, and a shutdown drain with
// deadline. Grounded on the teacher's cmd/loader/main.go graceful-shutdown
// shape (signal channel, context.WithTimeout shutdown context) and
// connectDatabase's retry-with-backoff loop, generalized from a Postgres
// ping to a KV ping.
package lifecycle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// Controller owns the in-flight counter and shutdown flag shared across
// every request handler. There is exactly one decrement site
// (Release, deferred by every caller of Admit) so a negative in-flight
// count is structurally impossible (spec.md §4.6).
type Controller struct {
	kv       kv.Client
	logger   observability.Logger
	inFlight atomic.Int64
	shutdown atomic.Bool
}

// New constructs a Controller.
func New(client kv.Client, logger observability.Logger) *Controller {
	return &Controller{kv: client, logger: logger.WithPrefix("lifecycle")}
}

// ProbeStartup retries a KV ping with exponential backoff (1s, 2s, 4s, up
// to maxAttempts) and returns an error if the store is still unreachable
// after exhausting attempts — a fatal startup condition (spec.md §4.6).
// The embedding and LLM clients are deliberately not probed here; they are
// failure-tolerated at request time.
func (c *Controller) ProbeStartup(ctx context.Context, maxAttempts int) error {
	if err := c.kv.PingWithRetry(ctx, maxAttempts, time.Second); err != nil {
		return fmt.Errorf("lifecycle: kv store unreachable at startup: %w", err)
	}
	return nil
}

// Admit checks the shutdown flag before incrementing InFlightCount, so a
// late-arriving request cannot slip past a shutdown that is already in
// progress (spec.md §4.6's ordering invariant). It returns false if the
// process is shutting down.
func (c *Controller) Admit() bool {
	if c.shutdown.Load() {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// Release is the single decrement site for InFlightCount, called exactly
// once per Admit that returned true, on every exit path (success, error,
// or cancellation).
func (c *Controller) Release() {
	c.inFlight.Add(-1)
}

// InFlight returns the current in-flight request count.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// BeginShutdown sets the shutdown flag; subsequent Admit calls fail.
func (c *Controller) BeginShutdown() {
	c.shutdown.Store(true)
}

// ShuttingDown reports whether shutdown has begun.
func (c *Controller) ShuttingDown() bool {
	return c.shutdown.Load()
}

// Drain polls InFlight at pollInterval until it reaches zero or deadline
// elapses, then returns. Callers close remote clients and exit after
// Drain returns, regardless of whether it reached zero (spec.md §4.6).
func (c *Controller) Drain(ctx context.Context, deadline, pollInterval time.Duration) {
	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if c.InFlight() <= 0 {
			return
		}
		select {
		case <-ticker.C:
			continue
		case <-deadlineCtx.Done():
			c.logger.Warn("shutdown drain deadline reached with requests still in flight", map[string]interface{}{
				"in_flight": c.InFlight(),
			})
			return
		}
	}
}
