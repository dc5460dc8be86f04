package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// BreakerState mirrors spec.md §3's three states, numbered per spec.md
// §4.8's breaker_state gauge convention (0=CLOSED, 1=HALF_OPEN, 2=OPEN).
// gobreaker's own gobreaker.State ordering is StateClosed=0, StateHalfOpen=1,
// StateOpen=2 — identical to the spec's numbering, so StateGaugeValue below
// maps each state to that same number.
type BreakerState = gobreaker.State

// BreakerClient wraps Client with a three-state circuit breaker
// (spec.md §4.3), grounded on
// apps/rag-loader/internal/resilience/circuit_breaker.go's
// StateClosed/Open/HalfOpen logging shape but backed by
// github.com/sony/gobreaker so the CLOSED→OPEN→HALF_OPEN→CLOSED
// transitions and "never compute now-null" defensiveness around the
// cooldown timestamp are handled by a maintained library instead of
// hand-rolled state.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger

	onStateChange func(from, to gobreaker.State)
}

// NewBreakerClient wraps client with a breaker that opens after
// failureThreshold consecutive failures and attempts a HALF_OPEN probe
// after cooldown has elapsed.
func NewBreakerClient(client *Client, failureThreshold int, cooldown time.Duration, logger observability.Logger) *BreakerClient {
	bc := &BreakerClient{client: client, logger: logger.WithPrefix("llm-breaker")}

	settings := gobreaker.Settings{
		Name:    "llm-producer",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			bc.logger.Info("circuit breaker transition", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			if bc.onStateChange != nil {
				bc.onStateChange(from, to)
			}
		},
	}
	bc.cb = gobreaker.NewCircuitBreaker(settings)
	return bc
}

// OnStateChange registers a callback used by internal/metrics to update
// the breaker_state gauge.
func (bc *BreakerClient) OnStateChange(fn func(from, to gobreaker.State)) { bc.onStateChange = fn }

// State returns the breaker's current state.
func (bc *BreakerClient) State() gobreaker.State { return bc.cb.State() }

// Complete calls the wrapped Client through the breaker. While OPEN, calls
// never reach the remote producer; gobreaker.ErrOpenState is translated to
// gatewayerr.LLMUnavailable (spec.md §4.3's fast-fail path).
func (bc *BreakerClient) Complete(ctx context.Context, req Request) (Completion, error) {
	res, err := bc.cb.Execute(func() (interface{}, error) {
		return bc.client.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Completion{}, gatewayerr.Wrap(gatewayerr.LLMUnavailable, "circuit breaker open", err)
		}
		if ge, ok := err.(*gatewayerr.Error); ok {
			return Completion{}, ge
		}
		return Completion{}, gatewayerr.Wrap(gatewayerr.LLMUnavailable, "llm call failed", err)
	}
	return res.(Completion), nil
}

// StateGaugeValue maps a gobreaker.State to spec.md §4.8's
// breaker_state gauge value.
func StateGaugeValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
