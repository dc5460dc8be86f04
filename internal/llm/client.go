// Package llm implements the bounded-latency LLM producer call of spec.md
// §4.3: retry with exponential backoff, per-attempt timeout, cost
// accounting, and non-retryable auth failures. The circuit breaker that
// wraps Client lives in breaker.go.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// Request is the bounded call's input (spec.md §4.3).
type Request struct {
	Prompt          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// Completion is the bounded call's output.
type Completion struct {
	Text             string
	InputTokens      int
	OutputTokens     int
	Cost             float64
	LatencyMS        int64
}

// Client performs the HTTP call to the configured LLM endpoint with retry
// and cost accounting. It is grounded on pkg/adapters/resilience/retry.go's
// Retry helper, generalized from that package's generic retryable-fetch
// idiom into a typed LLM completion call.
type Client struct {
	endpoint       string
	timeout        time.Duration
	maxAttempts    int
	inputUnitCost  float64
	outputUnitCost float64
	http           *http.Client
	logger         observability.Logger

	onCost func(inputTokens, outputTokens int, cost float64)
}

// New constructs an llm.Client.
func New(endpoint string, timeout time.Duration, maxAttempts int, inputUnitCost, outputUnitCost float64, logger observability.Logger) *Client {
	return &Client{
		endpoint:       endpoint,
		timeout:        timeout,
		maxAttempts:    maxAttempts,
		inputUnitCost:  inputUnitCost,
		outputUnitCost: outputUnitCost,
		http:           &http.Client{Timeout: timeout},
		logger:         logger.WithPrefix("llm"),
	}
}

// OnCost registers a callback invoked with each successful completion's
// token counts and cost, used by internal/metrics to feed
// llm_tokens_total and llm_cost_total.
func (c *Client) OnCost(fn func(inputTokens, outputTokens int, cost float64)) { c.onCost = fn }

type wireRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_output_tokens"`
}

type wireResponse struct {
	CompletionText   string `json:"completion_text"`
	InputTokenCount  int    `json:"input_token_count"`
	OutputTokenCount int    `json:"output_token_count"`
}

// Complete calls the LLM producer, retrying transient failures up to
// maxAttempts with 1s/2s/4s backoff (spec.md §4.3). 401/403 responses fail
// immediately as gatewayerr.AuthConfigError without retry. A timed-out
// attempt counts as a failure and is retried according to policy.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 4 * time.Second
	bo := backoff.WithMaxRetries(policy, uint64(c.maxAttempts-1))
	bo = backoff.WithContext(bo, ctx)

	var out Completion
	op := func() error {
		resp, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}

	err := backoff.Retry(op, bo)
	if err != nil {
		if ge, ok := err.(*gatewayerr.Error); ok {
			return Completion{}, ge
		}
		return Completion{}, gatewayerr.Wrap(gatewayerr.LLMUnavailable, "llm producer call failed after retries", err)
	}

	out.LatencyMS = time.Since(start).Milliseconds()
	cost := float64(out.InputTokens)*c.inputUnitCost + float64(out.OutputTokens)*c.outputUnitCost
	out.Cost = cost
	if c.onCost != nil {
		c.onCost(out.InputTokens, out.OutputTokens, cost)
	}
	return out, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (Completion, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(wireRequest{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxOutputTokens,
	})
	if err != nil {
		return Completion{}, backoff.Permanent(fmt.Errorf("llm: marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Completion{}, backoff.Permanent(fmt.Errorf("llm: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Connection errors and context deadline exceeded are transient.
		return Completion{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, backoff.Permanent(gatewayerr.New(gatewayerr.AuthConfigError,
			fmt.Sprintf("llm producer rejected credentials: %s", string(b))))
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, fmt.Errorf("llm: transient producer error %d: %s", resp.StatusCode, string(b))
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, backoff.Permanent(fmt.Errorf("llm: producer returned status %d: %s", resp.StatusCode, string(b)))
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Completion{}, fmt.Errorf("llm: decode response: %w", err)
	}

	return Completion{
		Text:         wire.CompletionText,
		InputTokens:  wire.InputTokenCount,
		OutputTokens: wire.OutputTokenCount,
	}, nil
}
