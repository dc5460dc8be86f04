// Package embedding implements the text→vector remote call of spec.md
// §4.4: one HTTP attempt, a configurable timeout, no retry. Degrading the
// orchestrator to skip the semantic stage on failure is the caller's
// responsibility, not this package's.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// Client calls the configured embedding producer endpoint.
type Client struct {
	endpoint string
	dim      int
	timeout  time.Duration
	http     *http.Client
	logger   observability.Logger
}

// New constructs an embedding Client bound to endpoint, asserting the
// producer's output dimensionality against dim (spec.md §4.4: a mismatch
// is a configuration error, not a per-request error, and is checked once
// at startup via Probe, not on every call).
func New(endpoint string, dim int, timeout time.Duration, logger observability.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		dim:      dim,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.WithPrefix("embedding"),
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed performs one bounded-timeout HTTP call and returns the vector. No
// retry by default — any failure is returned immediately for the caller to
// degrade on.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding: producer returned status %d: %s", resp.StatusCode, string(b))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return out.Embedding, nil
}

// Probe calls Embed once against a fixed probe string and asserts the
// returned dimensionality matches the configured embedding_dim. It runs
// once at startup and only returns the error: cmd/server/main.go logs a
// failed probe, whether the producer was unreachable or returned the wrong
// dimension, as a warning, and startup does not abort.
func (c *Client) Probe(ctx context.Context) error {
	vec, err := c.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("embedding probe failed: %w", err)
	}
	if len(vec) != c.dim {
		return fmt.Errorf("embedding producer returned dimension %d, configured embedding_dim is %d", len(vec), c.dim)
	}
	return nil
}

// Dim returns the configured embedding dimensionality.
func (c *Client) Dim() int { return c.dim }
