// Package orchestrator implements the query execution pipeline of spec.md
// §4.7: exact lookup, embedding, semantic lookup, single-flight lock,
// double-check, bounded LLM invocation, write-back, and response assembly.
// The teacher has no equivalent single-flight LLM-cache pipeline; this is
// new code built in the teacher's service-layer idiom (a struct holding
// injected collaborators with one public entry point per use case, as in
// apps/rag-loader/internal/service and pkg/services/base_service.go).
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/S-Corkum/semantic-cache-gateway/internal/cache"
	"github.com/S-Corkum/semantic-cache-gateway/internal/embedding"
	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/llm"
	"github.com/S-Corkum/semantic-cache-gateway/internal/metrics"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// Request is the internal representation of submit_query (spec.md §6).
type Request struct {
	Prompt               string
	Model                string
	Temperature          float64
	MaxOutputTokens      int
	SimilarityThreshold  float64
}

// Response is the internal representation of query_result (spec.md §6).
type Response struct {
	Response       string
	CacheHit       bool
	HitType        string // "exact", "semantic", or ""
	SimilarityScore *float64
	MatchedPrompt  *string
	TokensUsed     int
	Cost           float64
	LatencyMS      int64
}

// Orchestrator wires the Cache, Embedding Client, and breaker-wrapped LLM
// Client together into the pipeline of spec.md §4.7. One instance is
// constructed at startup by the Lifecycle Controller's caller
// (cmd/server/main.go) and shared by every request.
type Orchestrator struct {
	cache       *cache.Cache
	embedder    *embedding.Client
	llmClient   *llm.BreakerClient
	metrics     *metrics.Recorder
	logger      observability.Logger

	defaultModel        string
	responseTTL         time.Duration
	lockTTL             time.Duration
	lockWaitDeadline    time.Duration
	lockPollInterval    time.Duration
}

// Config bundles the constructor's tunables.
type Config struct {
	DefaultModel     string
	ResponseTTL      time.Duration
	LockTTL          time.Duration
	LockWaitDeadline time.Duration
	LockPollInterval time.Duration
}

// New constructs an Orchestrator.
func New(c *cache.Cache, embedder *embedding.Client, llmClient *llm.BreakerClient, rec *metrics.Recorder, logger observability.Logger, cfg Config) *Orchestrator {
	if cfg.LockPollInterval <= 0 {
		cfg.LockPollInterval = 100 * time.Millisecond
	}
	return &Orchestrator{
		cache:            c,
		embedder:         embedder,
		llmClient:        llmClient,
		metrics:          rec,
		logger:           logger.WithPrefix("orchestrator"),
		defaultModel:     cfg.DefaultModel,
		responseTTL:      cfg.ResponseTTL,
		lockTTL:          cfg.LockTTL,
		lockWaitDeadline: cfg.LockWaitDeadline,
		lockPollInterval: cfg.LockPollInterval,
	}
}

// ExecuteQuery runs the full pipeline of spec.md §4.7 for one request.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = o.defaultModel
	}
	threshold := req.SimilarityThreshold

	fp := cache.NewFingerprint(req.Prompt, model)

	// Step 2: exact lookup.
	if resp, hit, err := o.tryExact(ctx, fp, req.Prompt, start); err != nil {
		return Response{}, err
	} else if hit {
		return resp, nil
	}

	// Step 3: embedding, computed before the lock so a successful LLM path
	// can store it on write-back. A failure here degrades to the LLM path
	// by skipping the semantic stage — it is never surfaced to the caller.
	queryEmbedding, embErr := o.embedder.Embed(ctx, req.Prompt)
	if embErr != nil {
		o.logger.Warn("embedding call failed, degrading to LLM path", map[string]interface{}{
			"error": embErr.Error(),
		})
		queryEmbedding = nil
	}

	// Step 4: semantic lookup.
	if queryEmbedding != nil {
		if resp, hit, err := o.trySemantic(ctx, queryEmbedding, threshold, start); err != nil {
			return Response{}, err
		} else if hit {
			return resp, nil
		}
	}

	// Step 5: single-flight lock acquisition.
	holderID := uuid.NewString()
	acquired, err := o.cache.TryAcquireLock(ctx, fp, holderID, o.lockTTL)
	if err != nil {
		return Response{}, gatewayerr.Wrap(gatewayerr.DependencyUnavailable, "lock acquisition failed", err)
	}

	if !acquired {
		// Wait path: poll the cache, not the lock (cache writes and lock
		// release are not atomic as a pair, so the cache is the signal a
		// waiter should observe).
		if resp, hit := o.waitForEntry(ctx, fp, req.Prompt, start); hit {
			return resp, nil
		}
		// Timeout: proceed as if we had acquired the lock (availability
		// over strict single-flight; the holder may have crashed).
		return o.invokeAndStore(ctx, fp, req, model, queryEmbedding, start)
	}

	defer func() { _ = o.cache.ReleaseLock(ctx, fp, holderID) }()

	// Step 6: double-check — another holder may have filled the cache
	// between our first checks and our lock acquisition.
	if resp, hit, err := o.tryExact(ctx, fp, req.Prompt, start); err != nil {
		return Response{}, err
	} else if hit {
		return resp, nil
	}
	if queryEmbedding != nil {
		if resp, hit, err := o.trySemantic(ctx, queryEmbedding, threshold, start); err != nil {
			return Response{}, err
		} else if hit {
			return resp, nil
		}
	}

	// Step 7: LLM invocation, write-back, and response assembly.
	return o.invokeAndStore(ctx, fp, req, model, queryEmbedding, start)
}

func (o *Orchestrator) tryExact(ctx context.Context, fp cache.Fingerprint, prompt string, start time.Time) (Response, bool, error) {
	entry, hit, err := o.cache.GetExact(ctx, fp)
	if err != nil {
		return Response{}, false, gatewayerr.Wrap(gatewayerr.DependencyUnavailable, "exact cache lookup failed", err)
	}
	if !hit {
		return Response{}, false, nil
	}
	o.metrics.RecordCacheOutcome("exact")
	sim := 1.0
	return Response{
		Response:        entry.Response,
		CacheHit:        true,
		HitType:         "exact",
		SimilarityScore: &sim,
		MatchedPrompt:   &prompt,
		TokensUsed:      0,
		Cost:            0,
		LatencyMS:       time.Since(start).Milliseconds(),
	}, true, nil
}

func (o *Orchestrator) trySemantic(ctx context.Context, queryEmbedding []float32, threshold float64, start time.Time) (Response, bool, error) {
	match, err := o.cache.FindSemanticMatch(ctx, cache.Embedding(queryEmbedding), threshold)
	if err != nil {
		return Response{}, false, gatewayerr.Wrap(gatewayerr.DependencyUnavailable, "semantic cache lookup failed", err)
	}
	o.metrics.SetCacheScanEntries(int(o.cache.Counters().StoredItemEstimate))
	if match == nil {
		return Response{}, false, nil
	}
	o.metrics.RecordCacheOutcome("semantic")
	sim := match.Similarity
	prompt := match.Prompt
	return Response{
		Response:        match.Response,
		CacheHit:        true,
		HitType:         "semantic",
		SimilarityScore: &sim,
		MatchedPrompt:   &prompt,
		TokensUsed:      0,
		Cost:            0,
		LatencyMS:       time.Since(start).Milliseconds(),
	}, true, nil
}

// waitForEntry polls GetExact at lockPollInterval until it observes an
// entry or lockWaitDeadline elapses (spec.md §4.7's wait path).
func (o *Orchestrator) waitForEntry(ctx context.Context, fp cache.Fingerprint, prompt string, start time.Time) (Response, bool) {
	deadline := time.Now().Add(o.lockWaitDeadline)
	ticker := time.NewTicker(o.lockPollInterval)
	defer ticker.Stop()

	for {
		if entry, hit, err := o.cache.GetExact(ctx, fp); err == nil && hit {
			o.metrics.RecordCacheOutcome("exact")
			sim := 1.0
			return Response{
				Response:        entry.Response,
				CacheHit:        true,
				HitType:         "exact",
				SimilarityScore: &sim,
				MatchedPrompt:   &prompt,
				LatencyMS:       time.Since(start).Milliseconds(),
			}, true
		}
		if time.Now().After(deadline) {
			return Response{}, false
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return Response{}, false
		}
	}
}

// invokeAndStore performs step 7: the bounded LLM call, the cache
// write-back on success, and response assembly. It holds no lock itself:
// when ExecuteQuery acquired the lock, its deferred ReleaseLock runs after
// invokeAndStore returns, on success and error paths alike.
func (o *Orchestrator) invokeAndStore(ctx context.Context, fp cache.Fingerprint, req Request, model string, queryEmbedding []float32, start time.Time) (Response, error) {
	completion, err := o.llmClient.Complete(ctx, llm.Request{
		Prompt:          req.Prompt,
		Model:           model,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		o.metrics.RecordCacheOutcome("miss")
		o.cache.RecordMiss()
		return Response{}, err
	}

	// Cache writes happen only after a successful LLM response; partial
	// failures never commit. The write runs on a context detached from the
	// inbound request rather than ctx itself: net/http cancels a handler's
	// request context the moment the client disconnects, and a disconnect
	// must not abort work that was already paid for (spec.md §5, §9).
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if setErr := o.cache.Set(writeCtx, fp, req.Prompt, completion.Text, cache.Embedding(queryEmbedding), o.responseTTL); setErr != nil {
		o.logger.Warn("cache write-back failed after successful LLM call", map[string]interface{}{
			"error": setErr.Error(),
		})
	}

	o.metrics.RecordCacheOutcome("miss")
	o.cache.RecordMiss()

	return Response{
		Response:   completion.Text,
		CacheHit:   false,
		TokensUsed: completion.InputTokens + completion.OutputTokens,
		Cost:       completion.Cost,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}
