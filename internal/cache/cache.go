package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

// Cache realizes spec.md §4.5's operations atop a kv.Client. It holds no
// global state: the Lifecycle Controller constructs one instance at
// startup and injects it into the Orchestrator (spec.md §9's
// global-state → explicit-wiring re-architecture note).
type Cache struct {
	kv         kv.Client
	logger     observability.Logger
	keyPrefix  string
	lockPrefix string

	exactHits      atomic.Int64
	semanticHits   atomic.Int64
	misses         atomic.Int64
	storedEstimate atomic.Int64
}

// New constructs a Cache bound to the given KV client and key prefixes
// (spec.md §6 persisted-state layout: "<prefix>:<fingerprint>",
// "<prefix>:<fingerprint>:embedding", "<lock-prefix>:<fingerprint>").
func New(client kv.Client, keyPrefix, lockPrefix string, logger observability.Logger) *Cache {
	return &Cache{
		kv:         client,
		logger:     logger.WithPrefix("cache"),
		keyPrefix:  keyPrefix,
		lockPrefix: lockPrefix,
	}
}

func (c *Cache) responseKey(fp Fingerprint) string  { return c.keyPrefix + ":" + fp.String() }
func (c *Cache) embeddingKey(fp Fingerprint) string { return c.keyPrefix + ":" + fp.String() + ":embedding" }
func (c *Cache) promptKey(fp Fingerprint) string    { return c.keyPrefix + ":" + fp.String() + ":prompt" }
func (c *Cache) lockKey(fp Fingerprint) string       { return c.lockPrefix + ":" + fp.String() }

// GetExact performs a single atomic read under the fingerprint's response
// key, with a best-effort paired read of the embedding key. A reader either
// sees no entry or an entry with a non-empty response — embedding absence
// is tolerated (spec.md §8's cache-write-atomicity invariant).
func (c *Cache) GetExact(ctx context.Context, fp Fingerprint) (*Entry, bool, error) {
	ctx, span := observability.StartSpan(ctx, "cache", "get_exact")
	defer span.End()

	respBytes, err := c.kv.Get(ctx, c.responseKey(fp))
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get_exact: %w", err)
	}

	entry := &Entry{Response: string(respBytes)}

	if promptBytes, err := c.kv.Get(ctx, c.promptKey(fp)); err == nil {
		entry.Prompt = string(promptBytes)
	}
	if embBytes, err := c.kv.Get(ctx, c.embeddingKey(fp)); err == nil {
		entry.Embedding = DeserializeEmbedding(embBytes)
	}

	c.exactHits.Add(1)
	return entry, true, nil
}

// scannedEntry pairs a fingerprint with whatever of its tuple ScanAll could
// recover from the store during one pass.
type scannedEntry struct {
	Fingerprint Fingerprint
	Prompt      string
	Response    string
	Embedding   Embedding
}

// ScanAll is a cursor-based, non-blocking enumeration of every stored
// response entry under the configured prefix (excluding the paired
// ":embedding" keys). It is linear in the number of stored entries —
// acceptable only while the stored count is modest (spec.md §9's flagged
// open question; see DESIGN.md for the chosen mitigation).
func (c *Cache) ScanAll(ctx context.Context) (<-chan scannedEntry, error) {
	raw, err := c.kv.ScanPrefix(ctx, c.keyPrefix+":")
	if err != nil {
		return nil, fmt.Errorf("cache scan_all: %w", err)
	}

	out := make(chan scannedEntry)
	go func() {
		defer close(out)
		for entry := range raw {
			if entry.Err != nil {
				continue
			}
			// Skip the paired embedding/prompt keys; they are read on demand
			// below.
			if len(entry.Key) > len(":embedding") && entry.Key[len(entry.Key)-len(":embedding"):] == ":embedding" {
				continue
			}
			if len(entry.Key) > len(":prompt") && entry.Key[len(entry.Key)-len(":prompt"):] == ":prompt" {
				continue
			}
			fpHex := entry.Key[len(c.keyPrefix)+1:]
			fp, ok := fingerprintFromHex(fpHex)
			if !ok {
				continue
			}
			se := scannedEntry{Fingerprint: fp, Response: string(entry.Value)}
			if promptBytes, err := c.kv.Get(ctx, c.promptKey(fp)); err == nil {
				se.Prompt = string(promptBytes)
			}
			if embBytes, err := c.kv.Get(ctx, c.embeddingKey(fp)); err == nil {
				se.Embedding = DeserializeEmbedding(embBytes)
			}
			select {
			case out <- se:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func fingerprintFromHex(s string) (Fingerprint, bool) {
	var fp Fingerprint
	if len(s) != len(fp)*2 {
		return fp, false
	}
	for i := range fp {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return fp, false
		}
		fp[i] = hi<<4 | lo
	}
	return fp, true
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// FindSemanticMatch iterates ScanAll, scores each stored embedding against
// query by cosine similarity, and returns the best-scoring entry whose
// similarity is at or above threshold. Ties: higher similarity wins; among
// equal similarities, the first encountered (deterministic relative to scan
// order). Entries whose stored embedding length differs from the query's
// are skipped — the spec's chosen resolution to the embedding-dimension
// version-skew open question (spec.md §9).
func (c *Cache) FindSemanticMatch(ctx context.Context, query Embedding, threshold float64) (*Match, error) {
	ctx, span := observability.StartSpan(ctx, "cache", "find_semantic_match")
	defer span.End()

	entries, err := c.ScanAll(ctx)
	if err != nil {
		return nil, err
	}

	var best *Match
	var scanned int64
	for se := range entries {
		scanned++
		if len(se.Embedding) != len(query) || len(se.Embedding) == 0 {
			continue
		}
		sim := CosineSimilarity(query, se.Embedding)
		if sim < threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{
				Fingerprint: se.Fingerprint,
				Prompt:      se.Prompt,
				Response:    se.Response,
				Similarity:  sim,
				HitType:     "semantic",
			}
		}
	}

	if best != nil {
		c.semanticHits.Add(1)
	}
	// A full ScanAll pass is the most accurate count of live entries this
	// package ever computes; use it to correct stored_item_estimate's drift
	// from TTL expiry and repeated Set calls rather than discarding it.
	c.storedEstimate.Store(scanned)
	return best, nil
}

// RecordMiss increments the miss counter. Called by the Orchestrator once
// both the exact and semantic stages have failed to produce a hit — the
// Cache component itself only knows whether *its* stage matched, not
// whether the overall pipeline missed (spec.md §4.5, §4.7 step 7).
func (c *Cache) RecordMiss() {
	c.misses.Add(1)
}

// Set writes the (prompt, response, embedding) tuple under fp with ttl.
// The underlying writes are not atomic as a set; the response write is
// issued first and is the one preferred on partial failure, so an entry
// without its prompt or embedding still serves exact hits (spec.md §4.5).
func (c *Cache) Set(ctx context.Context, fp Fingerprint, prompt, response string, embedding Embedding, ttl time.Duration) error {
	ctx, span := observability.StartSpan(ctx, "cache", "set")
	defer span.End()

	if err := c.kv.Set(ctx, c.responseKey(fp), []byte(response), ttl); err != nil {
		return fmt.Errorf("cache set response: %w", err)
	}
	c.storedEstimate.Add(1)

	if err := c.kv.Set(ctx, c.promptKey(fp), []byte(prompt), ttl); err != nil {
		c.logger.Warn("failed to store prompt alongside response", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if len(embedding) > 0 {
		if err := c.kv.Set(ctx, c.embeddingKey(fp), SerializeEmbedding(embedding), ttl); err != nil {
			c.logger.Warn("failed to store embedding alongside response", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return nil
}

// TryAcquireLock is a set-if-absent of the fingerprint's lock key to
// holderID with ttl: true on success, false if already held (spec.md
// §4.5).
func (c *Cache) TryAcquireLock(ctx context.Context, fp Fingerprint, holderID string, ttl time.Duration) (bool, error) {
	ctx, span := observability.StartSpan(ctx, "cache", "try_acquire_lock")
	defer span.End()

	ok, err := c.kv.SetNX(ctx, c.lockKey(fp), []byte(holderID), ttl)
	if err != nil {
		return false, fmt.Errorf("cache try_acquire_lock: %w", err)
	}
	return ok, nil
}

// ReleaseLock deletes the lock only if its stored value equals holderID,
// a compare-and-delete to avoid releasing a lock the caller no longer owns
// after TTL expiry and re-acquisition by someone else (spec.md §4.5).
func (c *Cache) ReleaseLock(ctx context.Context, fp Fingerprint, holderID string) error {
	ctx, span := observability.StartSpan(ctx, "cache", "release_lock")
	defer span.End()

	_, err := c.kv.CompareAndDelete(ctx, c.lockKey(fp), holderID)
	if err != nil {
		return fmt.Errorf("cache release_lock: %w", err)
	}
	return nil
}

// Clear removes every entry under the cache's key prefix. Not an exposed
// endpoint — spec.md's Non-goals exclude a cache invalidation API — this
// exists purely as an operator/test utility to reset state between cases,
// grounded on the teacher's SemanticCache.Clear batched-delete shape.
func (c *Cache) Clear(ctx context.Context) error {
	entries, err := c.kv.ScanPrefix(ctx, c.keyPrefix+":")
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	for e := range entries {
		if e.Err != nil {
			continue
		}
		_ = c.kv.Delete(ctx, e.Key)
	}
	c.storedEstimate.Store(0)
	return nil
}

// Counters returns a snapshot of the best-effort aggregate counters
// exposed via internal_metrics_summary.
func (c *Cache) Counters() Counters {
	return Counters{
		ExactHits:          c.exactHits.Load(),
		SemanticHits:       c.semanticHits.Load(),
		Misses:             c.misses.Load(),
		StoredItemEstimate: c.storedEstimate.Load(),
	}
}
