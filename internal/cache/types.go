// Package cache implements the cache-layer semantics of spec.md §4.5 atop
// the internal/kv client: fingerprint keying, prompt+response+embedding
// co-storage, exact lookup, linear semantic scan, and single-flight lock
// acquisition/release. It is grounded on the teacher's
// pkg/embedding/cache/semantic_cache.go (exact-match-then-similarity-scan
// structure, sync/atomic hit/miss counters) and vector_store.go (linear
// FindSimilarQueries scan pattern), adapted from a query-similarity-search
// cache into this spec's exact-fingerprint + semantic-cosine cache.
package cache

import "time"

// Fingerprint is the deterministic key derived from (prompt, model),
// computed by NewFingerprint. Equal fingerprints iff equal (prompt, model)
// bytes (spec.md §3).
type Fingerprint [32]byte

// String hex-encodes the fingerprint for use as a KV key suffix.
func (f Fingerprint) String() string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, len(f)*2)
	for i, b := range f {
		buf[i*2] = hexDigits[b>>4]
		buf[i*2+1] = hexDigits[b&0x0f]
	}
	return string(buf)
}

// Embedding is a fixed-length vector produced by the embedding producer.
// Equivalence is defined by identical serialized bytes (spec.md §3).
type Embedding []float32

// Entry is the tuple stored per fingerprint: (prompt, response, embedding,
// created_at, ttl). Response is always non-empty for a valid entry;
// Embedding may be nil if the write that created the entry only managed to
// persist the response half (spec.md §3's "prefer the response write"
// invariant).
type Entry struct {
	Prompt    string
	Response  string
	Embedding Embedding
	CreatedAt time.Time
	TTL       time.Duration
}

// Match is the result of a successful exact or semantic lookup.
type Match struct {
	Fingerprint   Fingerprint
	Prompt        string
	Response      string
	Similarity    float64
	HitType       string // "exact" or "semantic"
}

// Counters are the cache's best-effort, in-process aggregate counters
// exposed via internal_metrics_summary (spec.md §4.5). They reset on
// process restart and are not authoritative state.
type Counters struct {
	ExactHits           int64
	SemanticHits        int64
	Misses              int64
	StoredItemEstimate  int64
}
