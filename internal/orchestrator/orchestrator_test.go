package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/semantic-cache-gateway/internal/cache"
	"github.com/S-Corkum/semantic-cache-gateway/internal/embedding"
	"github.com/S-Corkum/semantic-cache-gateway/internal/kv"
	"github.com/S-Corkum/semantic-cache-gateway/internal/llm"
	"github.com/S-Corkum/semantic-cache-gateway/internal/metrics"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

type testHarness struct {
	orch       *Orchestrator
	llmCalls   *atomic.Int64
	embedCalls *atomic.Int64
}

// sharedRecorder avoids the prometheus "duplicate metrics collector
// registration" panic that promauto's default registerer would trigger if
// metrics.New() ran once per test in this package.
var (
	sharedRecorderOnce sync.Once
	sharedRecorder     *metrics.Recorder
)

func testRecorder() *metrics.Recorder {
	sharedRecorderOnce.Do(func() { sharedRecorder = metrics.New() })
	return sharedRecorder
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kvClient := kv.NewRedisClientFromUniversalClient(rdb, observability.NewNoopLogger())
	c := cache.New(kvClient, "scg", "scg-lock", observability.NewNoopLogger())

	var embedCalls atomic.Int64
	embedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		embedCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{1, 0, 0},
		})
	}))
	t.Cleanup(embedSrv.Close)
	embedder := embedding.New(embedSrv.URL, 3, time.Second, observability.NewNoopLogger())

	var llmCalls atomic.Int64
	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		llmCalls.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"completion_text":    "the answer",
			"input_token_count":  10,
			"output_token_count": 5,
		})
	}))
	t.Cleanup(llmSrv.Close)
	llmClient := llm.New(llmSrv.URL, time.Second, 3, 0, 0, observability.NewNoopLogger())
	breakerClient := llm.NewBreakerClient(llmClient, 5, time.Minute, observability.NewNoopLogger())

	orch := New(c, embedder, breakerClient, testRecorder(), observability.NewNoopLogger(), Config{
		DefaultModel:     "gpt-default",
		ResponseTTL:      time.Minute,
		LockTTL:          5 * time.Second,
		LockWaitDeadline: 2 * time.Second,
		LockPollInterval: 10 * time.Millisecond,
	})

	return &testHarness{orch: orch, llmCalls: &llmCalls, embedCalls: &embedCalls}
}

func TestExecuteQueryMissInvokesLLMAndCachesResult(t *testing.T) {
	h := newTestHarness(t)

	resp, err := h.orch.ExecuteQuery(context.Background(), Request{
		Prompt:              "what is the capital of france",
		SimilarityThreshold: 0.9,
	})
	require.NoError(t, err)
	require.False(t, resp.CacheHit)
	require.Equal(t, "the answer", resp.Response)
	require.Equal(t, int64(1), h.llmCalls.Load())

	resp2, err := h.orch.ExecuteQuery(context.Background(), Request{
		Prompt:              "what is the capital of france",
		SimilarityThreshold: 0.9,
	})
	require.NoError(t, err)
	require.True(t, resp2.CacheHit)
	require.Equal(t, "exact", resp2.HitType)
	require.NotNil(t, resp2.MatchedPrompt, "exact hits must report matched_prompt")
	require.Equal(t, "what is the capital of france", *resp2.MatchedPrompt)
	require.Equal(t, int64(1), h.llmCalls.Load(), "second identical request must be served from cache, not the LLM")
}

func TestExecuteQueryConcurrentIdenticalRequestsCallLLMOnce(t *testing.T) {
	h := newTestHarness(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	responses := make([]Response, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp, err := h.orch.ExecuteQuery(context.Background(), Request{
				Prompt:              "concurrent prompt",
				SimilarityThreshold: 0.9,
			})
			responses[idx] = resp
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "the answer", responses[i].Response)
	}
	require.Equal(t, int64(1), h.llmCalls.Load(), "single-flight coordination should collapse concurrent identical requests to one LLM call")
}

func TestExecuteQuerySemanticHitSkipsLLM(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.orch.ExecuteQuery(context.Background(), Request{
		Prompt:              "first phrasing of the question",
		SimilarityThreshold: 0.9,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), h.llmCalls.Load())

	resp, err := h.orch.ExecuteQuery(context.Background(), Request{
		Prompt:              "second differently worded phrasing",
		SimilarityThreshold: 0.5,
	})
	require.NoError(t, err)
	require.True(t, resp.CacheHit)
	require.Equal(t, "semantic", resp.HitType)
	require.Equal(t, int64(1), h.llmCalls.Load(), "a semantic hit must not invoke the LLM")
}
