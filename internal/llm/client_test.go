package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"completion_text":"ok","input_token_count":2,"output_token_count":4}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 3, 0.01, 0.02, observability.NewNoopLogger())
	completion, err := c.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	require.NoError(t, err)
	require.Equal(t, "ok", completion.Text)
	require.Equal(t, int64(3), calls.Load())
	require.InDelta(t, 2*0.01+4*0.02, completion.Cost, 1e-9)
}

func TestCompleteFailsPermanentlyOn401WithoutRetrying(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 5, 0, 0, observability.NewNoopLogger())
	_, err := c.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	require.Error(t, err)
	require.Equal(t, gatewayerr.AuthConfigError, gatewayerr.KindOf(err))
	require.Equal(t, int64(1), calls.Load())
}

func TestCompleteExhaustsRetriesAndReturnsLLMUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 2, 0, 0, observability.NewNoopLogger())
	_, err := c.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	require.Error(t, err)
	require.Equal(t, gatewayerr.LLMUnavailable, gatewayerr.KindOf(err))
}

func TestOnCostCallbackFiresOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"completion_text":"ok","input_token_count":10,"output_token_count":20}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 1, 1, 1, observability.NewNoopLogger())
	var gotInput, gotOutput int
	var gotCost float64
	c.OnCost(func(inputTokens, outputTokens int, cost float64) {
		gotInput, gotOutput, gotCost = inputTokens, outputTokens, cost
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	require.NoError(t, err)
	require.Equal(t, 10, gotInput)
	require.Equal(t, 20, gotOutput)
	require.InDelta(t, 30.0, gotCost, 1e-9)
}
