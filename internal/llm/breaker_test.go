package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

func newFailingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := newFailingServer(t, http.StatusInternalServerError)
	defer srv.Close()

	client := New(srv.URL, 50*time.Millisecond, 1, 0, 0, observability.NewNoopLogger())
	bc := NewBreakerClient(client, 2, time.Minute, observability.NewNoopLogger())

	for i := 0; i < 2; i++ {
		_, err := bc.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
		require.Error(t, err)
	}

	require.Equal(t, gobreaker.StateOpen, bc.State())

	_, err := bc.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	require.Error(t, err)
	require.Equal(t, gatewayerr.LLMUnavailable, gatewayerr.KindOf(err))
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"completion_text":"ok","input_token_count":1,"output_token_count":1}`))
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second, 1, 0, 0, observability.NewNoopLogger())
	bc := NewBreakerClient(client, 2, time.Minute, observability.NewNoopLogger())

	for i := 0; i < 5; i++ {
		_, err := bc.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
		require.NoError(t, err)
	}
	require.Equal(t, gobreaker.StateClosed, bc.State())
	require.Equal(t, int64(5), calls.Load())
}

func TestBreakerTranslatesAuthFailureWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL, time.Second, 3, 0, 0, observability.NewNoopLogger())
	bc := NewBreakerClient(client, 5, time.Minute, observability.NewNoopLogger())

	_, err := bc.Complete(context.Background(), Request{Prompt: "p", Model: "m"})
	require.Error(t, err)
	require.Equal(t, gatewayerr.AuthConfigError, gatewayerr.KindOf(err))
	require.Equal(t, int64(1), calls.Load(), "401 must not be retried")
}

func TestStateGaugeValueMapping(t *testing.T) {
	require.Equal(t, float64(0), StateGaugeValue(gobreaker.StateClosed))
	require.Equal(t, float64(1), StateGaugeValue(gobreaker.StateHalfOpen))
	require.Equal(t, float64(2), StateGaugeValue(gobreaker.StateOpen))
}
