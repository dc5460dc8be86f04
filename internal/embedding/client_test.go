package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/semantic-cache-gateway/internal/observability"
)

func TestEmbedReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1, 2, 3}})
	}))
	defer srv.Close()

	c := New(srv.URL, 3, time.Second, observability.NewNoopLogger())
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vec)
}

func TestEmbedFailsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, 3, time.Second, observability.NewNoopLogger())
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
}

func TestProbeFailsOnDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1, 2}})
	}))
	defer srv.Close()

	c := New(srv.URL, 3, time.Second, observability.NewNoopLogger())
	err := c.Probe(context.Background())
	require.Error(t, err)
}

func TestProbeSucceedsOnMatchingDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1, 2, 3}})
	}))
	defer srv.Close()

	c := New(srv.URL, 3, time.Second, observability.NewNoopLogger())
	require.NoError(t, c.Probe(context.Background()))
}

func TestEmbedRespectsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{1}})
	}))
	defer srv.Close()

	c := New(srv.URL, 1, 5*time.Millisecond, observability.NewNoopLogger())
	_, err := c.Embed(context.Background(), "hello")
	require.Error(t, err)
}
