package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

func fakeOllama(t *testing.T, status *atomic.Int32, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		calls.Add(1)
		if code := status.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := ollamaEmbedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{3, 4, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testRetry() apperrors.RetryConfig {
	return apperrors.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	var status, calls atomic.Int32
	srv := fakeOllama(t, &status, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "m"})

	require.NoError(t, err)
	assert.Equal(t, 3, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_EmbedBatch_SplitsAndNormalizes(t *testing.T) {
	// Given: a batch size of 2 and normalization on
	var status, calls atomic.Int32
	srv := fakeOllama(t, &status, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "m", Dimensions: 3, BatchSize: 2, Normalize: true, SkipHealthCheck: true,
	})
	require.NoError(t, err)

	// When: embedding five texts, one blank
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", " ", "c", "d"})

	// Then: four texts go out in two requests and the blank gets a zero vector
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.Equal(t, []float32{0, 0, 0}, vecs[2])
}

func TestOllamaEmbedder_ServerErrorIsRetriedThenFails(t *testing.T) {
	var status, calls atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := fakeOllama(t, &status, &calls)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Dimensions: 3, SkipHealthCheck: true, Retry: testRetry(),
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "text")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmbeddingFailed, apperrors.GetCode(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaEmbedder_UnreachableHost(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmbedderUnavailable, apperrors.GetCode(err))
}

func TestOllamaEmbedder_Closed(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")

	assert.Error(t, err)
	assert.Equal(t, DefaultDimensions, e.Dimensions())
	assert.Equal(t, DefaultModel, e.ModelName())
}
