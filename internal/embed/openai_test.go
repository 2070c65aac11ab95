package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

func fakeOpenAI(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, 0, len(req.Input))
		// reversed order exercises index placement
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i + 1), 0},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "m"})
	}))
}

func TestOpenAIEmbedder_EmbedBatch_PlacesByIndex(t *testing.T) {
	srv := fakeOpenAI(t, 0)
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", Dimensions: 2, RequestsPerSecond: 100})

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b"})

	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 0}, vecs[1])
	assert.Equal(t, []float32{2, 0}, vecs[2])
}

func TestOpenAIEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusBadRequest)
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL + "/v1", Retry: testRetry()})

	_, err := e.Embed(context.Background(), "text")

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmbeddingFailed, apperrors.GetCode(err))
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, apperrors.ErrCodeNetworkTimeout, codeForStatus(http.StatusTooManyRequests))
	assert.Equal(t, apperrors.ErrCodeNetworkTimeout, codeForStatus(http.StatusBadGateway))
	assert.Equal(t, apperrors.ErrCodeEmbeddingFailed, codeForStatus(http.StatusUnauthorized))
}

func TestExtractDetail(t *testing.T) {
	assert.Equal(t, "model not found", extractDetail([]byte(`{"detail":"model not found"}`)))
	assert.Equal(t, "", extractDetail([]byte(`not json`)))
}
