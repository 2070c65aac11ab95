package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// DefaultOllamaHost is the default Ollama API endpoint
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures the Ollama embedder
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	Model string

	// Dimensions overrides auto-detection (0 = detect on first health check)
	Dimensions int

	BatchSize int
	Timeout   time.Duration

	// Normalize scales every returned vector to unit length.
	Normalize bool

	// SkipHealthCheck skips the availability check in the constructor (for testing)
	SkipHealthCheck bool

	Retry apperrors.RetryConfig
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder and, unless skipped, checks
// the server once to learn the vector size.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cfg.BatchSize = clampBatchSize(cfg.BatchSize)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = apperrors.DefaultRetryConfig()
	}

	// No client-level timeout: per-request contexts carry the deadline.
	e := &OllamaEmbedder{
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     10 * time.Second,
		}},
		config: cfg,
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
		if err != nil {
			e.client.CloseIdleConnections()
			return nil, apperrors.New(apperrors.ErrCodeEmbedderUnavailable,
				fmt.Sprintf("ollama at %s is not serving %s", cfg.Host, cfg.Model), err).
				WithSuggestion("Start Ollama and pull the model, or set embeddings.provider: static")
		}
		if e.dims == 0 {
			e.dims = len(vecs[0])
		}
	}
	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

// Embed generates embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in BatchSize slices. Blank texts get zero vectors
// without a round trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed, dims := e.closed, e.dims
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, dims)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))
		batch := make([]string, 0, end-start)
		for _, idx := range pending[start:end] {
			batch = append(batch, texts[idx])
		}

		vecs, err := apperrors.Retry(ctx, e.config.Retry, func(ctx context.Context) ([][]float32, error) {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.doEmbed(reqCtx, batch)
		})
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "ollama embedding failed", err)
		}
		for j, idx := range pending[start:end] {
			results[idx] = vecs[j]
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeNetworkTimeout, "ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding failed with status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 {
			return nil, apperrors.New(apperrors.ErrCodeNetworkTimeout, "ollama server error", err)
		}
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "ollama rejected request", err)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		if e.config.Normalize {
			vec = NormalizeVector(vec)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

// Available checks that the Ollama server answers /api/tags.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
