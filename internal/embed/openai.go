package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint
// (OpenAI itself, text-embeddings-inference, vLLM, LocalAI).
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Dimensions is sent to the API when > 0 and used as the reported size.
	Dimensions int

	BatchSize int

	// RequestsPerSecond paces outgoing requests; <= 0 disables pacing.
	RequestsPerSecond float64

	Normalize bool
	Retry     apperrors.RetryConfig
}

// OpenAIEmbedder generates embeddings through the /v1/embeddings API.
type OpenAIEmbedder struct {
	client  *openai.Client
	config  OpenAIConfig
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible server.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	cfg.BatchSize = clampBatchSize(cfg.BatchSize)
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = apperrors.DefaultRetryConfig()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		config:  cfg,
		limiter: limiter,
	}
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in BatchSize requests, paced by the limiter.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.config.Dimensions)
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
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return e.doEmbed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		for j, idx := range pending[start:end] {
			results[idx] = vecs[j]
		}
	}
	return results, nil
}

func (e *OpenAIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(e.config.Model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)), nil)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		vec := d.Embedding
		if e.config.Normalize {
			vec = NormalizeVector(vec)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// parseAPIError maps client errors onto AppErrors. Throttling and server
// errors are retryable, everything else is not.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := fmt.Sprintf("embedding API error %d", reqErr.HTTPStatusCode)
		if detail := extractDetail(reqErr.Body); detail != "" {
			msg += ": " + detail
		}
		return apperrors.New(codeForStatus(reqErr.HTTPStatusCode), msg, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperrors.New(codeForStatus(apiErr.HTTPStatusCode),
			fmt.Sprintf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message), err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.New(apperrors.ErrCodeNetworkTimeout, "embedding request failed", err)
}

func codeForStatus(status int) string {
	if status == http.StatusTooManyRequests || status >= 500 {
		return apperrors.ErrCodeNetworkTimeout
	}
	return apperrors.ErrCodeEmbeddingFailed
}

// extractDetail pulls the "detail" field some compatible servers use for errors.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		return parsed.Detail
	}
	return ""
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string { return e.config.Model }

// Available verifies the API via ListModels.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
