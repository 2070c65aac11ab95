package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses Ollama's /api/embed.
	ProviderOllama ProviderType = "ollama"

	// ProviderOpenAI uses any OpenAI-compatible /v1/embeddings server.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hashed character n-grams; no server required.
	ProviderStatic ProviderType = "static"
)

// ParseProvider validates a provider name.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderOpenAI, ProviderStatic:
		return p, nil
	case "":
		return ProviderOllama, nil
	default:
		return "", apperrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", s), nil).
			WithSuggestion("Use one of: ollama, openai, static")
	}
}

// Config selects and configures an embedder.
type Config struct {
	Provider          ProviderType
	Model             string
	Dimensions        int
	Normalize         bool
	BatchSize         int
	CacheSize         int
	OllamaHost        string
	OpenAIBaseURL     string
	APIKeyEnv         string
	RequestsPerSecond float64
}

// NewEmbedder builds the configured embedder and wraps it with the query cache.
// The ASSISTCHAT_EMBEDDER environment variable overrides the provider.
// Set ASSISTCHAT_EMBED_CACHE=false to disable caching.
func NewEmbedder(ctx context.Context, cfg Config) (Embedder, error) {
	provider := cfg.Provider
	if env := os.Getenv("ASSISTCHAT_EMBEDDER"); env != "" {
		p, err := ParseProvider(env)
		if err != nil {
			return nil, err
		}
		provider = p
	}

	var embedder Embedder
	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOpenAI:
		apiKey := ""
		if cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		embedder = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:            apiKey,
			BaseURL:           cfg.OpenAIBaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Normalize:         cfg.Normalize,
		})

	case ProviderOllama, "":
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
			Normalize:  cfg.Normalize,
		})
		if err != nil {
			return nil, err
		}
		embedder = e

	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unknown embedding provider %q", provider), nil)
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if isCacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}

func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("ASSISTCHAT_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
