// Package embed turns text into dense vectors for the vector index.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultConnectTimeout bounds health checks.
	DefaultConnectTimeout = 5 * time.Second
)

const (
	// DefaultModel is the multilingual sentence model the indices are built with.
	DefaultModel = "sentence-transformers/paraphrase-multilingual-mpnet-base-v2"

	// DefaultDimensions is the output size of DefaultModel.
	DefaultDimensions = 768
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// NormalizeVector scales v to unit length. Zero vectors are returned as-is.
func NormalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

func clampBatchSize(n int) int {
	switch {
	case n < MinBatchSize:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}
