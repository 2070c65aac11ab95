package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

const (
	// StaticDimensions is the default size of static vectors.
	StaticDimensions = 256

	unigramWeight = 0.4
	bigramWeight  = 0.6
)

// StaticEmbedder produces deterministic hashed character n-gram vectors.
// It needs no model server, which makes it the offline fallback and the
// embedder used by tests. Japanese text has no word boundaries, so the
// features are rune unigrams and bigrams rather than whitespace tokens.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder. dims <= 0 means StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return NormalizeVector(e.generateVector(trimmed)), nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)
	runes := normalizeRunes(text)

	for i, r := range runes {
		if unicode.IsSpace(r) {
			continue
		}
		vector[hashToIndex(string(r), e.dims)] += unigramWeight
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			vector[hashToIndex(string(runes[i:i+2]), e.dims)] += bigramWeight
		}
	}
	return vector
}

// normalizeRunes lowercases, folds punctuation to spaces and collapses runs.
func normalizeRunes(text string) []rune {
	out := make([]rune, 0, len(text))
	lastSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			if !lastSpace {
				out = append(out, ' ')
			}
			lastSpace = true
			continue
		}
		out = append(out, r)
		lastSpace = false
	}
	return out
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string { return "static" }

// Available reports true until Close is called.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
