package embed

import (
	"context"
	"sync/atomic"
)

// countingEmbedder is a test double that counts calls.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	batchSizes []int
	dims       int
	model      string
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{dims: dims, model: "counting"}
}

func (m *countingEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.dims)
	vec[len(text)%m.dims] = 1
	return vec
}

func (m *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	return m.vector(text), nil
}

func (m *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	m.batchSizes = append(m.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int                  { return m.dims }
func (m *countingEmbedder) ModelName() string                { return m.model }
func (m *countingEmbedder) Available(_ context.Context) bool { return true }
func (m *countingEmbedder) Close() error                     { return nil }
