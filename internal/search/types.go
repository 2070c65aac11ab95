// Package search provides hybrid retrieval over maintenance logs: dense and
// lexical candidates are merged with Reciprocal Rank Fusion, narrowed by
// metadata filters, and optionally re-scored by a pairwise relevance model.
package search

import (
	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

// Defaults for Config.
const (
	DefaultDenseTopK        = 10
	DefaultSparseTopK       = 10
	DefaultFinalTopK        = 5
	DefaultRRFConstant      = 60
	DefaultRerankCandidates = 10
)

// Result is one entry of a search response.
type Result struct {
	Record corpus.Record `json:"record"`
	// Score is the fused score, or the rerank score when reranking ran.
	Score float64 `json:"score"`
	// RerankScore is set when the pairwise scorer scored this result.
	RerankScore *float64 `json:"rerank_score,omitempty"`
	// OriginalScore keeps the fused score of a reranked result.
	OriginalScore *float64 `json:"original_score,omitempty"`
}

// ChunkID is a shortcut for r.Record.ChunkID.
func (r Result) ChunkID() string { return r.Record.ChunkID }

// Config holds the retrieval knobs of the engine.
type Config struct {
	DenseTopK  int
	SparseTopK int
	FinalTopK  int
	RRFK       int

	RerankEnabled bool
	// RerankCandidates bounds how many fused results are sent to the scorer.
	RerankCandidates int
}

// DefaultConfig returns the engine defaults with reranking enabled.
func DefaultConfig() Config {
	return Config{
		DenseTopK:        DefaultDenseTopK,
		SparseTopK:       DefaultSparseTopK,
		FinalTopK:        DefaultFinalTopK,
		RRFK:             DefaultRRFConstant,
		RerankEnabled:    true,
		RerankCandidates: DefaultRerankCandidates,
	}
}

func (c Config) withDefaults() Config {
	if c.DenseTopK <= 0 {
		c.DenseTopK = DefaultDenseTopK
	}
	if c.SparseTopK <= 0 {
		c.SparseTopK = DefaultSparseTopK
	}
	if c.FinalTopK <= 0 {
		c.FinalTopK = DefaultFinalTopK
	}
	if c.RRFK <= 0 {
		c.RRFK = DefaultRRFConstant
	}
	if c.RerankCandidates <= 0 {
		c.RerankCandidates = DefaultRerankCandidates
	}
	return c
}

// Options are per-request overrides.
type Options struct {
	Filters Filters
	// Limit replaces Config.FinalTopK when positive.
	Limit int
	// NoRerank skips reranking for this request.
	NoRerank bool
}
