package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// DefaultRerankBatchSize is the number of pairs per scorer call.
const DefaultRerankBatchSize = 32

// RerankConfig configures a RerankOrchestrator.
type RerankConfig struct {
	Model     string
	BatchSize int
	// Timeout bounds the whole rerank step. Zero means the caller's deadline.
	Timeout time.Duration
}

// RerankOrchestrator re-scores candidates with a pairwise scorer. It never
// fails: any scorer problem returns the candidates in their incoming order.
type RerankOrchestrator struct {
	registry *ScorerRegistry
	config   RerankConfig
}

// NewRerankOrchestrator binds the orchestrator to a shared registry.
func NewRerankOrchestrator(registry *ScorerRegistry, cfg RerankConfig) *RerankOrchestrator {
	if cfg.Model == "" {
		cfg.Model = DefaultScorerModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRerankBatchSize
	}
	return &RerankOrchestrator{registry: registry, config: cfg}
}

// Model returns the scorer model id.
func (o *RerankOrchestrator) Model() string { return o.config.Model }

// Available reports whether the scorer for the configured model is ready.
func (o *RerankOrchestrator) Available(ctx context.Context) bool {
	if o == nil {
		return false
	}
	return o.registry.Available(ctx, o.config.Model)
}

// Rerank scores candidates against query and returns at most topK results
// sorted by rerank score. Candidates with empty text are not scored and
// follow the scored ones in their incoming order. The boolean reports
// whether any candidate was scored.
func (o *RerankOrchestrator) Rerank(ctx context.Context, query string, candidates []Result, topK int) ([]Result, bool) {
	if len(candidates) == 0 {
		return candidates, false
	}

	scored, applied, err := o.score(ctx, query, candidates)
	if err != nil {
		appErr := apperrors.ErrScorerUnavailable("reranking failed, using original order", err)
		slog.LogAttrs(ctx, slog.LevelWarn, "rerank_failed", apperrors.LogAttrs(appErr)...)
		return truncate(candidates, topK), false
	}
	return truncate(scored, topK), applied
}

// score returns the reranked candidates and whether any pair was scored.
func (o *RerankOrchestrator) score(ctx context.Context, query string, candidates []Result) ([]Result, bool, error) {
	if o == nil {
		return nil, false, fmt.Errorf("no reranker configured")
	}
	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	scorer, err := o.registry.Get(ctx, o.config.Model)
	if err != nil {
		return nil, false, err
	}
	if !scorer.Available(ctx) {
		return nil, false, fmt.Errorf("scorer %s is not available", o.config.Model)
	}

	var (
		pairs    []Pair
		scorable []int
		rest     []Result
	)
	for i, c := range candidates {
		if strings.TrimSpace(c.Record.Text) == "" {
			rest = append(rest, c)
			continue
		}
		pairs = append(pairs, Pair{Query: query, Document: c.Record.Text})
		scorable = append(scorable, i)
	}

	scores := make([]float64, 0, len(pairs))
	for start := 0; start < len(pairs); start += o.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		end := min(start+o.config.BatchSize, len(pairs))
		batch, err := scorer.Score(ctx, pairs[start:end])
		if err != nil {
			return nil, false, err
		}
		if len(batch) != end-start {
			return nil, false, fmt.Errorf("scorer returned %d scores for %d pairs", len(batch), end-start)
		}
		scores = append(scores, batch...)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	out := make([]Result, 0, len(candidates))
	for j, i := range scorable {
		r := candidates[i]
		original := r.Score
		rerank := scores[j]
		r.OriginalScore = &original
		r.RerankScore = &rerank
		r.Score = rerank
		out = append(out, r)
	}
	sort.SliceStable(out, func(a, b int) bool {
		return *out[a].RerankScore > *out[b].RerankScore
	})
	return append(out, rest...), len(pairs) > 0, nil
}

func truncate(results []Result, k int) []Result {
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}
