package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/tokenize"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs hybrid retrieval over one loaded snapshot.
type Engine struct {
	vector    *store.VectorStore
	lexical   *store.LexicalStore
	embedder  embed.Embedder
	tokenizer tokenize.Tokenizer
	reranker  *RerankOrchestrator
	config    Config
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithReranker enables reranking through o. Without it Search only fuses
// and filters.
func WithReranker(o *RerankOrchestrator) EngineOption {
	return func(e *Engine) {
		e.reranker = o
	}
}

// NewEngine creates a hybrid search engine. The stores may be unloaded;
// their searches then contribute nothing.
func NewEngine(
	vector *store.VectorStore,
	lexical *store.LexicalStore,
	embedder embed.Embedder,
	tokenizer tokenize.Tokenizer,
	config Config,
	opts ...EngineOption,
) (*Engine, error) {
	if vector == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical store is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if tokenizer == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", ErrNilDependency)
	}
	e := &Engine{
		vector:    vector,
		lexical:   lexical,
		embedder:  embedder,
		tokenizer: tokenizer,
		config:    config.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.config }

// RerankerReady reports whether a search right now would be reranked.
func (e *Engine) RerankerReady(ctx context.Context) bool {
	return e.config.RerankEnabled && e.reranker.Available(ctx)
}

// Search runs hybrid retrieval with the configured limits.
func (e *Engine) Search(ctx context.Context, query string, filters Filters) ([]Result, error) {
	return e.SearchWithOptions(ctx, query, Options{Filters: filters})
}

// SearchWithOptions runs hybrid retrieval:
//
//  1. dense and lexical retrieval in parallel
//  2. Reciprocal Rank Fusion of the two rankings
//  3. metadata filters, including the year range
//  4. pairwise reranking of the leading candidates, or truncation
//
// A query that cannot be embedded is an error. Past that point a failing
// index is logged and the other branch still answers; an error is returned
// only when both indexes fail or ctx is done.
func (e *Engine) SearchWithOptions(ctx context.Context, query string, opts Options) ([]Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}

	limit := e.config.FinalTopK
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	dense, sparse, err := e.retrieve(ctx, query)
	if err != nil {
		return nil, err
	}

	records := make(map[string]corpus.Record, len(dense)+len(sparse))
	sources := []map[string]float64{hitScores(dense, records), hitScores(sparse, records)}
	fused := Fuse(sources, e.config.RRFK)

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		rec, ok := records[f.ID]
		if !ok {
			continue
		}
		results = append(results, Result{Record: rec, Score: f.Score})
	}

	if !opts.Filters.IsEmpty() {
		results = ApplyFilters(results, opts.Filters)
	}
	results = ApplyYearRange(results, opts.Filters.YearRange)

	reranked := false
	if !opts.NoRerank && e.config.RerankEnabled && len(results) > 0 && e.reranker.Available(ctx) {
		candidates := truncate(results, e.config.RerankCandidates)
		results, reranked = e.reranker.Rerank(ctx, query, candidates, limit)
	} else {
		results = truncate(results, limit)
	}

	slog.Debug("search_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("dense", len(dense)),
		slog.Int("sparse", len(sparse)),
		slog.Int("fused", len(fused)),
		slog.Int("results", len(results)),
		slog.Bool("reranked", reranked),
		slog.Duration("elapsed", time.Since(start)))

	return results, nil
}

// retrieve runs both branches concurrently. Index errors are captured, not
// propagated through the group, so one failing index cannot cancel the other.
// An embedding failure is returned through the group and fails the search.
func (e *Engine) retrieve(ctx context.Context, query string) (dense, sparse []store.Hit, err error) {
	var denseErr, sparseErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if !e.vector.Loaded() {
			dense, denseErr = e.vector.Search(nil, e.config.DenseTopK)
			return nil
		}
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return apperrors.ErrEmbedderUnavailable("failed to embed query", err)
		}
		dense, denseErr = e.vector.Search(vec, e.config.DenseTopK)
		return nil
	})

	g.Go(func() error {
		tokens := e.tokenizer.Tokenize(query)
		if len(tokens) == 0 {
			return nil
		}
		sparse, sparseErr = e.lexical.Search(tokens, e.config.SparseTopK)
		return nil
	})

	groupErr := g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if groupErr != nil {
		return nil, nil, groupErr
	}
	if denseErr != nil && sparseErr != nil {
		return nil, nil, errors.Join(denseErr, sparseErr)
	}
	if denseErr != nil {
		slog.Warn("dense_search_failed", slog.String("error", denseErr.Error()))
	}
	if sparseErr != nil {
		slog.Warn("lexical_search_failed", slog.String("error", sparseErr.Error()))
	}
	return dense, sparse, nil
}

// hitScores builds a fusion source and records every hit in records.
func hitScores(hits []store.Hit, records map[string]corpus.Record) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		id := h.Record.ChunkID
		if prev, ok := scores[id]; ok && prev >= h.Score {
			continue
		}
		scores[id] = h.Score
		records[id] = h.Record
	}
	return scores
}

func truncateQuery(q string, maxRunes int) string {
	r := []rune(q)
	if len(r) <= maxRunes {
		return q
	}
	return string(r[:maxRunes]) + "..."
}
