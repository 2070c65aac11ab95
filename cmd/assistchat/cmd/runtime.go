package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/config"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/index"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/tokenize"
)

// runtime is the opened snapshot plus everything a query needs.
type runtime struct {
	snapshot  *index.Snapshot
	embedder  embed.Embedder
	tokenizer tokenize.Tokenizer
	scorers   *search.ScorerRegistry
	reranker  *search.RerankOrchestrator
	engine    *search.Engine
}

// openRuntime loads the snapshot in cfg.Paths.IndexDir and wires the search
// engine around it. A missing snapshot is not an error; the engine then
// answers every query with no results.
func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	snap, err := index.Open(ctx, openConfig(cfg))
	if err != nil {
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, embedConfig(cfg))
	if err != nil {
		_ = snap.Close()
		return nil, err
	}
	if err := snap.CheckEmbedder(embedder); err != nil {
		slog.Warn("embedder_mismatch", slog.String("error", err.Error()))
	}

	rt := &runtime{
		snapshot:  snap,
		embedder:  embedder,
		tokenizer: tokenize.New(),
	}

	var opts []search.EngineOption
	if cfg.Reranker.Enabled {
		rt.scorers = search.NewScorerRegistry(search.HTTPScorerFactory(cfg.Reranker.Endpoint, cfg.Reranker.Timeout))
		rt.reranker = search.NewRerankOrchestrator(rt.scorers, search.RerankConfig{
			Model:     cfg.Reranker.Model,
			BatchSize: cfg.Reranker.BatchSize,
			Timeout:   cfg.Reranker.Timeout,
		})
		opts = append(opts, search.WithReranker(rt.reranker))
	}

	rt.engine, err = search.NewEngine(snap.Vector, snap.Lexical, embedder, rt.tokenizer, searchConfig(cfg), opts...)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases the snapshot, the embedder and any scorers.
func (r *runtime) Close() error {
	var errs []error
	if r.scorers != nil {
		errs = append(errs, r.scorers.Close())
	}
	if r.embedder != nil {
		if c, ok := r.embedder.(*embed.CachedEmbedder); ok {
			st := c.Stats()
			slog.Debug("embed_cache_stats",
				slog.Int64("hits", st.Hits),
				slog.Int64("misses", st.Misses),
				slog.Int("size", st.Size))
		}
		errs = append(errs, r.embedder.Close())
	}
	errs = append(errs, r.snapshot.Close())
	return errors.Join(errs...)
}

// manifest returns the snapshot manifest and whether one was found.
func (r *runtime) manifest() (store.Manifest, bool) {
	return r.snapshot.Manifest, r.snapshot.HasManifest
}

// openTelemetry opens the telemetry database named in cfg. An empty path, or
// a database that fails to open, yields a recorder that only counts.
func openTelemetry(cfg *config.Config) *telemetry.Recorder {
	if cfg.Paths.TelemetryDB == "" {
		return telemetry.NewRecorder(nil)
	}
	ts, err := telemetry.Open(cfg.Paths.TelemetryDB)
	if err != nil {
		slog.Warn("telemetry_unavailable",
			slog.String("path", cfg.Paths.TelemetryDB),
			slog.String("error", err.Error()))
		return telemetry.NewRecorder(nil)
	}
	return telemetry.NewRecorder(ts)
}

func openConfig(cfg *config.Config) index.OpenConfig {
	return index.OpenConfig{
		IndexDir:       cfg.Paths.IndexDir,
		IndexType:      store.IndexType(cfg.Indexing.IndexType),
		LexicalBackend: store.LexicalBackend(cfg.Indexing.LexicalBackend),
		HNSW:           hnswConfig(cfg),
		Normalize:      cfg.Embeddings.Normalize,
	}
}

func buildConfig(cfg *config.Config) index.BuildConfig {
	return index.BuildConfig{
		IndexDir:       cfg.Paths.IndexDir,
		IndexType:      store.IndexType(cfg.Indexing.IndexType),
		LexicalBackend: store.LexicalBackend(cfg.Indexing.LexicalBackend),
		HNSW:           hnswConfig(cfg),
		Normalize:      cfg.Embeddings.Normalize,
		Provider:       cfg.Embeddings.Provider,
		BatchSize:      cfg.Embeddings.BatchSize,
		Workers:        cfg.Embeddings.Workers,
	}
}

func hnswConfig(cfg *config.Config) store.HNSWConfig {
	return store.HNSWConfig{
		M:        cfg.Indexing.HNSWM,
		EfSearch: cfg.Indexing.HNSWEfSearch,
	}
}

func embedConfig(cfg *config.Config) embed.Config {
	return embed.Config{
		Provider:          embed.ProviderType(cfg.Embeddings.Provider),
		Model:             cfg.Embeddings.Model,
		Dimensions:        cfg.Embeddings.Dimensions,
		Normalize:         cfg.Embeddings.Normalize,
		BatchSize:         cfg.Embeddings.BatchSize,
		CacheSize:         cfg.Embeddings.CacheSize,
		OllamaHost:        cfg.Embeddings.OllamaHost,
		OpenAIBaseURL:     cfg.Embeddings.OpenAIBaseURL,
		APIKeyEnv:         cfg.Embeddings.APIKeyEnv,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}
}

func searchConfig(cfg *config.Config) search.Config {
	return search.Config{
		DenseTopK:        cfg.Retrieval.DenseTopK,
		SparseTopK:       cfg.Retrieval.SparseTopK,
		FinalTopK:        cfg.Retrieval.FinalTopK,
		RRFK:             cfg.Retrieval.RRFK,
		RerankEnabled:    cfg.Reranker.Enabled,
		RerankCandidates: cfg.Reranker.Candidates,
	}
}
