// Package index builds snapshot triples from chunk records and opens them for search.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/tokenize"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/ui"
)

// BuildConfig configures a snapshot build.
type BuildConfig struct {
	IndexDir       string
	IndexType      store.IndexType
	LexicalBackend store.LexicalBackend
	HNSW           store.HNSWConfig

	// Normalize selects cosine similarity over L2.
	Normalize bool

	// Provider is recorded for display only.
	Provider string

	BatchSize int
	Workers   int
}

func (c BuildConfig) withDefaults() BuildConfig {
	if c.IndexType == "" {
		c.IndexType = store.IndexFlat
	}
	if c.LexicalBackend == "" {
		c.LexicalBackend = store.BackendSQLite
	}
	if c.BatchSize <= 0 {
		c.BatchSize = embed.DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = min(runtime.NumCPU(), 4)
	}
	c.HNSW.Metric = store.MetricFor(c.Normalize)
	return c
}

// BuildResult describes a finished build.
type BuildResult struct {
	Manifest store.Manifest
	Duration time.Duration
	Stages   ui.StageTimings
}

// Builder turns chunk records into a saved snapshot.
type Builder struct {
	cfg       BuildConfig
	embedder  embed.Embedder
	tokenizer tokenize.Tokenizer
	renderer  ui.Renderer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRenderer reports progress to r.
func WithRenderer(r ui.Renderer) BuilderOption {
	return func(b *Builder) {
		if r != nil {
			b.renderer = r
		}
	}
}

// NewBuilder creates a builder. embedder and tokenizer are required.
func NewBuilder(cfg BuildConfig, embedder embed.Embedder, tokenizer tokenize.Tokenizer, opts ...BuilderOption) (*Builder, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if tokenizer == nil {
		return nil, errors.New("tokenizer is required")
	}
	if cfg.IndexDir == "" {
		return nil, apperrors.ConfigError("index directory is required", nil)
	}

	b := &Builder{
		cfg:       cfg.withDefaults(),
		embedder:  embedder,
		tokenizer: tokenizer,
		renderer:  ui.NopRenderer{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build tokenizes and embeds records, builds the three stores and writes
// them with a manifest into the index directory. Invalid records abort the
// build before anything is written. The directory is locked for the
// duration so concurrent builds fail fast with ErrIndexLocked.
func (b *Builder) Build(ctx context.Context, records []corpus.Record) (*BuildResult, error) {
	start := time.Now()
	var timings ui.StageTimings

	if len(records) == 0 {
		return nil, apperrors.ErrInvalidInput("no records to index", nil).
			WithSuggestion("Run `assistchat chunk` to produce a chunk file first")
	}
	if err := corpus.Validate(records); err != nil {
		return nil, err
	}

	lock, err := store.LockIndexDir(b.cfg.IndexDir)
	if err != nil {
		if errors.Is(err, store.ErrIndexLocked) {
			return nil, apperrors.New(apperrors.ErrCodeIndexLocked, "another build is running", err).
				WithDetail("index_dir", b.cfg.IndexDir)
		}
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	slog.Info("build_started",
		slog.Int("records", len(records)),
		slog.String("index_dir", b.cfg.IndexDir),
		slog.String("index_type", string(b.cfg.IndexType)),
		slog.String("lexical_backend", string(b.cfg.LexicalBackend)))

	stageStart := time.Now()
	tokens, err := b.tokenizeAll(ctx, records)
	if err != nil {
		return nil, err
	}
	timings.Tokenize = time.Since(stageStart)

	stageStart = time.Now()
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vectors, err := b.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}
	timings.Embed = time.Since(stageStart)

	stageStart = time.Now()
	b.progress(ui.StageIndexing, 0, 3, "metadata")
	meta := store.NewMetadataTable(records)

	b.progress(ui.StageIndexing, 1, 3, "vector")
	vector := store.NewVectorStore(store.NewVectorIndex(b.cfg.IndexType, b.cfg.HNSW))
	if err := vector.Build(vectors, meta); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBuildFailed, "failed to build vector index", err)
	}

	b.progress(ui.StageIndexing, 2, 3, "lexical")
	lexical := store.NewLexicalStore(store.NewLexicalIndex(b.cfg.LexicalBackend))
	defer func() { _ = lexical.Close() }()
	if err := lexical.Build(tokens, meta); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeBuildFailed, "failed to build lexical index", err)
	}
	b.progress(ui.StageIndexing, 3, 3, "")
	timings.Index = time.Since(stageStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	manifest := store.Manifest{
		IndexType:      b.cfg.IndexType,
		LexicalBackend: b.cfg.LexicalBackend,
		Metric:         b.cfg.HNSW.Metric,
		Dimensions:     vector.Dimensions(),
		Count:          meta.Len(),
		Documents:      countDocuments(records),
		EmbeddingModel: b.embedder.ModelName(),
		Tokenizer:      b.tokenizer.Name(),
		BuiltAt:        time.Now().UTC(),
	}
	if err := b.save(meta, vector, lexical, manifest); err != nil {
		return nil, err
	}
	timings.Save = time.Since(stageStart)

	result := &BuildResult{
		Manifest: manifest,
		Duration: time.Since(start),
		Stages:   timings,
	}

	b.renderer.Complete(ui.CompletionStats{
		Chunks:         manifest.Count,
		Documents:      manifest.Documents,
		IndexDir:       b.cfg.IndexDir,
		IndexType:      string(manifest.IndexType),
		LexicalBackend: string(manifest.LexicalBackend),
		Tokenizer:      manifest.Tokenizer,
		Duration:       result.Duration,
		Stages:         timings,
		Embedder: ui.EmbedderInfo{
			Provider:   b.cfg.Provider,
			Model:      manifest.EmbeddingModel,
			Dimensions: manifest.Dimensions,
		},
	})

	slog.Info("build_complete",
		slog.Int("chunks", manifest.Count),
		slog.Int("documents", manifest.Documents),
		slog.Int("dimensions", manifest.Dimensions),
		slog.String("tokenizer", manifest.Tokenizer),
		slog.Int64("duration_ms", result.Duration.Milliseconds()),
		slog.Int64("duration_tokenize_ms", timings.Tokenize.Milliseconds()),
		slog.Int64("duration_embed_ms", timings.Embed.Milliseconds()),
		slog.Int64("duration_index_ms", timings.Index.Milliseconds()),
		slog.Int64("duration_save_ms", timings.Save.Milliseconds()))

	return result, nil
}

func (b *Builder) tokenizeAll(ctx context.Context, records []corpus.Record) ([][]string, error) {
	if !b.tokenizer.Available() {
		b.renderer.AddError(ui.ErrorEvent{
			Err:    fmt.Errorf("morphological analyzer unavailable, using %s tokenization", b.tokenizer.Name()),
			IsWarn: true,
		})
	}

	tokens := make([][]string, len(records))
	for i, r := range records {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tokens[i] = b.tokenizer.Tokenize(r.Text)
		if len(tokens[i]) == 0 {
			b.renderer.AddError(ui.ErrorEvent{
				Item:   r.ChunkID,
				Err:    errors.New("no index terms"),
				IsWarn: true,
			})
		}
		b.progress(ui.StageTokenizing, i+1, len(records), r.ChunkID)
	}
	return tokens, nil
}

// embedAll embeds texts in batches on a worker pool. Row i of the result
// belongs to texts[i] regardless of completion order. The first failure
// cancels the remaining batches.
func (b *Builder) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	pool, err := ants.NewPool(b.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	vectors := make([][]float32, len(texts))
	var (
		wg   sync.WaitGroup
		done atomic.Int64
	)

	b.progress(ui.StageEmbedding, 0, len(texts), "")
	for start := 0; start < len(texts); start += b.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+b.cfg.BatchSize, len(texts))

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			out, err := b.embedder.EmbedBatch(ctx, texts[start:end])
			if err == nil && len(out) != end-start {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(out), end-start)
			}
			if err != nil {
				cancel(apperrors.New(apperrors.ErrCodeEmbeddingFailed,
					fmt.Sprintf("failed to embed chunks %d-%d", start, end-1), err))
				return
			}
			copy(vectors[start:end], out)
			n := done.Add(int64(len(out)))
			b.progress(ui.StageEmbedding, int(n), len(texts), "")
		})
		if submitErr != nil {
			wg.Done()
			cancel(fmt.Errorf("failed to schedule embedding batch: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (b *Builder) save(meta *store.MetadataTable, vector *store.VectorStore, lexical *store.LexicalStore, manifest store.Manifest) error {
	dir := b.cfg.IndexDir
	steps := []struct {
		name string
		fn   func() error
	}{
		{store.MetadataFile, func() error { return meta.Save(metadataPath(dir)) }},
		{store.VectorFile, func() error { return vector.Save(dir) }},
		{store.LexicalFile, func() error { return lexical.Save(dir) }},
		{store.ManifestFile, func() error { return store.WriteManifest(dir, manifest) }},
	}

	for i, step := range steps {
		b.progress(ui.StageSaving, i, len(steps), step.name)
		if err := step.fn(); err != nil {
			if apperrors.GetCode(err) != "" {
				return err
			}
			return apperrors.New(apperrors.ErrCodeIndexWrite, "failed to write "+step.name, err).
				WithDetail("index_dir", dir)
		}
	}
	b.progress(ui.StageSaving, len(steps), len(steps), "")
	return nil
}

func (b *Builder) progress(stage ui.Stage, current, total int, item string) {
	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: stage, Current: current, Total: total, Item: item})
}

func countDocuments(records []corpus.Record) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.DocID] = struct{}{}
	}
	return len(seen)
}
