package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
)

// OpenConfig selects the snapshot to open. The backends are only used when
// the directory has no manifest; otherwise the manifest wins.
type OpenConfig struct {
	IndexDir       string
	IndexType      store.IndexType
	LexicalBackend store.LexicalBackend
	HNSW           store.HNSWConfig
	Normalize      bool
}

// Snapshot is an opened index directory. Stores whose artifact is missing or
// unreadable stay unloaded and answer every search with no hits.
type Snapshot struct {
	Dir         string
	Manifest    store.Manifest
	HasManifest bool
	Meta        *store.MetadataTable
	Vector      *store.VectorStore
	Lexical     *store.LexicalStore
}

// Open loads the snapshot in cfg.IndexDir. Missing or broken artifacts are
// logged and leave the affected store unloaded; Open only fails on a
// cancelled context or a manifest written by a newer version.
func Open(ctx context.Context, cfg OpenConfig) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := cfg.IndexDir
	indexType, backend := cfg.IndexType, cfg.LexicalBackend
	hnswCfg := cfg.HNSW
	hnswCfg.Metric = store.MetricFor(cfg.Normalize)

	snap := &Snapshot{Dir: dir}

	manifest, err := store.ReadManifest(dir)
	switch {
	case err == nil:
		snap.Manifest = manifest
		snap.HasManifest = true
		indexType, backend = manifest.IndexType, manifest.LexicalBackend
		if manifest.Metric != "" {
			hnswCfg.Metric = manifest.Metric
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("snapshot_manifest_missing", slog.String("index_dir", dir))
	default:
		if manifest.Version > store.ManifestVersion {
			return nil, apperrors.New(apperrors.ErrCodeIndexCorrupt, "snapshot was written by a newer version", err).
				WithSuggestion("Upgrade assistchat or rebuild the index")
		}
		slog.Warn("snapshot_manifest_unreadable", slog.String("index_dir", dir), slog.String("error", err.Error()))
	}

	snap.Vector = store.NewVectorStore(store.NewVectorIndex(indexType, hnswCfg))
	snap.Lexical = store.NewLexicalStore(store.NewLexicalIndex(backend))

	meta, err := store.LoadMetadataTable(metadataPath(dir))
	if err != nil {
		logLoadFailure("metadata", dir, err)
		snap.Meta = store.NewMetadataTable(nil)
		return snap, nil
	}
	snap.Meta = meta

	if err := snap.Vector.Load(dir, meta); err != nil {
		logLoadFailure("vector", dir, err)
	}
	if err := snap.Lexical.Load(dir, meta); err != nil {
		logLoadFailure("lexical", dir, err)
	}

	slog.Info("snapshot_opened",
		slog.String("index_dir", dir),
		slog.Int("records", meta.Len()),
		slog.Bool("vector_loaded", snap.Vector.Loaded()),
		slog.Bool("lexical_loaded", snap.Lexical.Loaded()))
	return snap, nil
}

// Loaded reports whether the metadata table holds any records.
func (s *Snapshot) Loaded() bool {
	return s != nil && s.Meta.Len() > 0
}

// Close releases the lexical backend.
func (s *Snapshot) Close() error {
	if s == nil || s.Lexical == nil {
		return nil
	}
	return s.Lexical.Close()
}

// Sizes returns the on-disk size of each artifact. Missing files count as zero.
func (s *Snapshot) Sizes() (vector, lexical, metadata int64) {
	return pathSize(filepath.Join(s.Dir, store.VectorFile)),
		pathSize(filepath.Join(s.Dir, store.LexicalFile)),
		pathSize(metadataPath(s.Dir))
}

// CheckEmbedder reports a mismatch between the embedder and the model or
// width the vectors were built with. A snapshot without vectors always passes.
func (s *Snapshot) CheckEmbedder(e embed.Embedder) error {
	if !s.Vector.Loaded() || e == nil {
		return nil
	}
	if dims := s.Vector.Dimensions(); dims != e.Dimensions() {
		return apperrors.New(apperrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d-dimensional vectors but embedder %s produces %d", dims, e.ModelName(), e.Dimensions()), nil).
			WithSuggestion("Rebuild the index with `assistchat build` or switch back to the original embedding model")
	}
	if s.HasManifest && s.Manifest.EmbeddingModel != "" && s.Manifest.EmbeddingModel != e.ModelName() {
		slog.Warn("embedding_model_changed",
			slog.String("index_model", s.Manifest.EmbeddingModel),
			slog.String("embedder_model", e.ModelName()))
	}
	return nil
}

// Issue is a disagreement between the manifest and the loaded stores.
type Issue struct {
	Store   string
	Details string
}

// Check compares the loaded stores against the manifest.
func (s *Snapshot) Check() []Issue {
	var issues []Issue
	if !s.HasManifest {
		return append(issues, Issue{Store: "manifest", Details: "missing"})
	}
	want := s.Manifest.Count
	if got := s.Meta.Len(); got != want {
		issues = append(issues, Issue{Store: "metadata", Details: fmt.Sprintf("%d records, manifest says %d", got, want)})
	}
	if !s.Vector.Loaded() {
		issues = append(issues, Issue{Store: "vector", Details: "not loaded"})
	} else if got := s.Vector.Len(); got != want {
		issues = append(issues, Issue{Store: "vector", Details: fmt.Sprintf("%d vectors, manifest says %d", got, want)})
	}
	if !s.Lexical.Loaded() {
		issues = append(issues, Issue{Store: "lexical", Details: "not loaded"})
	} else if got := s.Lexical.Len(); got != want {
		issues = append(issues, Issue{Store: "lexical", Details: fmt.Sprintf("%d documents, manifest says %d", got, want)})
	}
	return issues
}

func logLoadFailure(part, dir string, err error) {
	slog.Warn("snapshot_load_failed",
		slog.String("store", part),
		slog.String("index_dir", dir),
		slog.String("error", err.Error()))
}

func metadataPath(dir string) string {
	return filepath.Join(dir, store.MetadataFile)
}

// pathSize sums regular files under path, which may be a file or a
// directory (the bleve backend writes a directory).
func pathSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
