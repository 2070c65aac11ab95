package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// Hit is a resolved search result from one retrieval path. Score semantics
// depend on the path and must not be compared across paths.
type Hit struct {
	Record corpus.Record
	Score  float64
}

// VectorStore pairs a VectorIndex with the metadata table. Searches before
// Build or Load log a warning and return no hits.
type VectorStore struct {
	index VectorIndex

	mu     sync.RWMutex
	meta   *MetadataTable
	loaded bool
}

// NewVectorStore wraps index.
func NewVectorStore(index VectorIndex) *VectorStore {
	return &VectorStore{index: index}
}

// Build indexes vectors. Row i must describe meta position i.
func (s *VectorStore) Build(vectors [][]float32, meta *MetadataTable) error {
	if len(vectors) != meta.Len() {
		return apperrors.ErrInvalidInput(
			fmt.Sprintf("got %d vectors for %d metadata records", len(vectors), meta.Len()), nil)
	}
	if err := s.index.Build(vectors); err != nil {
		return err
	}
	s.mu.Lock()
	s.meta = meta
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Save writes the vector blob into dir.
func (s *VectorStore) Save(dir string) error {
	if !s.Loaded() {
		return apperrors.ErrIndexUnavailable("vector index has not been built", nil)
	}
	if err := s.index.Save(filepath.Join(dir, VectorFile)); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWrite, "failed to save vector index", err)
	}
	return nil
}

// Load reads the vector blob from dir and attaches meta.
func (s *VectorStore) Load(dir string, meta *MetadataTable) error {
	path := filepath.Join(dir, VectorFile)
	if err := s.index.Load(path); err != nil {
		return apperrors.ErrIndexUnavailable("vector index could not be loaded", err).WithDetail("path", path)
	}
	if s.index.Len() != meta.Len() {
		return apperrors.New(apperrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("vector index has %d rows but metadata has %d", s.index.Len(), meta.Len()), nil)
	}
	s.mu.Lock()
	s.meta = meta
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Loaded reports whether searches can return results.
func (s *VectorStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Len returns the number of indexed vectors.
func (s *VectorStore) Len() int {
	if !s.Loaded() {
		return 0
	}
	return s.index.Len()
}

// Dimensions returns the indexed vector width.
func (s *VectorStore) Dimensions() int { return s.index.Dimensions() }

// Search promotes query to a batch of one.
func (s *VectorStore) Search(query []float32, k int) ([]Hit, error) {
	hits, err := s.SearchBatch([][]float32{query}, k)
	if err != nil || len(hits) == 0 {
		return nil, err
	}
	return hits[0], nil
}

// SearchBatch returns up to k hits per query, best first. Neighbor positions
// outside the metadata table are skipped.
func (s *VectorStore) SearchBatch(queries [][]float32, k int) ([][]Hit, error) {
	s.mu.RLock()
	loaded, meta := s.loaded, s.meta
	s.mu.RUnlock()

	if !loaded {
		slog.Warn("vector_index_unavailable", slog.Int("queries", len(queries)))
		return make([][]Hit, len(queries)), nil
	}

	neighbors, err := s.index.Search(queries, k)
	if err != nil {
		return nil, err
	}

	out := make([][]Hit, len(neighbors))
	for qi, ns := range neighbors {
		hits := make([]Hit, 0, len(ns))
		for _, n := range ns {
			rec, ok := meta.At(n.Pos)
			if !ok {
				continue
			}
			hits = append(hits, Hit{Record: rec, Score: n.Score})
		}
		out[qi] = hits
	}
	return out, nil
}
