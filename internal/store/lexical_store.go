package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// LexicalStore pairs a LexicalIndex with the metadata table. Searches before
// Build or Load log a warning and return no hits.
type LexicalStore struct {
	index LexicalIndex

	mu     sync.RWMutex
	meta   *MetadataTable
	loaded bool
}

// NewLexicalStore wraps index.
func NewLexicalStore(index LexicalIndex) *LexicalStore {
	return &LexicalStore{index: index}
}

// Build indexes one token list per metadata position.
func (s *LexicalStore) Build(corpus [][]string, meta *MetadataTable) error {
	if len(corpus) != meta.Len() {
		return apperrors.ErrInvalidInput(
			fmt.Sprintf("got %d token lists for %d metadata records", len(corpus), meta.Len()), nil)
	}
	if err := s.index.Build(corpus); err != nil {
		return err
	}
	s.mu.Lock()
	s.meta = meta
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Save writes the lexical blob into dir.
func (s *LexicalStore) Save(dir string) error {
	if !s.Loaded() {
		return apperrors.ErrIndexUnavailable("lexical index has not been built", nil)
	}
	if err := s.index.Save(filepath.Join(dir, LexicalFile)); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexWrite, "failed to save lexical index", err)
	}
	return nil
}

// Load reads the lexical blob from dir and attaches meta.
func (s *LexicalStore) Load(dir string, meta *MetadataTable) error {
	path := filepath.Join(dir, LexicalFile)
	if err := s.index.Load(path); err != nil {
		return apperrors.ErrIndexUnavailable("lexical index could not be loaded", err).WithDetail("path", path)
	}
	if s.index.Len() != meta.Len() {
		return apperrors.New(apperrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("lexical index has %d documents but metadata has %d", s.index.Len(), meta.Len()), nil)
	}
	s.mu.Lock()
	s.meta = meta
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Loaded reports whether searches can return results.
func (s *LexicalStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Len returns the number of indexed documents.
func (s *LexicalStore) Len() int {
	if !s.Loaded() {
		return 0
	}
	return s.index.Len()
}

// Search returns up to k documents sharing at least one term with query.
func (s *LexicalStore) Search(query []string, k int) ([]Hit, error) {
	s.mu.RLock()
	loaded, meta := s.loaded, s.meta
	s.mu.RUnlock()

	if !loaded {
		slog.Warn("lexical_index_unavailable", slog.Int("query_tokens", len(query)))
		return nil, nil
	}

	neighbors, err := s.index.Search(query, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Score <= 0 {
			continue
		}
		rec, ok := meta.At(n.Pos)
		if !ok {
			continue
		}
		hits = append(hits, Hit{Record: rec, Score: n.Score})
	}
	return hits, nil
}

// Close releases the underlying index.
func (s *LexicalStore) Close() error {
	return s.index.Close()
}
