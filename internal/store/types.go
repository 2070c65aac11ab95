// Package store holds the three persisted parts of a corpus snapshot: the
// vector index, the lexical index and the metadata table.
package store

import (
	"errors"
	"fmt"
	"strings"
)

// Artifact file names inside the index directory.
const (
	VectorFile   = "maintenance.vec"
	LexicalFile  = "maintenance.bm25"
	MetadataFile = "maintenance.meta.db"
	ManifestFile = "snapshot.json"
	lockFile     = ".build.lock"
)

// IndexType selects the vector index strategy.
type IndexType string

const (
	// IndexFlat is exact brute-force search.
	IndexFlat IndexType = "Flat"

	// IndexHNSW is approximate search over an HNSW graph.
	IndexHNSW IndexType = "HNSW"
)

// ParseIndexType accepts "flat" and "hnsw" case-insensitively.
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flat":
		return IndexFlat, nil
	case "hnsw":
		return IndexHNSW, nil
	default:
		return "", fmt.Errorf("unknown index type %q", s)
	}
}

// LexicalBackend selects the BM25 implementation.
type LexicalBackend string

const (
	// BackendMemory is the in-process Okapi BM25 index.
	BackendMemory LexicalBackend = "memory"

	// BackendBleve stores lemmas in a Bleve index with BM25 scoring.
	BackendBleve LexicalBackend = "bleve"

	// BackendSQLite stores lemmas in an SQLite FTS5 table.
	BackendSQLite LexicalBackend = "sqlite"
)

// ParseLexicalBackend validates a backend name.
func ParseLexicalBackend(s string) (LexicalBackend, error) {
	switch b := LexicalBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendSQLite, nil
	case BackendMemory, BackendBleve, BackendSQLite:
		return b, nil
	default:
		return "", fmt.Errorf("unknown lexical backend %q", s)
	}
}

// Neighbor is a position in the build order together with its score.
// Higher scores are better for every index type.
type Neighbor struct {
	Pos   int
	Score float64
}

// VectorIndex searches fixed-dimension vectors by position.
type VectorIndex interface {
	// Build replaces the index contents. vectors must be a non-empty N×D matrix.
	Build(vectors [][]float32) error

	// Search returns up to k neighbors per query, best first.
	Search(queries [][]float32, k int) ([][]Neighbor, error)

	Len() int
	Dimensions() int
	Save(path string) error
	Load(path string) error
}

// LexicalIndex ranks tokenized documents by position.
type LexicalIndex interface {
	// Build replaces the index contents with one token list per document.
	Build(corpus [][]string) error

	// Search returns up to k documents with score > 0, best first.
	Search(query []string, k int) ([]Neighbor, error)

	Len() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch is returned when a query does not match the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// ErrIndexLocked is returned when another process holds the build lock.
var ErrIndexLocked = errors.New("index directory is locked by another build")
