package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWConfig tunes the graph. Zero values take the defaults below.
type HNSWConfig struct {
	Metric   Metric
	M        int
	EfSearch int
}

// HNSWIndex is an approximate index on coder/hnsw. Node keys are build positions.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig
	dims   int
	count  int
}

// hnswMetadata is the gob sidecar written next to the exported graph.
type hnswMetadata struct {
	Config HNSWConfig
	Dims   int
	Count  int
}

var _ VectorIndex = (*HNSWIndex)(nil)

// NewHNSWIndex creates an empty HNSW index.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	return &HNSWIndex{graph: newGraph(cfg), config: cfg}
}

func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Build replaces the graph with one node per row.
func (h *HNSWIndex) Build(vectors [][]float32) error {
	dims, err := validateMatrix(vectors)
	if err != nil {
		return err
	}

	graph := newGraph(h.config)
	nodes := make([]hnsw.Node[uint64], len(vectors))
	for i, v := range vectors {
		vec := copyVector(v)
		if h.config.Metric == MetricCosine {
			normalizeInPlace(vec)
		}
		nodes[i] = hnsw.MakeNode(uint64(i), vec)
	}
	graph.Add(nodes...)

	h.mu.Lock()
	h.graph = graph
	h.dims = dims
	h.count = len(vectors)
	h.mu.Unlock()
	return nil
}

// Search runs one graph search per query. Keys without a build position are skipped.
func (h *HNSWIndex) Search(queries [][]float32, k int) ([][]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([][]Neighbor, len(queries))
	if h.count == 0 || k <= 0 {
		return out, nil
	}

	for qi, query := range queries {
		if len(query) != h.dims {
			return nil, ErrDimensionMismatch{Expected: h.dims, Got: len(query)}
		}
		q := copyVector(query)
		if h.config.Metric == MetricCosine {
			normalizeInPlace(q)
		}

		nodes := h.graph.Search(q, k)
		hits := make([]Neighbor, 0, len(nodes))
		for _, node := range nodes {
			if node.Key >= uint64(h.count) {
				continue
			}
			distance := h.graph.Distance(q, node.Value)
			hits = append(hits, Neighbor{Pos: int(node.Key), Score: distanceToScore(distance, h.config.Metric)})
		}
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].Pos < hits[j].Pos
		})
		out[qi] = hits
	}
	return out, nil
}

// distanceToScore converts a graph distance into a similarity where higher is better.
// Cosine distance is 1-cos, so the score matches the flat index's inner product.
func distanceToScore(distance float32, metric Metric) float64 {
	if metric == MetricL2 {
		return 1.0 / (1.0 + float64(distance))
	}
	return 1.0 - float64(distance)
}

// Len returns the number of indexed vectors.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dimensions returns the vector width.
func (h *HNSWIndex) Dimensions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dims
}

// Save exports the graph to path and its configuration to path+".meta".
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := writeAtomic(path, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := h.graph.Export(bw); err != nil {
			return fmt.Errorf("failed to export graph: %w", err)
		}
		return bw.Flush()
	}); err != nil {
		return err
	}

	meta := hnswMetadata{Config: h.config, Dims: h.dims, Count: h.count}
	return writeAtomic(path+".meta", func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(meta)
	})
}

// Load restores a graph written by Save.
func (h *HNSWIndex) Load(path string) error {
	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	graph := newGraph(meta.Config)
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.graph = graph
	h.config = meta.Config
	h.dims = meta.Dims
	h.count = meta.Count
	return nil
}

func readHNSWMetadata(path string) (hnswMetadata, error) {
	var meta hnswMetadata
	file, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close hnsw metadata file", slog.String("error", err.Error()))
		}
	}()

	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	return meta, nil
}
