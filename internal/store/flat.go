package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Metric is the similarity used by a vector index.
type Metric string

const (
	// MetricCosine normalizes vectors and scores by inner product.
	MetricCosine Metric = "cos"

	// MetricL2 scores by 1/(1+euclidean distance).
	MetricL2 Metric = "l2"
)

var flatMagic = [4]byte{'A', 'C', 'V', 'F'}

const flatVersion uint32 = 1

// FlatIndex is an exact index over a row-major float32 buffer.
type FlatIndex struct {
	metric Metric

	mu   sync.RWMutex
	dims int
	data []float32
}

var _ VectorIndex = (*FlatIndex)(nil)

// NewFlatIndex creates an empty exact index.
func NewFlatIndex(metric Metric) *FlatIndex {
	if metric == "" {
		metric = MetricCosine
	}
	return &FlatIndex{metric: metric}
}

// Build replaces the index contents.
func (f *FlatIndex) Build(vectors [][]float32) error {
	dims, err := validateMatrix(vectors)
	if err != nil {
		return err
	}

	data := make([]float32, 0, len(vectors)*dims)
	for _, v := range vectors {
		row := copyVector(v)
		if f.metric == MetricCosine {
			normalizeInPlace(row)
		}
		data = append(data, row...)
	}

	f.mu.Lock()
	f.dims = dims
	f.data = data
	f.mu.Unlock()
	return nil
}

// Search scores every row against each query. Equal scores keep row order.
func (f *FlatIndex) Search(queries [][]float32, k int) ([][]Neighbor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.lenLocked()
	out := make([][]Neighbor, len(queries))
	if n == 0 || k <= 0 {
		return out, nil
	}
	k = min(k, n)

	for qi, query := range queries {
		if len(query) != f.dims {
			return nil, ErrDimensionMismatch{Expected: f.dims, Got: len(query)}
		}
		q := copyVector(query)
		if f.metric == MetricCosine {
			normalizeInPlace(q)
		}

		scored := make([]Neighbor, n)
		for pos := 0; pos < n; pos++ {
			row := f.data[pos*f.dims : (pos+1)*f.dims]
			scored[pos] = Neighbor{Pos: pos, Score: f.score(q, row)}
		}
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Score > scored[j].Score
		})
		out[qi] = scored[:k]
	}
	return out, nil
}

func (f *FlatIndex) score(q, row []float32) float64 {
	if f.metric == MetricL2 {
		var sum float64
		for i := range q {
			d := float64(q[i]) - float64(row[i])
			sum += d * d
		}
		return 1.0 / (1.0 + math.Sqrt(sum))
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(row[i])
	}
	return dot
}

// Len returns the number of rows.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lenLocked()
}

func (f *FlatIndex) lenLocked() int {
	if f.dims == 0 {
		return 0
	}
	return len(f.data) / f.dims
}

// Dimensions returns the vector width, 0 before Build or Load.
func (f *FlatIndex) Dimensions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dims
}

// Save writes a zstd-compressed blob via temp file and rename.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return writeAtomic(path, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		bw := bufio.NewWriter(enc)
		header := struct {
			Magic   [4]byte
			Version uint32
			Cosine  uint8
			Dims    uint32
			Rows    uint32
		}{flatMagic, flatVersion, boolByte(f.metric == MetricCosine), uint32(f.dims), uint32(f.lenLocked())}
		if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
			_ = enc.Close()
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, f.data); err != nil {
			_ = enc.Close()
			return err
		}
		if err := bw.Flush(); err != nil {
			_ = enc.Close()
			return err
		}
		return enc.Close()
	})
}

// Load replaces the index with a blob written by Save.
func (f *FlatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	var header struct {
		Magic   [4]byte
		Version uint32
		Cosine  uint8
		Dims    uint32
		Rows    uint32
	}
	br := bufio.NewReader(dec)
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header.Magic != flatMagic || header.Version != flatVersion {
		return fmt.Errorf("not a flat vector blob: %s", path)
	}

	data := make([]float32, int(header.Dims)*int(header.Rows))
	if err := binary.Read(br, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("read vectors: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dims = int(header.Dims)
	f.data = data
	f.metric = MetricL2
	if header.Cosine == 1 {
		f.metric = MetricCosine
	}
	return nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// writeAtomic writes through fn into a temp file next to path and renames it.
func writeAtomic(path string, fn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := fn(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
