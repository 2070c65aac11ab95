package store

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// BM25 parameters.
const (
	DefaultK1      = 1.5
	DefaultB       = 0.75
	DefaultEpsilon = 0.25
)

// OkapiBM25 is an in-memory Okapi BM25 index. Terms whose idf would be
// negative (present in more than half the documents) get Epsilon times the
// mean idf instead.
type OkapiBM25 struct {
	K1      float64
	B       float64
	Epsilon float64

	mu       sync.RWMutex
	corpus   [][]string
	termFreq []map[string]int
	docLen   []int
	avgdl    float64
	idf      map[string]float64
}

var _ LexicalIndex = (*OkapiBM25)(nil)

// NewOkapiBM25 creates an empty index with the default parameters.
func NewOkapiBM25() *OkapiBM25 {
	return &OkapiBM25{K1: DefaultK1, B: DefaultB, Epsilon: DefaultEpsilon}
}

// Build computes document frequencies, lengths and idf for corpus.
func (o *OkapiBM25) Build(corpus [][]string) error {
	termFreq := make([]map[string]int, len(corpus))
	docLen := make([]int, len(corpus))
	docFreq := make(map[string]int)
	total := 0

	for i, doc := range corpus {
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		for term := range tf {
			docFreq[term]++
		}
		termFreq[i] = tf
		docLen[i] = len(doc)
		total += len(doc)
	}

	n := float64(len(corpus))
	idf := make(map[string]float64, len(docFreq))
	var idfSum float64
	var negative []string
	for term, df := range docFreq {
		v := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idf[term] = v
		idfSum += v
		if v < 0 {
			negative = append(negative, term)
		}
	}
	if len(idf) > 0 {
		floor := o.Epsilon * idfSum / float64(len(idf))
		for _, term := range negative {
			idf[term] = floor
		}
	}

	avgdl := 0.0
	if len(corpus) > 0 {
		avgdl = float64(total) / n
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.corpus = corpus
	o.termFreq = termFreq
	o.docLen = docLen
	o.avgdl = avgdl
	o.idf = idf
	return nil
}

// Scores returns the BM25 score of every document for query. A term repeated
// in the query contributes once per occurrence.
func (o *OkapiBM25) Scores(query []string) []float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	scores := make([]float64, len(o.termFreq))
	avgdl := o.avgdl
	if avgdl == 0 {
		avgdl = 1
	}
	for _, term := range query {
		idf, ok := o.idf[term]
		if !ok {
			continue
		}
		for i, tf := range o.termFreq {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			norm := o.K1 * (1 - o.B + o.B*float64(o.docLen[i])/avgdl)
			scores[i] += idf * (f * (o.K1 + 1) / (f + norm))
		}
	}
	return scores
}

// Search returns up to k documents with a positive score, best first.
func (o *OkapiBM25) Search(query []string, k int) ([]Neighbor, error) {
	if k <= 0 || len(query) == 0 {
		return nil, nil
	}
	return topPositive(o.Scores(query), k), nil
}

// topPositive keeps scores > 0 and sorts them descending, ties by position.
func topPositive(scores []float64, k int) []Neighbor {
	hits := make([]Neighbor, 0, len(scores))
	for pos, s := range scores {
		if s > 0 {
			hits = append(hits, Neighbor{Pos: pos, Score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Len returns the number of documents.
func (o *OkapiBM25) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.termFreq)
}

type okapiBlob struct {
	K1, B, Epsilon float64
	Corpus         [][]string
}

// Save writes the tokenized corpus and parameters as zstd-compressed gob.
// Statistics are recomputed on Load.
func (o *OkapiBM25) Save(path string) error {
	o.mu.RLock()
	blob := okapiBlob{K1: o.K1, B: o.B, Epsilon: o.Epsilon, Corpus: o.corpus}
	o.mu.RUnlock()

	return writeAtomic(path, func(w io.Writer) error {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := gob.NewEncoder(enc).Encode(blob); err != nil {
			_ = enc.Close()
			return fmt.Errorf("encode bm25 blob: %w", err)
		}
		return enc.Close()
	})
}

// Load restores an index written by Save.
func (o *OkapiBM25) Load(path string) error {
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

	var blob okapiBlob
	if err := gob.NewDecoder(dec).Decode(&blob); err != nil {
		return fmt.Errorf("decode bm25 blob: %w", err)
	}
	o.K1, o.B, o.Epsilon = blob.K1, blob.B, blob.Epsilon
	return o.Build(blob.Corpus)
}

// Close is a no-op for the in-memory index.
func (o *OkapiBM25) Close() error { return nil }
