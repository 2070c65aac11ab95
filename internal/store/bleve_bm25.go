package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	lemmaAnalyzerName = "lemma_analyzer"
	bleveContentField = "content"
)

// BleveBM25 indexes whitespace-joined lemmas in Bleve with BM25 scoring.
// Document ids are build positions.
type BleveBM25 struct {
	mu     sync.RWMutex
	index  bleve.Index
	corpus [][]string
}

type bleveDocument struct {
	Content string `json:"content"`
}

var _ LexicalIndex = (*BleveBM25)(nil)

// NewBleveBM25 creates an empty Bleve-backed index.
func NewBleveBM25() *BleveBM25 {
	return &BleveBM25{}
}

// createIndexMapping maps content with a whitespace analyzer. Tokens arrive
// already lemmatized, so no further analysis is wanted.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(lemmaAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = lemmaAnalyzerName
	indexMapping.ScoringModel = "bm25"
	return indexMapping, nil
}

// Build indexes corpus into a memory-only Bleve index.
func (b *BleveBM25) Build(corpus [][]string) error {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return err
	}
	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := indexCorpus(idx, corpus); err != nil {
		_ = idx.Close()
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index != nil {
		_ = b.index.Close()
	}
	b.index = idx
	b.corpus = corpus
	return nil
}

func indexCorpus(idx bleve.Index, corpus [][]string) error {
	batch := idx.NewBatch()
	for pos, tokens := range corpus {
		if err := batch.Index(strconv.Itoa(pos), bleveDocument{Content: strings.Join(tokens, " ")}); err != nil {
			return fmt.Errorf("failed to index document %d: %w", pos, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search ORs one term query per token and keeps hits with a positive score.
func (b *BleveBM25) Search(tokens []string, k int) ([]Neighbor, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.index == nil || k <= 0 || len(tokens) == 0 {
		return nil, nil
	}

	terms := make([]query.Query, 0, len(tokens))
	for _, tok := range tokens {
		tq := bleve.NewTermQuery(tok)
		tq.SetField(bleveContentField)
		terms = append(terms, tq)
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(terms...), k, 0, false)

	result, err := b.index.SearchInContext(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	hits := make([]Neighbor, 0, len(result.Hits))
	for _, hit := range result.Hits {
		pos, err := strconv.Atoi(hit.ID)
		if err != nil || hit.Score <= 0 {
			continue
		}
		hits = append(hits, Neighbor{Pos: pos, Score: hit.Score})
	}
	return hits, nil
}

// Len returns the number of indexed documents.
func (b *BleveBM25) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.corpus)
}

// Save writes an on-disk Bleve index directory at path, replacing any existing one.
func (b *BleveBM25) Save(path string) error {
	b.mu.RLock()
	corpus := b.corpus
	b.mu.RUnlock()

	indexMapping, err := createIndexMapping()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	_ = os.RemoveAll(tmp)
	idx, err := bleve.New(tmp, indexMapping)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := indexCorpus(idx, corpus); err != nil {
		_ = idx.Close()
		_ = os.RemoveAll(tmp)
		return err
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	// The corpus is kept beside the index so Len and rebuilds survive a reload.
	data, err := json.Marshal(corpus)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, "corpus.json"), data, 0o644); err != nil {
		return err
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove old index: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load opens a Bleve index directory written by Save.
func (b *BleveBM25) Load(path string) error {
	if err := validateIndexIntegrity(path); err != nil {
		slog.Warn("bm25_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		return err
	}

	data, err := os.ReadFile(filepath.Join(path, "corpus.json"))
	if err != nil {
		return err
	}
	var corpus [][]string
	if err := json.Unmarshal(data, &corpus); err != nil {
		return fmt.Errorf("decode corpus: %w", err)
	}

	idx, err := bleve.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index != nil {
		_ = b.index.Close()
	}
	b.index = idx
	b.corpus = corpus
	return nil
}

// validateIndexIntegrity checks index_meta.json before bleve.Open touches the directory.
func validateIndexIntegrity(path string) error {
	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if err != nil {
		return fmt.Errorf("index_meta.json missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// Close releases the Bleve index.
func (b *BleveBM25) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	return err
}
