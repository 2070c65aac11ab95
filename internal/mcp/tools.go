package mcp

import (
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query   string          `json:"query" jsonschema:"the search query, e.g. a symptom such as 油圧低下"`
	Limit   int             `json:"limit,omitempty" jsonschema:"maximum number of results, default 5, at most 20"`
	Filters *search.Filters `json:"filters,omitempty" jsonschema:"metadata filters; values within a key are ORed, keys are ANDed"`
}

// SearchOutput defines the structured output of the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
}

// SearchResultOutput is one ranked maintenance record.
type SearchResultOutput struct {
	DocID       string  `json:"doc_id" jsonschema:"document identifier"`
	ChunkID     string  `json:"chunk_id" jsonschema:"matched chunk identifier"`
	Title       string  `json:"title,omitempty"`
	Score       float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	Reranked    bool    `json:"reranked,omitempty" jsonschema:"true if the pairwise relevance model scored this result"`
	Date        string  `json:"date,omitempty"`
	Category    string  `json:"category,omitempty"`
	Line        string  `json:"line,omitempty"`
	Equipment   string  `json:"equipment,omitempty" jsonschema:"equipment path, largest unit first"`
	Text        string  `json:"text" jsonschema:"matched chunk text"`
	ActionTaken string  `json:"action_taken,omitempty"`
}

// GetDocumentInput defines the input schema for the get_document tool.
type GetDocumentInput struct {
	DocID string `json:"doc_id" jsonschema:"document or chunk identifier"`
}

// ListFiltersInput defines the input schema for the list_filters tool (no parameters).
type ListFiltersInput struct{}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Index      IndexInfo     `json:"index"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	Reranker   RerankerInfo  `json:"reranker"`
	Queries    int64         `json:"queries"`
}

// IndexInfo describes the loaded snapshot.
type IndexInfo struct {
	Dir            string `json:"dir,omitempty"`
	Loaded         bool   `json:"loaded"`
	Chunks         int    `json:"chunks"`
	Documents      int    `json:"documents"`
	IndexType      string `json:"index_type,omitempty"`
	LexicalBackend string `json:"lexical_backend,omitempty"`
	Tokenizer      string `json:"tokenizer,omitempty"`
	BuiltAt        string `json:"built_at,omitempty"`
}

// EmbeddingInfo describes the query embedder and the model the index was built with.
type EmbeddingInfo struct {
	IndexModel string `json:"index_model,omitempty"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"` // ready, unavailable
	Mismatch   bool   `json:"mismatch,omitempty" jsonschema:"true if the query embedder differs from the one the index was built with"`
}

// RerankerInfo describes the pairwise scorer.
type RerankerInfo struct {
	Ready bool `json:"ready"`
}

// DocumentOutput defines the structured output of the get_document tool.
type DocumentOutput struct {
	DocID         string `json:"doc_id"`
	Title         string `json:"title,omitempty"`
	Date          string `json:"date,omitempty"`
	Category      string `json:"category,omitempty"`
	WorkType      string `json:"work_type,omitempty"`
	Line          string `json:"line,omitempty"`
	Location      string `json:"location,omitempty"`
	Equipment     string `json:"equipment,omitempty"`
	Symptom       string `json:"symptom,omitempty"`
	ActionTaken   string `json:"action_taken,omitempty"`
	PartsReplaced string `json:"parts_replaced,omitempty"`
	Content       string `json:"content" jsonschema:"all chunks of the record joined in order"`
	Chunks        int    `json:"chunks"`
}

// FiltersOutput defines the structured output of the list_filters tool.
type FiltersOutput struct {
	Categories      []string         `json:"categories"`
	WorkTypes       []string         `json:"work_types"`
	ProductionLines []string         `json:"production_lines"`
	Locations       []string         `json:"locations"`
	Equipment1s     []string         `json:"equipment1s"`
	Equipment2s     []string         `json:"equipment2s"`
	Equipment3s     []string         `json:"equipment3s"`
	YearRange       search.YearRange `json:"year_range"`
	TotalDocuments  int              `json:"total_documents"`
}
