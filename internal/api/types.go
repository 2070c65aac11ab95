package api

import (
	"fmt"
	"unicode/utf8"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
)

// SearchRequest is the body of POST /api/search.
type SearchRequest struct {
	Query   string          `json:"query"`
	Filters *search.Filters `json:"filters,omitempty"`
	K       *int            `json:"k,omitempty"`
}

// validate checks the request and returns the effective k.
func (r SearchRequest) validate() (int, *apperrors.AppError) {
	n := utf8.RuneCountInString(r.Query)
	if n == 0 {
		return 0, apperrors.ErrInvalidInput("query must not be empty", nil)
	}
	if n > maxQueryRunes {
		return 0, apperrors.New(apperrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, the limit is %d", n, maxQueryRunes), nil)
	}
	if r.K == nil {
		return defaultK, nil
	}
	if *r.K < 1 || *r.K > maxK {
		return 0, apperrors.ErrInvalidInput(fmt.Sprintf("k must be between 1 and %d, got %d", maxK, *r.K), nil)
	}
	return *r.K, nil
}

// SearchResult is one hit as shown by the chat UI.
type SearchResult struct {
	DocID         string             `json:"doc_id"`
	Title         string             `json:"title"`
	Summary       string             `json:"summary"`
	Score         float64            `json:"score"`
	Confidence    int                `json:"confidence"`
	Snippet       string             `json:"snippet"`
	Date          string             `json:"date"`
	Machine       string             `json:"machine,omitempty"`
	Line          string             `json:"line,omitempty"`
	Category      string             `json:"category"`
	MatchFields   map[string]float64 `json:"match_fields"`
	Location      string             `json:"location,omitempty"`
	Symptom       string             `json:"symptom,omitempty"`
	ActionTaken   string             `json:"action_taken,omitempty"`
	PartsReplaced string             `json:"parts_replaced,omitempty"`
	Operator      string             `json:"operator,omitempty"`
}

// SearchResponse is the body returned by POST /api/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	// ProcessingTime is in milliseconds.
	ProcessingTime int64 `json:"processingTime"`
}

// DocumentChunk is one chunk of a document.
type DocumentChunk struct {
	ChunkID     string `json:"chunk_id"`
	Text        string `json:"text"`
	ChunkIndex  int    `json:"chunk_index"`
	SourceDocID string `json:"source_doc_id"`
}

// DocumentDetail is the body returned by GET /api/docs/{doc_id}.
type DocumentDetail struct {
	DocID         string          `json:"doc_id"`
	Title         string          `json:"title"`
	Content       string          `json:"content"`
	Metadata      corpus.Metadata `json:"metadata"`
	FullText      string          `json:"full_text"`
	Chunks        []DocumentChunk `json:"chunks"`
	Attachments   []string        `json:"attachments"`
	ActionTaken   string          `json:"action_taken,omitempty"`
	PartsReplaced string          `json:"parts_replaced,omitempty"`
}

// FeedbackRequest is the body of POST /api/feedback.
type FeedbackRequest struct {
	DocID   string `json:"doc_id"`
	Rating  int    `json:"rating"`
	Helpful bool   `json:"helpful"`
	Comment string `json:"comment,omitempty"`
}

// FeedbackResponse acknowledges feedback.
type FeedbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	IndexLoaded   bool   `json:"index_loaded"`
	Documents     int    `json:"documents"`
	RerankerReady bool   `json:"reranker_ready"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	TotalDocuments int    `json:"total_documents"`
	Model          string `json:"model"`
	Status         string `json:"status"`
	Queries        int64  `json:"queries"`
}

// ErrorResponse is written for every non-2xx answer.
type ErrorResponse struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
