package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
)

const (
	maxQueryRunes = 200
	defaultK      = 5
	maxK          = 20
	maxBodyBytes  = 1 << 20

	summaryRunes = 150
	snippetRunes = 200

	defaultTitle    = "故障対応記録"
	defaultCategory = "その他"
	feedbackMessage = "フィードバックを受け付けました"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := s.Loaded()
	status := "healthy"
	if !loaded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		Timestamp:     time.Now().Format(time.RFC3339),
		IndexLoaded:   loaded,
		Documents:     s.filterFacets().TotalDocuments,
		RerankerReady: loaded && s.engine.RerankerReady(r.Context()),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, apperrors.ErrCodeIndexUnavailable, "search index is not loaded")
		return
	}

	var req SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, err.Error())
		return
	}
	k, verr := req.validate()
	if verr != nil {
		writeError(w, http.StatusBadRequest, verr.Code, verr.Message)
		return
	}

	var filters search.Filters
	if req.Filters != nil {
		filters = *req.Filters
	}
	results, err := s.engine.SearchWithOptions(r.Context(), req.Query, search.Options{Filters: filters, Limit: k})
	if err != nil {
		slog.Error("search_failed",
			slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
			slog.String("error", err.Error()))
		status := http.StatusInternalServerError
		if apperrors.IsIndexUnavailable(err) || apperrors.IsEmbedderUnavailable(err) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, apperrors.GetCode(err), "search failed")
		return
	}

	reranked := false
	out := make([]SearchResult, 0, len(results))
	for _, res := range results {
		if res.RerankScore != nil {
			reranked = true
		}
		out = append(out, presentResult(res))
	}

	elapsed := time.Since(start)
	s.metrics.ObserveSearch(elapsed, len(out), reranked)
	s.telemetry.Query(r.Context(), telemetry.QueryEvent{
		Query:       req.Query,
		Filters:     req.Filters,
		ResultCount: len(out),
		Latency:     elapsed,
		Reranked:    reranked,
	})

	slog.Info("search_served",
		slog.String("request_id", chiMiddleware.GetReqID(r.Context())),
		slog.String("query", truncateRunes(req.Query, 30)),
		slog.Int("results", len(out)),
		slog.Bool("reranked", reranked),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()))

	writeJSON(w, http.StatusOK, SearchResponse{
		Results:        out,
		Total:          len(out),
		ProcessingTime: elapsed.Milliseconds(),
	})
}

func (s *Server) handleFilterMetadata(w http.ResponseWriter, _ *http.Request) {
	if !s.Loaded() {
		writeError(w, http.StatusServiceUnavailable, apperrors.ErrCodeIndexUnavailable, "metadata not loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.filterFacets())
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.meta.Len() == 0 {
		writeError(w, http.StatusServiceUnavailable, apperrors.ErrCodeIndexUnavailable, "metadata not loaded")
		return
	}

	id := chi.URLParam(r, "doc_id")
	chunks := s.meta.ByDocID(id)
	if len(chunks) == 0 {
		if rec, ok := s.meta.ByChunkID(id); ok {
			chunks = s.meta.ByDocID(rec.DocID)
		}
	}
	if len(chunks) == 0 {
		writeError(w, http.StatusNotFound, apperrors.ErrCodeDocumentNotFound, "document not found")
		return
	}

	writeJSON(w, http.StatusOK, presentDocument(chunks))
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, err.Error())
		return
	}
	if strings.TrimSpace(req.DocID) == "" {
		writeError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "doc_id is required")
		return
	}

	slog.Info("feedback_received",
		slog.String("doc_id", req.DocID),
		slog.Int("rating", req.Rating),
		slog.Bool("helpful", req.Helpful),
		slog.String("comment", req.Comment))

	s.telemetry.Feedback(r.Context(), telemetry.Feedback{
		DocID:   req.DocID,
		Rating:  req.Rating,
		Helpful: req.Helpful,
		Comment: req.Comment,
	})

	writeJSON(w, http.StatusOK, FeedbackResponse{Success: true, Message: feedbackMessage})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	status := "operational"
	if !s.Loaded() {
		status = "initializing"
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalDocuments: s.filterFacets().TotalDocuments,
		Model:          orDefault(s.config.Model, "unknown"),
		Status:         status,
		Queries:        s.telemetry.Stats().Queries,
	})
}

func presentResult(res search.Result) SearchResult {
	m := res.Record.Metadata
	score := search.DisplayScore(res)
	return SearchResult{
		DocID:         res.Record.DocID,
		Title:         orDefault(m.Title, defaultTitle),
		Summary:       truncateRunes(res.Record.Text, summaryRunes) + "...",
		Score:         score,
		Confidence:    int(score * 100),
		Snippet:       truncateRunes(res.Record.Text, snippetRunes) + "...",
		Date:          m.Date,
		Machine:       m.Machine,
		Line:          m.Line,
		Category:      orDefault(m.Category, defaultCategory),
		Location:      m.Location,
		Symptom:       m.Symptom,
		ActionTaken:   m.ActionTaken,
		PartsReplaced: m.PartsReplaced,
		Operator:      m.Operator,
		MatchFields:   map[string]float64{"text": score},
	}
}

// presentDocument merges the chunks of one document, which arrive in
// chunk_index order.
func presentDocument(chunks []corpus.Record) DocumentDetail {
	first := chunks[0]
	m := first.Metadata

	texts := make([]string, len(chunks))
	out := make([]DocumentChunk, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		out[i] = DocumentChunk{
			ChunkID:     c.ChunkID,
			Text:        c.Text,
			ChunkIndex:  c.ChunkIndex,
			SourceDocID: c.DocID,
		}
	}
	full := strings.Join(texts, "\n")

	return DocumentDetail{
		DocID:         first.DocID,
		Title:         orDefault(m.Title, defaultTitle),
		Content:       full,
		Metadata:      m,
		FullText:      full,
		Chunks:        out,
		Attachments:   []string{},
		ActionTaken:   m.ActionTaken,
		PartsReplaced: m.PartsReplaced,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	writeJSON(w, status, ErrorResponse{Code: code, Detail: detail})
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
