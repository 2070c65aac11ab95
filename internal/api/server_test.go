package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeSearcher struct {
	mu       sync.Mutex
	results  []search.Result
	err      error
	reranker bool
	calls    []search.Options
	queries  []string
}

func (f *fakeSearcher) SearchWithOptions(_ context.Context, query string, opts search.Options) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) RerankerReady(context.Context) bool { return f.reranker }

func fixtureRecords() []corpus.Record {
	return []corpus.Record{
		{ChunkID: "DOC-001_0", DocID: "DOC-001", ChunkIndex: 0, Text: "油圧ポンプの圧力が低下した。",
			Metadata: corpus.Metadata{Title: "油圧低下", Category: "機械", Line: "A", Location: "第1工場", Equipment1: "プレス", Date: "2022-05-01", ActionTaken: "シール交換", PartsReplaced: "Oリング"}},
		{ChunkID: "DOC-001_1", DocID: "DOC-001", ChunkIndex: 1, Text: "シールを交換して復旧。",
			Metadata: corpus.Metadata{Title: "油圧低下", Category: "機械", Line: "A", Location: "第1工場", Equipment1: "プレス", Date: "2022-05-01"}},
		{ChunkID: "DOC-002_0", DocID: "DOC-002", Text: "ブレーカーがトリップした。",
			Metadata: corpus.Metadata{Category: "電気", Line: "B", Location: "第2工場", Date: "2019-11-20"}},
		{ChunkID: "DOC-003_0", DocID: "DOC-003", Text: strings.Repeat("長", 300),
			Metadata: corpus.Metadata{}},
	}
}

type testEnv struct {
	server    *Server
	engine    *fakeSearcher
	telemetry *telemetry.Store
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	ts, err := telemetry.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })

	engine := &fakeSearcher{}
	reg := prometheus.NewRegistry()
	srv, err := NewServer(cfg, Deps{
		Engine:    engine,
		Meta:      store.NewMetadataTable(fixtureRecords()),
		Telemetry: telemetry.NewRecorder(ts),
		Registry:  reg,
	})
	require.NoError(t, err)

	return &testEnv{server: srv, engine: engine, telemetry: ts, registry: reg}
}

func resultFor(rec corpus.Record, score float64) search.Result {
	return search.Result{Record: rec, Score: score}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

// =============================================================================
// Health & stats
// =============================================================================

func TestHealth_Loaded(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.engine.reranker = true

	rr := do(t, env.server.Handler(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[HealthResponse](t, rr)
	assert.Equal(t, "healthy", resp.Status)
	assert.True(t, resp.IndexLoaded)
	assert.Equal(t, 3, resp.Documents)
	assert.True(t, resp.RerankerReady)
	_, err := time.Parse(time.RFC3339, resp.Timestamp)
	assert.NoError(t, err)
}

func TestHealth_Degraded(t *testing.T) {
	srv, err := NewServer(Config{}, Deps{})
	require.NoError(t, err)

	rr := do(t, srv.Handler(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[HealthResponse](t, rr)
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.IndexLoaded)
	assert.Zero(t, resp.Documents)
	assert.False(t, resp.RerankerReady)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, Config{Model: "static"})
	env.engine.results = []search.Result{resultFor(fixtureRecords()[0], 0.5)}
	do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧"})

	rr := do(t, env.server.Handler(), http.MethodGet, "/api/stats", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, StatsResponse{TotalDocuments: 3, Model: "static", Status: "operational", Queries: 1}, decode[StatsResponse](t, rr))
}

func TestStats_NotLoaded(t *testing.T) {
	srv, err := NewServer(Config{}, Deps{})
	require.NoError(t, err)

	rr := do(t, srv.Handler(), http.MethodGet, "/api/stats", nil)

	assert.Equal(t, StatsResponse{Model: "unknown", Status: "initializing"}, decode[StatsResponse](t, rr))
}

// =============================================================================
// Search
// =============================================================================

func TestSearch_PresentsResults(t *testing.T) {
	// Given: one fused result and one reranked result with a raw logit
	env := newTestEnv(t, Config{})
	recs := fixtureRecords()
	logit := 4.0
	reranked := resultFor(recs[3], 0.02)
	reranked.RerankScore = &logit
	env.engine.results = []search.Result{resultFor(recs[0], 0.5), reranked}

	// When
	rr := do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧 低下"})

	// Then
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[SearchResponse](t, rr)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Total)

	first := resp.Results[0]
	assert.Equal(t, "DOC-001", first.DocID)
	assert.Equal(t, "油圧低下", first.Title)
	assert.Equal(t, 0.5, first.Score)
	assert.Equal(t, 50, first.Confidence)
	assert.Equal(t, "油圧ポンプの圧力が低下した。...", first.Summary)
	assert.Equal(t, "機械", first.Category)
	assert.Equal(t, "シール交換", first.ActionTaken)
	assert.Equal(t, map[string]float64{"text": 0.5}, first.MatchFields)

	second := resp.Results[1]
	assert.Equal(t, defaultTitle, second.Title)
	assert.Equal(t, defaultCategory, second.Category)
	assert.InDelta(t, 0.7, second.Score, 1e-9)
	assert.Equal(t, 70, second.Confidence)
	assert.Equal(t, strings.Repeat("長", 150)+"...", second.Summary)
	assert.Equal(t, strings.Repeat("長", 200)+"...", second.Snippet)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.server.metrics.searchReranked.WithLabelValues("true")))
}

func TestSearch_DefaultAndExplicitK(t *testing.T) {
	env := newTestEnv(t, Config{})
	k := 12

	do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧"})
	do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧", K: &k})

	require.Len(t, env.engine.calls, 2)
	assert.Equal(t, defaultK, env.engine.calls[0].Limit)
	assert.Equal(t, 12, env.engine.calls[1].Limit)
}

func TestSearch_Validation(t *testing.T) {
	zero, big := 0, 21
	tests := []struct {
		name string
		body any
		code string
	}{
		{"empty query", SearchRequest{Query: ""}, apperrors.ErrCodeInvalidInput},
		{"too long", SearchRequest{Query: strings.Repeat("油", 201)}, apperrors.ErrCodeQueryTooLong},
		{"k zero", SearchRequest{Query: "油圧", K: &zero}, apperrors.ErrCodeInvalidInput},
		{"k too big", SearchRequest{Query: "油圧", K: &big}, apperrors.ErrCodeInvalidInput},
		{"malformed json", `{"query":`, apperrors.ErrCodeInvalidInput},
		{"empty body", "", apperrors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})

			rr := do(t, env.server.Handler(), http.MethodPost, "/api/search", tt.body)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rr).Code)
			assert.Empty(t, env.engine.calls)
		})
	}
}

func TestSearch_QueryAtLimitAccepted(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: strings.Repeat("油", 200)})

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSearch_FiltersAndYearRangeReachEngine(t *testing.T) {
	// Given: an engine that answers with one 2022 record
	env := newTestEnv(t, Config{})
	recs := fixtureRecords()
	env.engine.results = []search.Result{resultFor(recs[0], 0.9)}

	// When: filtering by category and 2020-2024 with k=1
	body := `{"query":"故障","k":1,"filters":{"categories":["機械","電気"],"yearRange":{"startYear":2020,"endYear":2024}}}`
	rr := do(t, env.server.Handler(), http.MethodPost, "/api/search", body)

	// Then: the engine receives the year range together with the limit,
	// so it can bound years before truncating to k
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, env.engine.calls, 1)
	call := env.engine.calls[0]
	assert.Equal(t, 1, call.Limit)
	assert.Equal(t, []string{"機械", "電気"}, call.Filters.Categories)
	require.NotNil(t, call.Filters.YearRange)
	assert.Equal(t, search.YearRange{StartYear: 2020, EndYear: 2024}, *call.Filters.YearRange)

	resp := decode[SearchResponse](t, rr)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "DOC-001", resp.Results[0].DocID)
}

func TestSearch_EngineFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.engine.err = errors.New("both branches failed")

	rr := do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧"})

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, apperrors.ErrCodeInternal, decode[ErrorResponse](t, rr).Code)
}

func TestSearch_EmbedderUnavailable(t *testing.T) {
	// Given: an engine whose query embedding fails
	env := newTestEnv(t, Config{})
	env.engine.err = apperrors.ErrEmbedderUnavailable("failed to embed query", errors.New("connection refused"))

	// When: searching
	rr := do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧"})

	// Then: the caller sees a retryable unavailability, not a server bug
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, apperrors.ErrCodeEmbedderUnavailable, decode[ErrorResponse](t, rr).Code)
}

func TestSearch_NoEngine(t *testing.T) {
	srv, err := NewServer(Config{}, Deps{})
	require.NoError(t, err)

	rr := do(t, srv.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧"})

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSearch_RecordedInTelemetry(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.engine.results = []search.Result{resultFor(fixtureRecords()[0], 0.5)}

	do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "油圧"})
	env.engine.results = nil
	do(t, env.server.Handler(), http.MethodPost, "/api/search", SearchRequest{Query: "存在しない"})

	sum, err := env.telemetry.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Queries)
	assert.Equal(t, int64(1), sum.ZeroResults)
	assert.Equal(t, []string{"存在しない"}, sum.RecentZeroResults)
}

// =============================================================================
// Filter metadata
// =============================================================================

func TestFilterMetadata(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodGet, "/api/search/metadata", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	facets := decode[search.Facets](t, rr)
	assert.Equal(t, []string{"機械", "電気"}, facets.Categories)
	assert.Equal(t, []string{"A", "B"}, facets.ProductionLines)
	assert.Equal(t, search.YearRange{StartYear: 2019, EndYear: 2022}, facets.YearRange)
	assert.Equal(t, 3, facets.TotalDocuments)
	require.Len(t, facets.Hierarchy, 2)
	assert.Equal(t, "第1工場", facets.Hierarchy[0].ID)
}

func TestFilterMetadata_NotLoaded(t *testing.T) {
	srv, err := NewServer(Config{}, Deps{Engine: &fakeSearcher{}})
	require.NoError(t, err)

	rr := do(t, srv.Handler(), http.MethodGet, "/api/search/metadata", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// =============================================================================
// Documents
// =============================================================================

func TestDocument_ByDocID(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodGet, "/api/docs/DOC-001", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	doc := decode[DocumentDetail](t, rr)
	assert.Equal(t, "DOC-001", doc.DocID)
	assert.Equal(t, "油圧低下", doc.Title)
	assert.Equal(t, "油圧ポンプの圧力が低下した。\nシールを交換して復旧。", doc.Content)
	assert.Equal(t, doc.Content, doc.FullText)
	require.Len(t, doc.Chunks, 2)
	assert.Equal(t, "DOC-001_1", doc.Chunks[1].ChunkID)
	assert.Equal(t, 1, doc.Chunks[1].ChunkIndex)
	assert.Equal(t, "DOC-001", doc.Chunks[1].SourceDocID)
	assert.Equal(t, "シール交換", doc.ActionTaken)
	assert.Equal(t, "Oリング", doc.PartsReplaced)
	assert.Equal(t, "機械", doc.Metadata.Category)
	assert.NotNil(t, doc.Attachments)
}

func TestDocument_ByChunkID(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodGet, "/api/docs/DOC-001_1", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[DocumentDetail](t, rr).Chunks, 2)
}

func TestDocument_NotFound(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodGet, "/api/docs/DOC-999", nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apperrors.ErrCodeDocumentNotFound, decode[ErrorResponse](t, rr).Code)
}

// =============================================================================
// Feedback
// =============================================================================

func TestFeedback_Persisted(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodPost, "/api/feedback",
		FeedbackRequest{DocID: "DOC-001", Rating: 5, Helpful: true, Comment: "参考になった"})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, FeedbackResponse{Success: true, Message: feedbackMessage}, decode[FeedbackResponse](t, rr))

	sum, err := env.telemetry.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Feedback)
	assert.Equal(t, int64(1), sum.Helpful)
}

func TestFeedback_RequiresDocID(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := do(t, env.server.Handler(), http.MethodPost, "/api/feedback", FeedbackRequest{Rating: 3})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFeedback_WithoutTelemetry(t *testing.T) {
	srv, err := NewServer(Config{}, Deps{})
	require.NoError(t, err)

	rr := do(t, srv.Handler(), http.MethodPost, "/api/feedback", FeedbackRequest{DocID: "DOC-001"})

	assert.Equal(t, http.StatusOK, rr.Code)
}

// =============================================================================
// Middleware
// =============================================================================

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Config{CORSOrigins: []string{"http://localhost:3000"}})
	h := env.server.Handler()

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
		req.Header.Set("Origin", "http://evil.example")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/search", http.NoBody)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "content-type", rr.Header().Get("Access-Control-Allow-Headers"))
	})
}

func TestCORS_Wildcard(t *testing.T) {
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Origin", "http://anywhere.example")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://anywhere.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics_RequestCountedByRoutePattern(t *testing.T) {
	env := newTestEnv(t, Config{})
	h := env.server.Handler()

	do(t, h, http.MethodGet, "/api/docs/DOC-001", nil)
	do(t, h, http.MethodGet, "/api/docs/DOC-999", nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.server.metrics.requestsTotal.WithLabelValues("GET", "/api/docs/{doc_id}", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.server.metrics.requestsTotal.WithLabelValues("GET", "/api/docs/{doc_id}", "404")))

	rr := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "assistchat_http_requests_total")
}

func TestNewServer_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewServer(Config{}, Deps{Registry: reg})
	require.NoError(t, err)

	_, err = NewServer(Config{}, Deps{Registry: reg})

	assert.Error(t, err)
}

func TestRecoverer(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.server.router.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rr := do(t, env.server.Handler(), http.MethodGet, "/panic", nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestServe_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t, Config{})
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.server.Serve(ctx, listener)
	}()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
