package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
)

// =============================================================================
// Test doubles
// =============================================================================

// MockSearcher records calls and returns canned results.
type MockSearcher struct {
	mu       sync.Mutex
	Results  []search.Result
	Err      error
	Reranker bool
	Calls    []search.Options
}

func (m *MockSearcher) SearchWithOptions(_ context.Context, _ string, opts search.Options) ([]search.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, opts)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Results, nil
}

func (m *MockSearcher) RerankerReady(context.Context) bool { return m.Reranker }

var _ Searcher = (*MockSearcher)(nil)

func testRecords() []corpus.Record {
	return []corpus.Record{
		{ChunkID: "DOC-001_0", DocID: "DOC-001", ChunkIndex: 0, Text: "油圧ポンプの圧力が低下した。",
			Metadata: corpus.Metadata{Title: "油圧低下", Category: "機械", Line: "A", Location: "第1工場",
				Equipment1: "プレス", Equipment2: "油圧ユニット", Date: "2022-05-01", ActionTaken: "シール交換"}},
		{ChunkID: "DOC-001_1", DocID: "DOC-001", ChunkIndex: 1, Text: "シールを交換して復旧。",
			Metadata: corpus.Metadata{Title: "油圧低下", Category: "機械", Line: "A", Location: "第1工場"}},
		{ChunkID: "DOC-002_0", DocID: "DOC-002", Text: "ブレーカーがトリップした。",
			Metadata: corpus.Metadata{Category: "電気", Line: "B", Location: "第2工場", Date: "2019-11-20"}},
	}
}

func newTestServer(t *testing.T, engine *MockSearcher, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(engine, store.NewMetadataTable(testRecords()), opts...)
	require.NoError(t, err)
	return srv
}

func newRecorder(t *testing.T) (*telemetry.Recorder, *telemetry.Store) {
	t.Helper()
	ts, err := telemetry.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })
	return telemetry.NewRecorder(ts), ts
}

// =============================================================================
// Construction
// =============================================================================

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(nil, store.NewMetadataTable(testRecords()))

	assert.Error(t, err)
}

func TestNewServer_Info(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	name, ver := srv.Info()

	assert.Equal(t, "AssistChat", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, srv.MCPServer())
}

func TestListTools(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	names := make([]string, 0, 4)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{"search", "get_document", "list_filters", "index_status"}, names)
}

func TestCallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

// =============================================================================
// search
// =============================================================================

func TestSearchTool_ReturnsMarkdown(t *testing.T) {
	// Given: an engine with one hit
	recs := testRecords()
	engine := &MockSearcher{Results: []search.Result{{Record: recs[0], Score: 0.82}}}
	srv := newTestServer(t, engine)

	// When: calling with JSON-shaped arguments
	out, err := srv.CallTool(context.Background(), "search", map[string]any{
		"query": "油圧 低下",
		"limit": float64(3),
	})

	// Then: markdown lists the record and the limit reaches the engine
	require.NoError(t, err)
	md, ok := out.(string)
	require.True(t, ok)
	assert.Contains(t, md, `## Search Results for "油圧 低下"`)
	assert.Contains(t, md, "Found 1 result\n")
	assert.Contains(t, md, "### 1. 油圧低下 (score: 0.82)")
	assert.Contains(t, md, "`DOC-001`")
	assert.Contains(t, md, "プレス > 油圧ユニット")
	assert.Contains(t, md, "> 油圧ポンプの圧力が低下した。")
	assert.Contains(t, md, "**Action:** シール交換")

	require.Len(t, engine.Calls, 1)
	assert.Equal(t, 3, engine.Calls[0].Limit)
}

func TestSearchTool_LimitClamped(t *testing.T) {
	tests := []struct {
		name  string
		limit any
		want  int
	}{
		{"default", nil, defaultLimit},
		{"zero", float64(0), defaultLimit},
		{"too big", float64(100), maxLimit},
		{"in range", float64(7), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockSearcher{}
			srv := newTestServer(t, engine)
			args := map[string]any{"query": "油圧"}
			if tt.limit != nil {
				args["limit"] = tt.limit
			}

			_, err := srv.CallTool(context.Background(), "search", args)

			require.NoError(t, err)
			require.Len(t, engine.Calls, 1)
			assert.Equal(t, tt.want, engine.Calls[0].Limit)
		})
	}
}

func TestSearchTool_Filters(t *testing.T) {
	// Given: an engine with a 2022 result
	recs := testRecords()
	engine := &MockSearcher{Results: []search.Result{
		{Record: recs[0], Score: 0.9},
	}}
	srv := newTestServer(t, engine)

	// When: filtering by category and year range
	_, err := srv.CallTool(context.Background(), "search", map[string]any{
		"query": "故障",
		"filters": map[string]any{
			"categories": []any{"機械", "電気"},
			"yearRange":  map[string]any{"startYear": float64(2020), "endYear": float64(2024)},
		},
	})
	require.NoError(t, err)

	// Then: metadata filters and the year range both go to the engine
	require.Len(t, engine.Calls, 1)
	assert.Equal(t, []string{"機械", "電気"}, engine.Calls[0].Filters.Categories)
	require.NotNil(t, engine.Calls[0].Filters.YearRange)
	assert.Equal(t, search.YearRange{StartYear: 2020, EndYear: 2024}, *engine.Calls[0].Filters.YearRange)
}

func TestSearchTool_InvalidQuery(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing", map[string]any{}},
		{"blank", map[string]any{"query": "   "}},
		{"too long", map[string]any{"query": strings.Repeat("油", maxQueryRunes+1)}},
		{"wrong type", map[string]any{"query": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockSearcher{}
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), "search", tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Empty(t, engine.Calls)
		})
	}
}

func TestSearchTool_NoResults(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	out, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "存在しない"})

	require.NoError(t, err)
	assert.Equal(t, `No results found for "存在しない"`, out)
}

func TestSearchTool_EngineError(t *testing.T) {
	engine := &MockSearcher{Err: apperrors.ErrIndexUnavailable("both stores unloaded", nil)}
	srv := newTestServer(t, engine)

	_, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "油圧"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

func TestSearchTool_IndexNotLoaded(t *testing.T) {
	engine := &MockSearcher{}
	srv, err := NewServer(engine, nil)
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "search", map[string]any{"query": "油圧"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
	assert.Empty(t, engine.Calls)
}

func TestSearchTool_RecordsTelemetry(t *testing.T) {
	// Given: a server with a telemetry recorder
	rec, ts := newRecorder(t)
	logit := 3.0
	hit := search.Result{Record: testRecords()[0], Score: 0.1, RerankScore: &logit}
	srv := newTestServer(t, &MockSearcher{Results: []search.Result{hit}}, WithTelemetry(rec))

	// When
	_, err := srv.CallTool(context.Background(), "search", map[string]any{"query": "油圧"})
	require.NoError(t, err)

	// Then
	sum, err := ts.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Queries)
	assert.Equal(t, int64(1), sum.Reranked)
}

func TestToSearchResultOutput(t *testing.T) {
	logit := -10.0
	r := search.Result{Record: testRecords()[0], Score: 0.3, RerankScore: &logit}

	out := ToSearchResultOutput(r)

	assert.Equal(t, "DOC-001", out.DocID)
	assert.Equal(t, "DOC-001_0", out.ChunkID)
	assert.True(t, out.Reranked)
	assert.Equal(t, 0.0, out.Score)
	assert.Equal(t, "プレス > 油圧ユニット", out.Equipment)
}

// =============================================================================
// get_document
// =============================================================================

func TestGetDocumentTool(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	tests := []struct {
		name string
		id   string
	}{
		{"by doc id", "DOC-001"},
		{"by chunk id", "DOC-001_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := srv.CallTool(context.Background(), "get_document", map[string]any{"doc_id": tt.id})

			require.NoError(t, err)
			md := out.(string)
			assert.Contains(t, md, "## 油圧低下")
			assert.Contains(t, md, "油圧ポンプの圧力が低下した。\nシールを交換して復旧。")
			assert.Contains(t, md, "- **Location:** 第1工場")
		})
	}
}

func TestGetDocumentTool_StructuredOutput(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	_, out, err := srv.handleGetDocument(GetDocumentInput{DocID: "DOC-001"})

	require.NoError(t, err)
	assert.Equal(t, 2, out.Chunks)
	assert.Equal(t, "機械", out.Category)
	assert.Equal(t, "油圧ポンプの圧力が低下した。\nシールを交換して復旧。", out.Content)
}

func TestGetDocumentTool_Errors(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	_, err := srv.CallTool(context.Background(), "get_document", map[string]any{"doc_id": "DOC-999"})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeDocumentNotFound, mcpErr.Code)

	_, err = srv.CallTool(context.Background(), "get_document", map[string]any{})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

// =============================================================================
// list_filters
// =============================================================================

func TestListFiltersTool(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	out, err := srv.CallTool(context.Background(), "list_filters", nil)

	require.NoError(t, err)
	md := out.(string)
	assert.Contains(t, md, "## Filters (2 documents, 2019-2022)")
	assert.Contains(t, md, "- **categories:** 機械, 電気")
	assert.Contains(t, md, "- **productionLines:** A, B")
	assert.Contains(t, md, "- 第1工場\n  - A\n    - プレス\n      - 油圧ユニット\n")

	_, structured, err := srv.handleListFilters()
	require.NoError(t, err)
	assert.Equal(t, 2, structured.TotalDocuments)
	assert.Equal(t, search.YearRange{StartYear: 2019, EndYear: 2022}, structured.YearRange)
}

func TestListFiltersTool_NotLoaded(t *testing.T) {
	srv, err := NewServer(&MockSearcher{}, nil)
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "list_filters", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

// =============================================================================
// index_status
// =============================================================================

func TestIndexStatusTool(t *testing.T) {
	// Given: a snapshot built with a different model than the live embedder
	builtAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	info := SnapshotInfo{
		Dir:         "/data/index",
		HasManifest: true,
		Manifest: store.Manifest{
			IndexType:      store.IndexHNSW,
			LexicalBackend: store.BackendBleve,
			EmbeddingModel: embed.DefaultModel,
			Dimensions:     embed.DefaultDimensions,
			Tokenizer:      "kagome",
			BuiltAt:        builtAt,
		},
	}
	srv := newTestServer(t, &MockSearcher{Reranker: true},
		WithSnapshot(info), WithEmbedder(embed.NewStaticEmbedder(256)))

	// When
	out, err := srv.CallTool(context.Background(), "index_status", nil)

	// Then
	require.NoError(t, err)
	status, ok := out.(*IndexStatusOutput)
	require.True(t, ok)
	assert.True(t, status.Index.Loaded)
	assert.Equal(t, 3, status.Index.Chunks)
	assert.Equal(t, 2, status.Index.Documents)
	assert.Equal(t, "kagome", status.Index.Tokenizer)
	assert.Equal(t, "2025-03-01T09:00:00Z", status.Index.BuiltAt)
	assert.Equal(t, "static", status.Embeddings.Model)
	assert.Equal(t, "ready", status.Embeddings.Status)
	assert.True(t, status.Embeddings.Mismatch)
	assert.True(t, status.Reranker.Ready)
}

func TestIndexStatusTool_Minimal(t *testing.T) {
	srv, err := NewServer(&MockSearcher{}, nil)
	require.NoError(t, err)

	out, err := srv.CallTool(context.Background(), "index_status", nil)

	require.NoError(t, err)
	status := out.(*IndexStatusOutput)
	assert.False(t, status.Index.Loaded)
	assert.Equal(t, "unavailable", status.Embeddings.Status)
	assert.False(t, status.Embeddings.Mismatch)

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"loaded":false`)
}

// =============================================================================
// query_metrics resource
// =============================================================================

func TestReadQueryMetrics(t *testing.T) {
	// Given: two searches, one without results
	rec, _ := newRecorder(t)
	engine := &MockSearcher{Results: []search.Result{{Record: testRecords()[0], Score: 0.5}}}
	srv := newTestServer(t, engine, WithTelemetry(rec))
	ctx := context.Background()

	_, err := srv.CallTool(ctx, "search", map[string]any{"query": "油圧"})
	require.NoError(t, err)
	engine.Results = nil
	_, err = srv.CallTool(ctx, "search", map[string]any{"query": "異音"})
	require.NoError(t, err)

	// When
	content, err := srv.ReadQueryMetrics(ctx)
	require.NoError(t, err)

	// Then
	var out QueryMetricsOutput
	require.NoError(t, json.Unmarshal([]byte(content), &out))
	assert.Equal(t, int64(2), out.Summary.TotalQueries)
	assert.InDelta(t, 50.0, out.Summary.ZeroResultPct, 1e-9)
	assert.Equal(t, []string{"異音"}, out.ZeroResultQueries)
	assert.Equal(t, int64(2), out.Session.Queries)
	assert.Len(t, out.TopTerms, 2)
}

func TestReadQueryMetrics_NoTelemetry(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	_, err := srv.ReadQueryMetrics(context.Background())

	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr))
}

// =============================================================================
// Helpers
// =============================================================================

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 5, clampLimit(-1, 5, 1, 20))
	assert.Equal(t, 5, clampLimit(0, 5, 1, 20))
	assert.Equal(t, 20, clampLimit(21, 5, 1, 20))
	assert.Equal(t, 3, clampLimit(3, 5, 1, 20))
}

func TestGenerateRequestID(t *testing.T) {
	a, b := generateRequestID(), generateRequestID()

	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}

func TestServe_UnknownTransport(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	err := srv.Serve(context.Background(), "sse")

	assert.ErrorContains(t, err, "unknown transport")
}
