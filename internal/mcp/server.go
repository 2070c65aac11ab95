package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
	"github.com/RyugoHori/AssistChat-Portfolio/pkg/version"
)

const (
	serverName = "AssistChat"

	defaultLimit  = 5
	maxLimit      = 20
	maxQueryRunes = 200
)

// Searcher is the part of the search engine the tools call.
type Searcher interface {
	SearchWithOptions(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	RerankerReady(ctx context.Context) bool
}

// SnapshotInfo identifies the index directory the server answers from.
type SnapshotInfo struct {
	Dir         string
	Manifest    store.Manifest
	HasManifest bool
}

// Option configures a Server.
type Option func(*Server)

// WithEmbedder reports the query embedder in index_status.
func WithEmbedder(e embed.Embedder) Option {
	return func(s *Server) { s.embedder = e }
}

// WithTelemetry records every search and exposes the query_metrics resource.
func WithTelemetry(r *telemetry.Recorder) Option {
	return func(s *Server) { s.telemetry = r }
}

// WithSnapshot reports the loaded snapshot in index_status.
func WithSnapshot(info SnapshotInfo) Option {
	return func(s *Server) { s.snapshot = info }
}

// Server is the MCP server for the maintenance log search engine.
type Server struct {
	mcp       *mcp.Server
	engine    Searcher
	meta      *store.MetadataTable
	embedder  embed.Embedder
	telemetry *telemetry.Recorder
	snapshot  SnapshotInfo
	logger    *slog.Logger

	facetsOnce sync.Once
	facets     search.Facets
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Search past maintenance records by symptom, cause or countermeasure. Combines semantic and keyword retrieval, so both paraphrases and exact part numbers match. Filters narrow by category, work type, production line, location, equipment or year.",
	},
	{
		Name:        "get_document",
		Description: "Fetch the full text and metadata of one maintenance record by doc_id (a chunk_id also works).",
	},
	{
		Name:        "list_filters",
		Description: "List the filter values present in the index: categories, work types, lines, locations, equipment hierarchy and the year range.",
	},
	{
		Name:        "index_status",
		Description: "Check whether the index is loaded, how many records it holds, which embedding model is active and whether the reranker is ready.",
	},
}

// NewServer creates a new MCP server. meta may be nil when no snapshot is
// loaded; the tools then report the index as unavailable.
func NewServer(engine Searcher, meta *store.MetadataTable, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if meta == nil {
		meta = store.NewMetadataTable(nil)
	}

	s := &Server{
		engine: engine,
		meta:   meta,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	if s.telemetry != nil {
		s.registerQueryMetricsResource()
	}

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with loosely typed arguments, as decoded
// from JSON.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		in, err := decodeArgs[SearchInput](args)
		if err != nil {
			return nil, err
		}
		md, _, err := s.handleSearch(ctx, in)
		return md, err
	case "get_document":
		in, err := decodeArgs[GetDocumentInput](args)
		if err != nil {
			return nil, err
		}
		md, _, err := s.handleGetDocument(in)
		return md, err
	case "list_filters":
		md, _, err := s.handleListFilters()
		return md, err
	case "index_status":
		return s.handleIndexStatus(ctx), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearch runs one search and returns markdown plus structured results.
func (s *Server) handleSearch(ctx context.Context, in SearchInput) (string, SearchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", SearchOutput{}, NewInvalidParamsError("query parameter is required and must not be blank")
	}
	if n := utf8.RuneCountInString(query); n > maxQueryRunes {
		return "", SearchOutput{}, NewInvalidParamsError(
			fmt.Sprintf("query is %d characters, the limit is %d", n, maxQueryRunes))
	}
	if s.meta.Len() == 0 {
		return "", SearchOutput{}, &MCPError{Code: ErrCodeIndexUnavailable, Message: "Index is not loaded. Run 'assistchat build' first."}
	}

	start := time.Now()
	requestID := generateRequestID()
	limit := clampLimit(in.Limit, defaultLimit, 1, maxLimit)

	var filters search.Filters
	if in.Filters != nil {
		filters = *in.Filters
	}
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	results, err := s.engine.SearchWithOptions(ctx, query, search.Options{Filters: filters, Limit: limit})
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", SearchOutput{}, MapError(err)
	}

	reranked := false
	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		if r.RerankScore != nil {
			reranked = true
		}
		out.Results = append(out.Results, ToSearchResultOutput(r))
	}

	s.telemetry.Query(ctx, telemetry.QueryEvent{
		Query:       query,
		Filters:     in.Filters,
		ResultCount: len(results),
		Latency:     duration,
		Reranked:    reranked,
	})

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)),
		slog.Bool("reranked", reranked))

	return FormatSearchResults(query, results), out, nil
}

func (s *Server) handleGetDocument(in GetDocumentInput) (string, DocumentOutput, error) {
	id := strings.TrimSpace(in.DocID)
	if id == "" {
		return "", DocumentOutput{}, NewInvalidParamsError("doc_id parameter is required")
	}

	chunks := s.meta.ByDocID(id)
	if len(chunks) == 0 {
		if rec, ok := s.meta.ByChunkID(id); ok {
			chunks = s.meta.ByDocID(rec.DocID)
		}
	}
	if len(chunks) == 0 {
		return "", DocumentOutput{}, NewDocumentNotFoundError(id)
	}

	return FormatDocument(chunks), ToDocumentOutput(chunks), nil
}

func (s *Server) handleListFilters() (string, FiltersOutput, error) {
	if s.meta.Len() == 0 {
		return "", FiltersOutput{}, &MCPError{Code: ErrCodeIndexUnavailable, Message: "Index is not loaded."}
	}
	f := s.filterFacets()
	return FormatFilters(f), ToFiltersOutput(f), nil
}

func (s *Server) handleIndexStatus(ctx context.Context) *IndexStatusOutput {
	m := s.snapshot.Manifest
	out := &IndexStatusOutput{
		Index: IndexInfo{
			Dir:       s.snapshot.Dir,
			Loaded:    s.meta.Len() > 0,
			Chunks:    s.meta.Len(),
			Documents: s.filterFacets().TotalDocuments,
		},
		Embeddings: EmbeddingInfo{
			IndexModel: m.EmbeddingModel,
			Status:     "unavailable",
		},
		Reranker: RerankerInfo{Ready: s.engine.RerankerReady(ctx)},
		Queries:  s.telemetry.Stats().Queries,
	}

	if s.snapshot.HasManifest {
		out.Index.IndexType = string(m.IndexType)
		out.Index.LexicalBackend = string(m.LexicalBackend)
		out.Index.Tokenizer = m.Tokenizer
		if !m.BuiltAt.IsZero() {
			out.Index.BuiltAt = m.BuiltAt.Format(time.RFC3339)
		}
	}

	if s.embedder != nil {
		out.Embeddings.Model = s.embedder.ModelName()
		out.Embeddings.Dimensions = s.embedder.Dimensions()
		if s.embedder.Available(ctx) {
			out.Embeddings.Status = "ready"
		}
		out.Embeddings.Mismatch = s.snapshot.HasManifest &&
			(m.EmbeddingModel != "" && m.EmbeddingModel != out.Embeddings.Model ||
				m.Dimensions != 0 && m.Dimensions != out.Embeddings.Dimensions)
	}

	return out
}

func (s *Server) filterFacets() search.Facets {
	s.facetsOnce.Do(func() {
		s.facets = search.BuildFacets(s.meta.Records())
	})
	return s.facets
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpGetDocumentHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpListFiltersHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.mcpIndexStatusHandler)

	s.logger.Info("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	md, out, err := s.handleSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return textResult(md), out, nil
}

func (s *Server) mcpGetDocumentHandler(_ context.Context, _ *mcp.CallToolRequest, input GetDocumentInput) (
	*mcp.CallToolResult,
	DocumentOutput,
	error,
) {
	md, out, err := s.handleGetDocument(input)
	if err != nil {
		return nil, DocumentOutput{}, err
	}
	return textResult(md), out, nil
}

func (s *Server) mcpListFiltersHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListFiltersInput) (
	*mcp.CallToolResult,
	FiltersOutput,
	error,
) {
	md, out, err := s.handleListFilters()
	if err != nil {
		return nil, FiltersOutput{}, err
	}
	return textResult(md), out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	return nil, s.handleIndexStatus(ctx), nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func textResult(md string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: md}}}
}

// decodeArgs converts a JSON-decoded argument map into a typed input.
func decodeArgs[T any](args map[string]any) (T, error) {
	var in T
	if len(args) == 0 {
		return in, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return in, NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return in, nil
}

// clampLimit returns def for non-positive values and clamps the rest to [lo, hi].
func clampLimit(limit, def, lo, hi int) int {
	if limit <= 0 {
		return def
	}
	if limit < lo {
		return lo
	}
	if limit > hi {
		return hi
	}
	return limit
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
