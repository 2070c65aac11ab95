package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
)

// QueryMetricsURI is the URI of the query telemetry resource.
const QueryMetricsURI = "assistchat://query_metrics"

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary     `json:"summary"`
	TopTerms            []telemetry.TermCount   `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[string]int64        `json:"latency_distribution"`
	Session             telemetry.RecorderStats `json:"session"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	ZeroResultPct float64 `json:"zero_result_pct"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	RerankedPct   float64 `json:"reranked_pct"`
	Feedback      int64   `json:"feedback"`
	AvgRating     float64 `json:"avg_rating"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query pattern telemetry: volume, latency, top terms and zero-result queries",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			content, err := s.ReadQueryMetrics(ctx)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{
						URI:      QueryMetricsURI,
						MIMEType: "application/json",
						Text:     content,
					},
				},
			}, nil
		},
	)
}

// ReadQueryMetrics renders the query_metrics resource as indented JSON.
func (s *Server) ReadQueryMetrics(ctx context.Context) (string, error) {
	if s.telemetry == nil {
		return "", NewInvalidParamsError("query metrics not available")
	}

	sum, err := s.telemetry.Summary(ctx)
	if err != nil {
		return "", MapError(err)
	}

	output := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  sum.Queries,
			ZeroResultPct: sum.ZeroResultPercentage(),
			AvgLatencyMS:  sum.AvgLatencyMS,
			Feedback:      sum.Feedback,
			AvgRating:     sum.AvgRating,
		},
		TopTerms:            sum.TopTerms,
		ZeroResultQueries:   sum.RecentZeroResults,
		LatencyDistribution: make(map[string]int64, len(sum.Latency)),
		Session:             s.telemetry.Stats(),
	}
	if sum.Queries > 0 {
		output.Summary.RerankedPct = float64(sum.Reranked) / float64(sum.Queries) * 100
	}
	for bucket, count := range sum.Latency {
		output.LatencyDistribution[string(bucket)] = count
	}
	if output.TopTerms == nil {
		output.TopTerms = []telemetry.TermCount{}
	}
	if output.ZeroResultQueries == nil {
		output.ZeroResultQueries = []string{}
	}

	content, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return string(content), nil
}
