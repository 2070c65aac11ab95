package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	format   string // "text", "json"
	noRerank bool

	categories []string
	workTypes  []string
	lines      []string
	locations  []string
	equipment1 []string
	equipment2 []string
	equipment3 []string
	yearFrom   int
	yearTo     int
}

func (o searchOptions) filters() search.Filters {
	f := search.Filters{
		Categories:      o.categories,
		WorkTypes:       o.workTypes,
		ProductionLines: o.lines,
		Locations:       o.locations,
		Equipment1s:     o.equipment1,
		Equipment2s:     o.equipment2,
		Equipment3s:     o.equipment3,
	}
	if o.yearFrom > 0 || o.yearTo > 0 {
		f.YearRange = &search.YearRange{StartYear: o.yearFrom, EndYear: o.yearTo}
		if f.YearRange.EndYear == 0 {
			f.YearRange.EndYear = 9999
		}
	}
	return f
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the maintenance log index",
		Long: `Search the index with hybrid retrieval.

Dense and BM25 results are fused with Reciprocal Rank Fusion, filtered by
metadata and reranked by the cross-encoder when it is reachable.

Filter flags are repeatable; values of one flag are ORed, flags are ANDed.

Examples:
  assistchat search "油圧ポンプ 異音"
  assistchat search "ブレーカー トリップ" --category 電気 --line A --line B
  assistchat search "ベアリング交換" --year-from 2022 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 5, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip the cross-encoder and return fused order")
	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "Filter by category (repeatable)")
	cmd.Flags().StringSliceVar(&opts.workTypes, "work-type", nil, "Filter by work type (repeatable)")
	cmd.Flags().StringSliceVar(&opts.lines, "line", nil, "Filter by production line (repeatable)")
	cmd.Flags().StringSliceVar(&opts.locations, "location", nil, "Filter by location (repeatable)")
	cmd.Flags().StringSliceVar(&opts.equipment1, "equipment1", nil, "Filter by top-level equipment (repeatable)")
	cmd.Flags().StringSliceVar(&opts.equipment2, "equipment2", nil, "Filter by second-level equipment (repeatable)")
	cmd.Flags().StringSliceVar(&opts.equipment3, "equipment3", nil, "Filter by third-level equipment (repeatable)")
	cmd.Flags().IntVar(&opts.yearFrom, "year-from", 0, "Keep records dated in or after this year")
	cmd.Flags().IntVar(&opts.yearTo, "year-to", 0, "Keep records dated in or before this year")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", opts.format)
	}
	if opts.limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", opts.limit)
	}

	cfg := currentConfig()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if !rt.snapshot.Loaded() {
		return fmt.Errorf("no index found in %s. Run 'assistchat build' first", cfg.Paths.IndexDir)
	}

	filters := opts.filters()

	start := time.Now()
	results, err := rt.engine.SearchWithOptions(ctx, query, search.Options{
		Filters:  filters,
		Limit:    opts.limit,
		NoRerank: opts.noRerank,
	})
	if err != nil {
		return err
	}

	slog.Info("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	if opts.format == "json" {
		return writeSearchJSON(cmd.OutOrStdout(), query, results)
	}
	return writeSearchText(cmd.OutOrStdout(), query, results)
}

// searchJSONResult is one hit in --format json output.
type searchJSONResult struct {
	Rank        int      `json:"rank"`
	DocID       string   `json:"doc_id"`
	ChunkID     string   `json:"chunk_id"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	Text        string   `json:"text"`
	Metadata    any      `json:"metadata"`
}

func writeSearchJSON(w io.Writer, query string, results []search.Result) error {
	out := struct {
		Query   string             `json:"query"`
		Results []searchJSONResult `json:"results"`
	}{Query: query, Results: make([]searchJSONResult, 0, len(results))}

	for i, r := range results {
		out.Results = append(out.Results, searchJSONResult{
			Rank:        i + 1,
			DocID:       r.Record.DocID,
			ChunkID:     r.Record.ChunkID,
			Score:       search.DisplayScore(r),
			RerankScore: r.RerankScore,
			Text:        r.Record.Text,
			Metadata:    r.Record.Metadata,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSearchText(w io.Writer, query string, results []search.Result) error {
	ew := &errWriter{w: w}
	if len(results) == 0 {
		ew.printf("No results found for %q\n", query)
		return ew.err
	}

	ew.printf("Found %d results for %q\n\n", len(results), query)
	for i, r := range results {
		m := r.Record.Metadata
		title := m.Title
		if title == "" {
			title = r.Record.DocID
		}
		ew.printf("%d. %s  [%s]  score %.3f\n", i+1, title, r.Record.DocID, search.DisplayScore(r))

		var tags []string
		for _, v := range []string{m.Date, m.Category, m.Line, m.Location, m.Equipment1} {
			if v != "" {
				tags = append(tags, v)
			}
		}
		if len(tags) > 0 {
			ew.printf("   %s\n", strings.Join(tags, " | "))
		}
		ew.printf("   %s\n\n", snippet(r.Record.Text, 120))
	}
	return ew.err
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// errWriter keeps the first write error so output code can stay linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
