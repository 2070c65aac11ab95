package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/index"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and query statistics",
		Long: `Display the state of the index snapshot and the query telemetry:
  - record and document counts
  - index type, lexical backend and embedding model
  - on-disk sizes
  - reranker availability
  - query volume, latency and feedback`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, noColor || ui.DetectNoColor())
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput, noColor bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := currentConfig()

	snap, err := index.Open(ctx, openConfig(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = snap.Close() }()

	info := ui.StatusInfo{
		IndexDir:       cfg.Paths.IndexDir,
		Loaded:         snap.Loaded(),
		Chunks:         snap.Meta.Len(),
		Documents:      search.BuildFacets(snap.Meta.Records()).TotalDocuments,
		RerankerModel:  cfg.Reranker.Model,
		RerankerStatus: "disabled",
	}
	info.VectorSize, info.LexicalSize, info.MetadataSize = snap.Sizes()

	if snap.HasManifest {
		m := snap.Manifest
		info.IndexType = string(m.IndexType)
		info.LexicalBackend = string(m.LexicalBackend)
		info.EmbeddingModel = m.EmbeddingModel
		info.Dimensions = m.Dimensions
		info.Tokenizer = m.Tokenizer
		info.BuiltAt = m.BuiltAt
	}

	if cfg.Reranker.Enabled {
		scorers := search.NewScorerRegistry(search.HTTPScorerFactory(cfg.Reranker.Endpoint, cfg.Reranker.Timeout))
		info.RerankerStatus = "offline"
		if scorers.Available(ctx, cfg.Reranker.Model) {
			info.RerankerStatus = "ready"
		}
		_ = scorers.Close()
	}

	recorder := openTelemetry(cfg)
	defer func() { _ = recorder.Close() }()
	if sum, err := recorder.Summary(ctx); err != nil {
		slog.Warn("telemetry_summary_failed", slog.String("error", err.Error()))
	} else {
		info.Queries = int(sum.Queries)
		info.AvgLatencyMS = sum.AvgLatencyMS
		info.Feedback = int(sum.Feedback)
		info.Helpful = int(sum.Helpful)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}
