package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/config"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/index"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/preflight"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the index and the model services",
		Long: `Check that AssistChat can serve queries.

Checks:
  disk_space         free space under paths.index_dir (required)
  write_permissions  paths.index_dir is writable (required)
  snapshot           the snapshot loads and every store is usable
  embedder           the embedding service answers
  reranker           the cross-encoder answers, when enabled

Only required checks fail the command; the others degrade search.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, currentConfig(), verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// snapshotProbe exposes an opened snapshot to the preflight checks. A
// dimension mismatch with the configured embedder counts as a problem.
type snapshotProbe struct {
	*index.Snapshot
	embedder embed.Embedder
}

func (s snapshotProbe) Problems() []string {
	var out []string
	for _, issue := range s.Check() {
		out = append(out, issue.Store+": "+issue.Details)
	}
	if err := s.CheckEmbedder(s.embedder); err != nil {
		out = append(out, "embedder: "+err.Error())
	}
	return out
}

func runDoctor(ctx context.Context, cmd *cobra.Command, cfg *config.Config, verbose, jsonOutput bool) error {
	snap, err := index.Open(ctx, openConfig(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = snap.Close() }()

	target := preflight.Target{
		IndexDir:        cfg.Paths.IndexDir,
		EmbedderName:    cfg.Embeddings.Provider + "/" + cfg.Embeddings.Model,
		RerankerEnabled: cfg.Reranker.Enabled,
		RerankerModel:   cfg.Reranker.Model,
	}

	embedder, err := embed.NewEmbedder(ctx, embedConfig(cfg))
	if err != nil {
		slog.Warn("embedder_init_failed", slog.String("error", err.Error()))
		target.Embedder = preflight.ProberFunc(func(context.Context) bool { return false })
	} else {
		defer func() { _ = embedder.Close() }()
		target.EmbedderName = embedder.ModelName()
		target.Embedder = embedder
	}
	target.Snapshot = snapshotProbe{Snapshot: snap, embedder: embedder}

	if cfg.Reranker.Enabled {
		scorers := search.NewScorerRegistry(search.HTTPScorerFactory(cfg.Reranker.Endpoint, cfg.Reranker.Timeout))
		defer func() { _ = scorers.Close() }()
		target.Reranker = preflight.ProberFunc(func(ctx context.Context) bool {
			return scorers.Available(ctx, cfg.Reranker.Model)
		})
	}

	checker := preflight.New(preflight.WithVerbose(verbose), preflight.WithOutput(cmd.OutOrStdout()))
	results := checker.RunAll(ctx, target)

	slog.Info("doctor_complete",
		slog.String("status", checker.SummaryStatus(results)),
		slog.Int("checks", len(results)))

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Status string                  `json:"status"`
			Checks []preflight.CheckResult `json:"checks"`
		}{checker.SummaryStatus(results), results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return errors.New("required checks failed")
	}
	return nil
}
