package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/eval"
)

func newEvalCmd() *cobra.Command {
	var (
		format  string
		methods string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "eval <queries.json>",
		Short: "Measure retrieval quality on labelled queries",
		Long: `Run every query in a labelled query file and report MRR, Recall@1/3/5
and Precision@5 over the top 10 results.

The query file looks like:
  {"queries": [{"query": "油圧ポンプ 異音", "relevant_docs": ["DOC-001"]}]}

Methods:
  hybrid  fused dense and BM25 ranking, no cross-encoder
  rerank  full pipeline`,
		Example: `  assistchat eval data/eval/queries.json
  assistchat eval data/eval/queries.json --method hybrid --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.Context(), cmd, args[0], methods, format, workers)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table, json")
	cmd.Flags().StringVarP(&methods, "method", "m", "all", "Methods to evaluate: hybrid, rerank or all")
	cmd.Flags().IntVar(&workers, "workers", 4, "Queries evaluated concurrently")

	return cmd
}

func runEval(ctx context.Context, cmd *cobra.Command, path, methodList, format string, workers int) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format %q (want table or json)", format)
	}
	methods, err := eval.ParseMethods(methodList)
	if err != nil {
		return err
	}
	queries, err := eval.LoadQueries(path)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
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

	results := make([]eval.Result, 0, len(methods))
	for _, m := range methods {
		res, err := eval.Run(ctx, rt.engine, queries, m, workers)
		if err != nil {
			return err
		}
		slog.Info("eval_complete",
			slog.String("method", string(m)),
			slog.Int("queries", res.NumQueries),
			slog.Float64("mrr", res.MRR),
			slog.Float64("recall_at_5", res.RecallAt5))
		results = append(results, res)
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return eval.WriteTable(cmd.OutOrStdout(), results)
}
