package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/index"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/preflight"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/profiling"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/tokenize"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/ui"
)

func newBuildCmd() *cobra.Command {
	var (
		chunksPath string
		indexDir   string
		noTUI      bool
		noColor    bool
		profile    profiling.Options
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the search index from chunks",
		Long: `Build the vector index, the lexical index and the metadata table from
the chunk file written by 'assistchat chunk'.

The three artifacts and a manifest are written to paths.index_dir. The
directory is locked while building, so a concurrent build fails fast.

Backends come from the indexing section of the config:
  index_type       Flat (exact) or HNSW (approximate)
  lexical_backend  sqlite (default), bleve or memory

Profiling:
  assistchat build --cpuprofile cpu.prof --memprofile heap.prof
  go tool pprof cpu.prof`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := currentConfig()
			if chunksPath == "" {
				chunksPath = cfg.Paths.ChunksFile
			}
			if indexDir != "" {
				cfg.Paths.IndexDir = indexDir
			}

			if err := checkIndexDir(cfg.Paths.IndexDir); err != nil {
				return err
			}

			records, err := corpus.ReadRecords(chunksPath)
			if err != nil {
				return fmt.Errorf("failed to read chunks (run 'assistchat chunk' first): %w", err)
			}

			embedder, err := embed.NewEmbedder(ctx, embedConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = embedder.Close() }()

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(noTUI),
				ui.WithNoColor(noColor || ui.DetectNoColor()),
				ui.WithTitle(cfg.Paths.IndexDir)))
			if err := renderer.Start(ctx); err != nil {
				slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
			}
			defer func() { _ = renderer.Stop() }()

			if profile.Enabled() {
				session, err := profiling.Start(profile)
				if err != nil {
					return err
				}
				defer func() {
					if err := session.Stop(); err != nil {
						slog.Warn("profile_write_failed", slog.String("error", err.Error()))
					}
				}()
			}

			builder, err := index.NewBuilder(buildConfig(cfg), embedder, tokenize.New(), index.WithRenderer(renderer))
			if err != nil {
				return err
			}

			result, err := builder.Build(ctx, records)
			if err != nil {
				return err
			}

			slog.Info("build_complete",
				slog.String("index_dir", cfg.Paths.IndexDir),
				slog.Int("chunks", result.Manifest.Count),
				slog.Int("documents", result.Manifest.Documents),
				slog.Duration("duration", result.Duration),
				slog.String("heap_in_use", ui.FormatBytes(int64(profiling.HeapInUse()))))
			return nil
		},
	}

	cmd.Flags().StringVar(&chunksPath, "chunks", "", "Chunk JSONL to index (default: paths.chunks_file)")
	cmd.Flags().StringVar(&indexDir, "index-dir", "", "Output directory (default: paths.index_dir)")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&profile.CPU, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&profile.Heap, "memprofile", "", "Write a heap profile to this file after the build")
	cmd.Flags().StringVar(&profile.Trace, "trace", "", "Write an execution trace to this file")

	return cmd
}

// checkIndexDir fails early when the snapshot directory cannot be written or
// its filesystem is nearly full.
func checkIndexDir(dir string) error {
	checker := preflight.New()
	for _, r := range []preflight.CheckResult{
		checker.CheckWritePermissions(dir),
		checker.CheckDiskSpace(dir),
	} {
		if r.IsCritical() {
			return fmt.Errorf("cannot build into %s: %s", dir, r.Message)
		}
	}
	return nil
}
