package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/logging"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout.

AI assistants connect to it to search the maintenance logs. Tools:
  search        hybrid search with filters
  get_document  full record by doc_id
  list_filters  filter values and equipment hierarchy
  index_status  snapshot and model state

Nothing is written to stdout except protocol messages; logs go to the
log file only.`,
		Example: `  # Register with an MCP client
  claude mcp add assistchat -- assistchat mcp`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context())
		},
	}
}

func runMCP(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := currentConfig()

	// stdout carries the protocol, so logging must stay off it.
	cleanup, err := logging.SetupStdioMode(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	recorder := openTelemetry(cfg)
	defer func() { _ = recorder.Close() }()

	manifest, hasManifest := rt.manifest()
	srv, err := mcp.NewServer(rt.engine, rt.snapshot.Meta,
		mcp.WithEmbedder(rt.embedder),
		mcp.WithTelemetry(recorder),
		mcp.WithSnapshot(mcp.SnapshotInfo{
			Dir:         rt.snapshot.Dir,
			Manifest:    manifest,
			HasManifest: hasManifest,
		}),
	)
	if err != nil {
		return err
	}

	slog.Info("mcp_starting",
		slog.String("index_dir", rt.snapshot.Dir),
		slog.Int("records", rt.snapshot.Meta.Len()))

	err = srv.Serve(ctx, "stdio")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
