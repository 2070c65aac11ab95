package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/api"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP search API",
		Long: `Start the HTTP API in front of the index snapshot.

Routes:
  GET  /health              liveness and index state
  POST /api/search          hybrid search
  GET  /api/search/metadata filter values
  GET  /api/docs/{doc_id}   full record
  POST /api/feedback        relevance feedback
  GET  /api/stats           index and query counts
  GET  /metrics             Prometheus metrics

The server starts even without a snapshot; searches then return 503 until
'assistchat build' has been run and the server restarted.`,
		Example: `  # Serve on the configured address
  assistchat serve

  # Override the port
  assistchat serve --port 9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := currentConfig()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := currentConfig()
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	recorder := openTelemetry(cfg)
	defer func() { _ = recorder.Close() }()

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv, err := api.NewServer(api.Config{
		Addr:         addr,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Model:        cfg.Embeddings.Model,
	}, api.Deps{
		Engine:    rt.engine,
		Meta:      rt.snapshot.Meta,
		Telemetry: recorder,
	})
	if err != nil {
		return err
	}

	if !srv.Loaded() {
		slog.Warn("serving_without_index", slog.String("index_dir", cfg.Paths.IndexDir))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", addr)

	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
