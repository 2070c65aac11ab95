// Package cmd provides the CLI commands for AssistChat.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/config"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/logging"
	"github.com/RyugoHori/AssistChat-Portfolio/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	appConfig      *config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command for the assistchat CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assistchat",
		Short: "Hybrid search over maintenance logs",
		Long: `AssistChat finds past maintenance records that match a free-text
description of a problem.

It combines dense vector search with BM25 keyword search, fuses the two
rankings, filters by metadata and optionally reranks with a cross-encoder.

Typical flow:
  assistchat chunk data/raw/logs.csv
  assistchat build
  assistchat serve`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentPreRunE = setup
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		stopLogging()
		return nil
	}

	cmd.SetVersionTemplate("assistchat version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: assistchat.yaml in the current directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.assistchat/logs/")

	cmd.AddCommand(newChunkCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints any error to stderr. Application
// errors carry their code and suggestion.
func Execute() error {
	defer stopLogging()
	err := NewRootCmd().Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	return err
}

func printError(w io.Writer, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		_, _ = fmt.Fprint(w, apperrors.FormatForCLI(err))
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// setup loads the configuration and starts logging before any subcommand.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		if !skipsConfig(cmd) {
			return err
		}
		cfg = config.NewConfig()
	}
	appConfig = cfg

	// The mcp command sets up its own file-only logging.
	if cmd.Name() == "mcp" {
		return nil
	}
	return startLogging(cfg, debugMode)
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(wd)
}

// skipsConfig reports commands that must work with a broken config file.
func skipsConfig(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "init":
		return true
	}
	return false
}

func logConfig(cfg *config.Config, debug bool) logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.MaxSizeMB = cfg.Logging.MaxSizeMB
	lc.MaxFiles = cfg.Logging.MaxFiles
	lc.WriteToStderr = debug
	if cfg.Logging.Dir != "" {
		lc.FilePath = filepath.Join(cfg.Logging.Dir, "assistchat.log")
	}
	if debug {
		lc.Level = "debug"
	}
	return lc
}

func startLogging(cfg *config.Config, debug bool) error {
	logger, cleanup, err := logging.Setup(logConfig(cfg, debug))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	if debug {
		slog.Debug("debug_logging_enabled", slog.String("version", version.Version))
	}
	return nil
}

func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// currentConfig returns the config loaded by setup, or the defaults when a
// command runs without the root (tests calling RunE directly).
func currentConfig() *config.Config {
	if appConfig == nil {
		return config.NewConfig()
	}
	return appConfig
}
