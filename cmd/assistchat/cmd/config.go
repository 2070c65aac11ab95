package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RyugoHori/AssistChat-Portfolio/configs"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/config"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the project configuration file.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/assistchat/config.yaml)
  3. Project config (assistchat.yaml)
  4. Environment variables (ASSISTCHAT_*)`,
		Example: `  # Write assistchat.yaml with the defaults
  assistchat config init

  # Show effective configuration
  assistchat config show --json`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force     bool
		dir       string
		effective bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create assistchat.yaml with the default settings",
		Long: `Create assistchat.yaml in the current directory from the commented
template, which carries the built-in defaults.

With --effective the file holds the configuration currently in effect
(defaults, user config and ASSISTCHAT_* variables merged) instead.

An existing file is kept unless --force is given; it is then backed up
to assistchat.yaml.bak.<timestamp> before being overwritten.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working directory: %w", err)
				}
				dir = wd
			}
			return runConfigInit(cmd, dir, force, effective)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration (a backup is kept)")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to write assistchat.yaml to (default: current directory)")
	cmd.Flags().BoolVar(&effective, "effective", false, "Write the effective configuration instead of the template")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, currentConfig(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}

func runConfigInit(cmd *cobra.Command, dir string, force, effective bool) error {
	path := filepath.Join(dir, config.ProjectConfigName)
	out := output.New(cmd.OutOrStdout())

	if _, err := os.Stat(path); err == nil {
		if !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		backup, err := config.Backup(path)
		if err != nil {
			return err
		}
		if backup != "" {
			out.Statusf("💾", "Backed up existing config to %s", backup)
		}
	}

	if effective {
		if err := currentConfig().WriteYAML(path); err != nil {
			return err
		}
	} else if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	out.Successf("Created %s", path)
	out.Hint("Next: assistchat chunk <logs.csv>")
	return nil
}

func runConfigShow(cmd *cobra.Command, cfg *config.Config, jsonOutput bool) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = out.Write(data)
	return err
}
