package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/nexus/internal/config"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage nexus configuration files.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/nexus/config.yaml or nexus.config.toml)
  3. Project config (.nexus.yaml, .nexus.yml or nexus.config.toml)
  4. Environment variables (NEXUS_*)`,
		Example: `  # Create the user config with defaults
  nexus config init

  # Create a TOML config in the current directory
  nexus config init --project --toml

  # Show effective configuration
  nexus config show`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(g))
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, project, asTOML bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with defaults",
		Long: `Write a configuration file populated with the defaults.

With --force an existing file is backed up, re-read over the defaults and
rewritten, so settings are kept and new options appear with their
defaults.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, configInitPath(project, asTOML), force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing file, keeping its settings")
	cmd.Flags().BoolVar(&project, "project", false, "Write to the current directory instead of the user config dir")
	cmd.Flags().BoolVar(&asTOML, "toml", false, "Write TOML instead of YAML")

	return cmd
}

func configInitPath(project, asTOML bool) string {
	switch {
	case project && asTOML:
		return config.TOMLName
	case project:
		return config.ProjectYAMLName
	case asTOML:
		return filepath.Join(config.GetUserConfigDir(), config.TOMLName)
	default:
		return config.GetUserConfigPath()
	}
}

func runConfigInit(cmd *cobra.Command, path string, force bool) error {
	out := cmd.OutOrStdout()
	cfg := config.NewConfig()

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !force {
		fmt.Fprintf(out, "Configuration already exists: %s\n", path)
		fmt.Fprintln(out, "Use --force to upgrade it with new defaults (settings are kept)")
		return nil
	}

	var backup string
	if exists {
		var err error
		if backup, err = config.BackupFile(path); err != nil {
			return err
		}
		if err := cfg.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load existing config: %w", err)
		}
	}

	if err := cfg.Write(path); err != nil {
		return err
	}
	if backup != "" {
		fmt.Fprintf(out, "Upgraded configuration: %s\n", path)
		fmt.Fprintf(out, "Backup: %s\n", backup)
		return nil
	}
	fmt.Fprintf(out, "Created configuration: %s\n", path)
	return nil
}

func newConfigShowCmd(g *globalOptions) *cobra.Command {
	var format string
	var defaults bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.NewConfig()
			if !defaults {
				var err error
				if cfg, err = g.config(); err != nil {
					return err
				}
			}
			return writeConfig(cmd, cfg, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format: yaml, toml or json")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Show the hardcoded defaults only")

	return cmd
}

func writeConfig(cmd *cobra.Command, cfg *config.Config, format string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case "yaml", "yml":
		data, err = yaml.Marshal(cfg)
	case "toml":
		data, err = toml.Marshal(cfg)
	case "json":
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("invalid format: %s (use: yaml, toml, json)", format)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file in effect",
		Long: `Print the configuration file that would be loaded from the current
directory, or the user config path when none exists yet.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.SourcePath(".")
			if path == "" {
				path = config.GetUserConfigPath() + " (not created)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
