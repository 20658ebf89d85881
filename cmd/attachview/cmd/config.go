package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/attachview/internal/config"
	verrors "github.com/Aman-CERP/attachview/internal/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage attachview configuration.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/attachview/config.yaml)
  3. Project config (.attachview.yaml)
  4. Environment variables (ATTACHVIEW_*)`,
		Example: `  # Create a project config with the defaults
  attachview config init

  # Show effective configuration (merged from all sources)
  attachview config show

  # Print config file paths
  attachview config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		user  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long: `Write the default configuration to .attachview.yaml in the project
root, or to the user config file with --user.

An existing file is kept unless --force is given; it is then backed up
(the three newest backups are kept) before being overwritten.`,
		Example: `  attachview config init
  attachview config init --user --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, user, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config instead of the project config")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the effective configuration after merging all sources, or only
the hardcoded defaults with --source defaults.`,
		Example: `  attachview config show
  attachview config show --json
  attachview config show --source defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, defaults")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print config file paths",
		Long:  `Print the user and project configuration file paths and whether they exist.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindProjectRoot(projectDirOrCwd())
			if err != nil {
				return err
			}
			projectPath, projectExists := config.ProjectConfigPath(root)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "user:    %s%s\n", config.GetUserConfigPath(), missingMark(config.UserConfigExists()))
			_, _ = fmt.Fprintf(out, "project: %s%s\n", projectPath, missingMark(projectExists))
			return nil
		},
	}
}

func runConfigInit(cmd *cobra.Command, user, force bool) error {
	p := newPrinter(cmd)

	var path string
	var exists bool
	if user {
		path = config.GetUserConfigPath()
		exists = config.UserConfigExists()
	} else {
		root, err := config.FindProjectRoot(projectDirOrCwd())
		if err != nil {
			return err
		}
		path, exists = config.ProjectConfigPath(root)
	}

	if exists {
		if !force {
			p.Warning("configuration already exists: %s", path)
			p.Info("  Use --force to overwrite it with the defaults")
			return nil
		}
		backup, err := config.BackupConfig(path)
		if err != nil {
			return verrors.ConfigError("failed to back up configuration", err).
				WithDetail("path", path)
		}
		p.Info("Backed up %s", backup)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := config.NewConfig().WriteYAML(path); err != nil {
		return verrors.ConfigError("failed to write configuration", err).
			WithDetail("path", path)
	}
	p.Success("Created %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	var cfg *config.Config
	switch source {
	case "merged":
		e, err := loadEnv()
		if err != nil {
			return err
		}
		cfg = e.cfg
	case "defaults":
		cfg = config.NewConfig()
	default:
		return verrors.ValidationError(fmt.Sprintf("unknown config source %q", source), nil).
			WithSuggestion("use --source merged or --source defaults")
	}

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

func missingMark(exists bool) string {
	if exists {
		return ""
	}
	return " (not found)"
}
