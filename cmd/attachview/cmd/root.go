// Package cmd provides the CLI commands for attachview.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/logging"
	"github.com/Aman-CERP/attachview/pkg/version"
)

// Global flags
var (
	debugMode      bool
	projectDir     string
	dataDirFlag    string
	noColorFlag    bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the attachview CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attachview",
		Short: "Incremental attachment index for document stores",
		Long: `attachview maintains a view of every document attachment, keyed by
[filename, length, document id], from a stream of document changes.

Changes come from a CouchDB-style _changes feed ('attachview apply') or from a
watched directory of document JSON files ('attachview watch'). The view and the
per-document index state live in the configured stores (SQLite by default).`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("attachview version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.attachview/logs/")
	cmd.PersistentFlags().StringVar(&projectDir, "dir", "", "Project directory (default: nearest directory with .git or .attachview.yaml)")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Data directory for the index (default: <project>/.attachview)")
	cmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newApplyCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newRowsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the default logger. --debug logs everything to the
// log file; otherwise the configured level goes to stderr.
func startLogging(cmd *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.Stderr = cmd.ErrOrStderr()

	if debugMode {
		cfg = logging.DebugConfig()
		cfg.Stderr = cmd.ErrOrStderr()
		cfg.WriteToStderr = false
	} else if e, err := loadEnv(); err == nil {
		cfg.Level = e.cfg.Logging.Level
		cfg.FilePath = e.cfg.Logging.File
		cfg.MaxSizeMB = e.cfg.Logging.MaxSizeMB
		cfg.MaxFiles = e.cfg.Logging.MaxFiles
	}
	// Config errors surface from the command itself.

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	if debugMode {
		slog.Debug("debug_logging_enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Version),
			slog.String("command", cmd.CommandPath()))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints errors for the terminal.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
		_, _ = fmt.Fprint(os.Stderr, verrors.FormatForCLI(err))
	}
	return err
}
