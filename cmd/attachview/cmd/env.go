package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/attachview/internal/config"
	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/index"
	"github.com/Aman-CERP/attachview/internal/store"
	"github.com/Aman-CERP/attachview/internal/ui"
)

// env is the resolved project, configuration and data directory for a command.
type env struct {
	root    string
	dataDir string
	cfg     *config.Config
}

// loadEnv resolves the project root and loads its configuration.
// --data-dir overrides store.data_dir.
func loadEnv() (*env, error) {
	root, err := config.FindProjectRoot(projectDirOrCwd())
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, verrors.ConfigError("failed to load configuration", err).
			WithSuggestion("run 'attachview config show' to inspect the merged configuration")
	}
	if dataDirFlag != "" {
		abs, err := filepath.Abs(dataDirFlag)
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.Store.DataDir = abs
	}

	return &env{
		root:    root,
		dataDir: cfg.ResolveDataDir(root),
		cfg:     cfg,
	}, nil
}

// projectDirOrCwd is where the project root search starts.
func projectDirOrCwd() string {
	if projectDir != "" {
		return projectDir
	}
	return "."
}

// storeOptions maps the store configuration onto store.Options.
func (e *env) storeOptions() store.Options {
	return store.Options{
		StateBackend: store.Backend(e.cfg.Store.StateBackend),
		ViewBackend:  store.Backend(e.cfg.Store.ViewBackend),
		Path:         e.cfg.ResolveDBPath(e.root),
		CacheSize:    e.cfg.Store.CacheSize,
		RedisAddr:    e.cfg.Store.RedisAddr,
		RedisDB:      e.cfg.Store.RedisDB,
		RedisPrefix:  e.cfg.Store.RedisPrefix,
	}
}

// openStores creates the data directory when needed and opens the stores.
func (e *env) openStores(ctx context.Context) (*store.Stores, error) {
	opts := e.storeOptions()
	if opts.StateBackend == store.BackendSQLite || opts.ViewBackend == store.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, verrors.StoreError("failed to create data directory", err).
				WithDetail("path", filepath.Dir(opts.Path))
		}
	}
	return store.Open(ctx, opts)
}

// lock takes the data directory lock for a mutating command.
func (e *env) lock(ctx context.Context) (*store.DirLock, error) {
	l := store.NewDirLock(e.dataDir)
	if err := l.Lock(ctx, verrors.DefaultRetryConfig()); err != nil {
		return nil, err
	}
	return l, nil
}

// session is an opened, locked set of stores with a maintainer.
type session struct {
	env        *env
	stores     *store.Stores
	maintainer *index.Maintainer
	lock       *store.DirLock
}

// openSession opens the stores and builds a maintainer. With exclusive set
// the data directory lock is held until Close.
func openSession(ctx context.Context, exclusive bool) (*session, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}

	s := &session{env: e}
	if exclusive {
		if s.lock, err = e.lock(ctx); err != nil {
			return nil, err
		}
	}

	if s.stores, err = e.openStores(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if s.maintainer, err = index.NewMaintainer(s.stores.State, index.WithView(s.stores.View)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the stores and releases the lock.
func (s *session) Close() {
	if s.stores != nil {
		_ = s.stores.Close()
	}
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// signalContext cancels on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newPrinter returns a printer for the command's stdout.
func newPrinter(cmd *cobra.Command) *ui.Printer {
	out := cmd.OutOrStdout()
	return ui.NewPrinter(out, noColorFlag || !ui.UseColor(out))
}

// openInput opens a file argument; "-" or no argument reads from stdin.
func openInput(cmd *cobra.Command, args []string) (io.ReadCloser, string, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(cmd.InOrStdin()), "stdin", nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", args[0], err)
	}
	return f, args[0], nil
}
