package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/index"
	"github.com/Aman-CERP/attachview/internal/ui"
	"github.com/Aman-CERP/attachview/internal/watcher"
)

// newWatchCmd creates the watch command.
func newWatchCmd() *cobra.Command {
	var (
		prune bool
		once  bool
	)

	cmd := &cobra.Command{
		Use:   "watch [DIR]",
		Short: "Index a directory of document files and keep it current",
		Long: `Index every document file (*.json by default) under DIR, then watch
the directory and apply creates, edits and deletions as they happen.

Each file holds one document. A document without an id takes the file
name without its extension. Press Ctrl+C to stop.`,
		Example: `  attachview watch ./docs
  attachview watch ./docs --prune --once`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()

			dir := s.env.root
			if len(args) == 1 {
				if dir, err = filepath.Abs(args[0]); err != nil {
					return err
				}
			}

			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				return verrors.ValidationError("not a directory: "+dir, err).
					WithSuggestion("pass an existing directory of document files")
			}

			watchCfg := s.env.cfg.Watch
			if cmd.Flags().Changed("prune") {
				watchCfg.Prune = prune
			}
			debounce, err := s.env.cfg.DebounceWindow()
			if err != nil {
				return err
			}
			poll, err := s.env.cfg.PollInterval()
			if err != nil {
				return err
			}
			opts := watcher.Options{
				DebounceWindow: debounce,
				PollInterval:   poll,
				Extensions:     watchCfg.Extensions,
				ForcePolling:   watchCfg.ForcePolling,
			}.WithDefaults()
			if err := opts.Validate(); err != nil {
				return err
			}

			coord, err := index.NewCoordinator(index.CoordinatorConfig{
				RootPath:   dir,
				Maintainer: s.maintainer,
				Match:      opts.Matches,
				Prune:      watchCfg.Prune,
			})
			if err != nil {
				return err
			}

			p := newPrinter(cmd)
			stats, err := coord.InitialSync(ctx)
			if err != nil {
				return err
			}
			p.Summary("Indexed "+dir, []ui.Stat{
				{Label: "Documents", Value: stats.Indexed},
				{Label: "Pruned", Value: stats.Pruned},
				{Label: "Failed", Value: stats.Failed},
			})
			if once {
				return nil
			}

			return runWatch(ctx, p, coord, dir, opts)
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "Remove indexed documents that have no file (default from config: watch.prune)")
	cmd.Flags().BoolVar(&once, "once", false, "Index the directory and exit without watching")

	return cmd
}

// runWatch applies watcher batches until ctx is done.
func runWatch(ctx context.Context, p *ui.Printer, coord *index.Coordinator, dir string, opts watcher.Options) error {
	w, err := watcher.NewDirWatcher(opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	startErr := make(chan error, 1)
	go func() {
		startErr <- w.Start(ctx, dir)
	}()

	p.Info("Watching %s (%s). Press Ctrl+C to stop.", dir, w.WatcherType())
	slog.Info("watch_started",
		slog.String("path", dir),
		slog.String("watcher", w.WatcherType()))

	var covered uint64
	for {
		select {
		case <-ctx.Done():
			slog.Info("watch_stopped",
				slog.String("path", dir),
				slog.Uint64("dropped_batches", w.DroppedBatches()))
			return nil
		case err := <-startErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := coord.HandleEvents(ctx, events); err != nil {
				return nil
			}
			for _, e := range events {
				slog.Debug("file_event_applied",
					slog.String("path", e.Path),
					slog.String("operation", e.Operation.String()))
			}
			if _, err := resyncAfterDrops(ctx, coord, w.DroppedBatches(), &covered); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("failed to resynchronize directory",
					slog.String("path", dir),
					slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			slog.Warn("failed to watch directory", slog.String("error", err.Error()))
		}
	}
}

// resyncAfterDrops re-runs the initial sync when the watcher has dropped
// batches beyond the count in covered. It reports whether a sync ran.
func resyncAfterDrops(ctx context.Context, coord *index.Coordinator, dropped uint64, covered *uint64) (bool, error) {
	if dropped <= *covered {
		return false, nil
	}
	*covered = dropped

	stats, err := coord.InitialSync(ctx)
	if err != nil {
		return true, err
	}
	slog.Info("resync_after_dropped_batches",
		slog.Uint64("dropped_batches", dropped),
		slog.Int("indexed", stats.Indexed),
		slog.Int("pruned", stats.Pruned),
		slog.Int("failed", stats.Failed))
	return true, nil
}
