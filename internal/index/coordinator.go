package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
	"github.com/Aman-CERP/attachview/internal/store"
	"github.com/Aman-CERP/attachview/internal/watcher"
)

// DefaultMaxFileSize is the default maximum document file size (16MB).
// Larger files are skipped with a warning.
const DefaultMaxFileSize int64 = 16 * 1024 * 1024

// CoordinatorConfig contains configuration for the Coordinator.
type CoordinatorConfig struct {
	// RootPath is the absolute path of the watched document directory.
	RootPath string

	// Maintainer receives the upserts and removals.
	Maintainer *Maintainer

	// Match filters paths relative to RootPath during InitialSync.
	// Defaults to watcher.DefaultOptions().Matches.
	Match func(relPath string, isDir bool) bool

	// Prune removes states of documents with no file during InitialSync.
	Prune bool

	// MaxFileSize is the maximum file size to read in bytes.
	// Defaults to DefaultMaxFileSize if zero.
	MaxFileSize int64
}

// SyncStats summarizes an InitialSync run.
type SyncStats struct {
	Indexed int
	Pruned  int
	Failed  int
}

// Coordinator applies file events from a document directory to a Maintainer.
// Each file holds one document; a document without an id takes the file
// name without its extension.
type Coordinator struct {
	config CoordinatorConfig
	mu     sync.Mutex

	// paths maps a relative file path to the document id it last produced.
	paths map[string]string

	// owners maps a document id to the one path allowed to write it.
	owners map[string]string
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(config CoordinatorConfig) (*Coordinator, error) {
	if config.Maintainer == nil {
		return nil, verrors.ConfigError("coordinator requires a maintainer", nil)
	}
	if config.RootPath == "" {
		return nil, verrors.ConfigError("coordinator requires a root path", nil)
	}
	if config.Match == nil {
		config.Match = watcher.DefaultOptions().Matches
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}
	return &Coordinator{
		config: config,
		paths:  make(map[string]string),
		owners: make(map[string]string),
	}, nil
}

// HandleEvents processes a batch of file events. Failures are logged and
// do not stop the batch; only context cancellation is returned.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.handleEvent(ctx, event); err != nil {
			attrs := append([]slog.Attr{
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
			}, verrors.LogAttrs(err)...)
			slog.LogAttrs(ctx, slog.LevelWarn, "failed to process file event", attrs...)
		}
	}
	return nil
}

func (c *Coordinator) handleEvent(ctx context.Context, event watcher.FileEvent) error {
	slog.Debug("processing file event",
		slog.String("path", event.Path),
		slog.String("operation", event.Operation.String()))

	if event.IsDir {
		return nil
	}

	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return c.indexFile(ctx, event.Path)
	case watcher.OpDelete, watcher.OpRename:
		return c.removeFile(ctx, event.Path)
	default:
		return nil
	}
}

// indexFile reads one document file and upserts it.
func (c *Coordinator) indexFile(ctx context.Context, relPath string) error {
	doc, err := c.readDocument(relPath)
	if err != nil {
		return err
	}
	if owner, ok := c.owners[doc.ID]; ok && owner != relPath {
		return verrors.ValidationError(
			fmt.Sprintf("document %s is already indexed from %s", doc.ID, owner), nil).
			WithDetail("document_id", doc.ID).
			WithDetail("owner", owner).
			WithSuggestion("give each document file a distinct _id or file name")
	}

	// The file now holds a different document: retract the old one.
	if old, ok := c.paths[relPath]; ok && old != doc.ID {
		if _, err := c.config.Maintainer.Remove(ctx, old); err != nil {
			return fmt.Errorf("remove previous document %s: %w", old, err)
		}
		delete(c.paths, relPath)
		c.release(old, relPath)
	}

	delta, err := c.config.Maintainer.Upsert(ctx, doc)
	if err != nil {
		return err
	}
	if doc.Deleted {
		delete(c.paths, relPath)
		c.release(doc.ID, relPath)
	} else {
		c.paths[relPath] = doc.ID
		c.owners[doc.ID] = relPath
	}

	slog.Debug("document_indexed",
		slog.String("path", relPath),
		slog.String("document_id", doc.ID),
		slog.Int("rows_added", len(delta.Add)),
		slog.Int("rows_removed", len(delta.Remove)))
	return nil
}

// removeFile retracts the document last read from relPath.
func (c *Coordinator) removeFile(ctx context.Context, relPath string) error {
	id, ok := c.paths[relPath]
	if !ok {
		id = idFromPath(relPath)
	}
	delete(c.paths, relPath)

	if owner, owned := c.owners[id]; owned && owner != relPath {
		slog.Debug("document_kept",
			slog.String("path", relPath),
			slog.String("document_id", id),
			slog.String("owner", owner))
		return nil
	}
	c.release(id, relPath)

	removed, err := c.config.Maintainer.Remove(ctx, id)
	if err != nil {
		return err
	}

	slog.Debug("document_removed",
		slog.String("path", relPath),
		slog.String("document_id", id),
		slog.Int("rows_removed", len(removed)))
	return nil
}

// release drops relPath's claim on id.
func (c *Coordinator) release(id, relPath string) {
	if c.owners[id] == relPath {
		delete(c.owners, id)
	}
}

func (c *Coordinator) readDocument(relPath string) (*store.Document, error) {
	absPath := filepath.Join(c.config.RootPath, relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", relPath, err)
	}
	if info.Size() > c.config.MaxFileSize {
		return nil, verrors.New(verrors.ErrCodeInvalidDocument,
			fmt.Sprintf("file %s exceeds maximum size (%d bytes)", relPath, c.config.MaxFileSize), nil).
			WithDetail("size", fmt.Sprintf("%d", info.Size()))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", relPath, err)
	}

	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", relPath, err)
	}
	if doc.ID == "" {
		doc.ID = idFromPath(relPath)
	}
	return &doc, nil
}

// InitialSync indexes every matching file under the root and retracts
// documents whose files it indexed earlier are gone. With Prune set,
// documents that have state but no file are removed afterwards.
// It is safe to call again to resynchronize after missed events.
func (c *Coordinator) InitialSync(ctx context.Context) (SyncStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats SyncStats
	seen := make(map[string]struct{})
	visited := make(map[string]struct{})

	err := filepath.WalkDir(c.config.RootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		relPath, err := filepath.Rel(c.config.RootPath, path)
		if err != nil || relPath == "." {
			return nil
		}
		if !c.config.Match(relPath, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		visited[relPath] = struct{}{}

		if err := c.indexFile(ctx, relPath); err != nil {
			stats.Failed++
			attrs := append([]slog.Attr{slog.String("path", relPath)}, verrors.LogAttrs(err)...)
			slog.LogAttrs(ctx, slog.LevelWarn, "failed to index document file", attrs...)
			return nil
		}
		stats.Indexed++
		seen[c.paths[relPath]] = struct{}{}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk %s: %w", c.config.RootPath, err)
	}

	for _, relPath := range slices.Sorted(maps.Keys(c.paths)) {
		if _, ok := visited[relPath]; ok {
			continue
		}
		if err := c.removeFile(ctx, relPath); err != nil {
			stats.Failed++
			attrs := append([]slog.Attr{slog.String("path", relPath)}, verrors.LogAttrs(err)...)
			slog.LogAttrs(ctx, slog.LevelWarn, "failed to remove missing document file", attrs...)
			continue
		}
		stats.Pruned++
	}

	if c.config.Prune {
		ids, err := c.config.Maintainer.DocumentIDs(ctx)
		if err != nil {
			return stats, err
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			if _, err := c.config.Maintainer.Remove(ctx, id); err != nil {
				return stats, fmt.Errorf("prune %s: %w", id, err)
			}
			stats.Pruned++
		}
	}

	slog.Info("initial_sync_complete",
		slog.String("root", c.config.RootPath),
		slog.Int("indexed", stats.Indexed),
		slog.Int("pruned", stats.Pruned),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// DocumentID returns the document id last read from relPath.
func (c *Coordinator) DocumentID(relPath string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.paths[relPath]
	return id, ok
}

// idFromPath derives a document id from a file name: "a/b/doc1.json" -> "doc1".
func idFromPath(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
