package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Backend names a storage backend.
type Backend string

const (
	// BackendMemory keeps everything in process (lost on exit).
	BackendMemory Backend = "memory"

	// BackendSQLite persists to a single SQLite file (default).
	BackendSQLite Backend = "sqlite"

	// BackendRedis keeps document states in Redis. State only.
	BackendRedis Backend = "redis"
)

// Options selects and configures the state and view backends.
type Options struct {
	StateBackend Backend
	ViewBackend  Backend

	// Path is the SQLite file. Empty means an in-memory SQLite database.
	Path string

	// CacheSize enables an LRU in front of the state store when > 0.
	CacheSize int

	RedisAddr   string
	RedisDB     int
	RedisPrefix string
}

// Stores is an opened state/view pair.
type Stores struct {
	State StateStore
	View  ViewStore

	closers []func() error
}

// Open opens the configured backends. When state and view use the same
// local backend they share one instance.
func Open(ctx context.Context, opts Options) (*Stores, error) {
	if opts.StateBackend == "" {
		opts.StateBackend = BackendSQLite
	}
	if opts.ViewBackend == "" {
		opts.ViewBackend = BackendSQLite
	}

	s := &Stores{}
	var (
		mem *MemoryStore
		lite *SQLiteStore
	)
	memory := func() *MemoryStore {
		if mem == nil {
			mem = NewMemoryStore()
			s.closers = append(s.closers, mem.Close)
		}
		return mem
	}
	sqlite := func() (*SQLiteStore, error) {
		if lite == nil {
			var err error
			if lite, err = NewSQLiteStore(opts.Path); err != nil {
				return nil, err
			}
			s.closers = append(s.closers, lite.Close)
		}
		return lite, nil
	}

	switch opts.ViewBackend {
	case BackendMemory:
		s.View = memory()
	case BackendSQLite:
		v, err := sqlite()
		if err != nil {
			return nil, err
		}
		s.View = v
	default:
		return nil, fmt.Errorf("unknown view backend: %s (valid options: memory, sqlite)", opts.ViewBackend)
	}

	switch opts.StateBackend {
	case BackendMemory:
		s.State = memory()
	case BackendSQLite:
		st, err := sqlite()
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.State = st
	case BackendRedis:
		st, err := DialRedisStateStore(ctx, opts.RedisAddr, opts.RedisDB, opts.RedisPrefix)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, st.Close)
		s.State = st
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unknown state backend: %s (valid options: memory, sqlite, redis)", opts.StateBackend)
	}

	if opts.CacheSize > 0 {
		// Stores.Close closes the inner store; the cache needs no closing.
		s.State = NewCachedStateStore(s.State, opts.CacheSize)
	}

	slog.Debug("stores_opened",
		slog.String("state_backend", string(opts.StateBackend)),
		slog.String("view_backend", string(opts.ViewBackend)),
		slog.String("path", opts.Path),
		slog.Int("cache_size", opts.CacheSize))

	return s, nil
}

// Close closes every opened backend once, in reverse order.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
