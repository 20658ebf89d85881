package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	verrors "github.com/Aman-CERP/attachview/internal/errors"
)

// LockFileName is the lock file created inside the data directory.
const LockFileName = ".attachview.lock"

// DirLock is a cross-process exclusive lock on a data directory.
// Commands that mutate the stores hold it for their whole run.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dir. The lock file is <dir>/.attachview.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to take the lock without blocking.
// Returns an ErrCodeStoreLocked error if another process holds it.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return verrors.New(verrors.ErrCodeStoreLocked, "data directory is in use by another attachview process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("wait for the other command to finish, or stop 'attachview watch'")
	}
	l.locked = true
	return nil
}

// Lock retries TryLock with backoff until the lock is free, the retries
// run out, or ctx is done.
func (l *DirLock) Lock(ctx context.Context, cfg verrors.RetryConfig) error {
	return verrors.Retry(ctx, cfg, l.TryLock)
}

// Unlock releases the lock. Safe to call when not locked.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked reports whether this DirLock holds the lock.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
