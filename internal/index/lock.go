package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// LockFileName is the writer lock inside the store root.
const LockFileName = "index.lock"

// WriterLock is the cross-process single-writer lock on a store.
type WriterLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWriterLock creates a lock at <dir>/index.lock.
func NewWriterLock(dir string) *WriterLock {
	return &WriterLock{path: filepath.Join(dir, LockFileName)}
}

// TryLock takes the lock without blocking. It fails with ErrIndexLocked
// when another writer holds it, in this process or another.
func (l *WriterLock) TryLock() error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	// A fresh handle per attempt: flock locks belong to the open file.
	fl := flock.New(l.path)
	acquired, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return lockedError(l.path)
	}
	l.flock = fl
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *WriterLock) Unlock() error {
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
func (l *WriterLock) Path() string {
	return l.path
}

// IsLocked reports whether this handle holds the lock.
func (l *WriterLock) IsLocked() bool {
	return l.locked
}

func lockedError(what string) error {
	return nexuserrors.New(nexuserrors.ErrCodeIndexLocked, "another indexing run holds "+what, nil).
		WithSuggestion("Wait for the other run to finish or stop the watcher")
}
