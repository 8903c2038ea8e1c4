package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirLock provides cross-process locking of an index data directory using
// gofrs/flock. It prevents two ingest runs from writing the same index at
// once. Works on all platforms (Unix, Linux, macOS, Windows).
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool // explicit state tracking for clarity
}

// NewDirLock creates a lock for the given data directory.
// The lock file will be created at <dir>/.documind.lock
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, ".documind.lock")
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held by another process.
func (l *DirLock) TryLock() (bool, error) {
	// Ensure directory exists
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Acquire takes the lock or returns a descriptive error when another
// process holds it.
func (l *DirLock) Acquire() error {
	acquired, err := l.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another documind process is using this index (lock: %s)", l.path)
	}
	return nil
}

// Unlock releases the lock.
// It's safe to call Unlock multiple times or on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.locked = false
	return nil
}

// Locked reports whether this process currently holds the lock.
func (l *DirLock) Locked() bool {
	return l.locked
}
