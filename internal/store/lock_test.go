package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirLock_TryLock(t *testing.T) {
	lock := NewDirLock(t.TempDir())

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.Locked())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.Locked())
}

func TestDirLock_SecondHolderBlocked(t *testing.T) {
	dir := t.TempDir()

	lock1 := NewDirLock(dir)
	acquired, err := lock1.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	// A second lock on the same directory must not acquire
	lock2 := NewDirLock(dir)
	acquired, err = lock2.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, lock2.Locked())

	// Releasing the first frees it for the second
	require.NoError(t, lock1.Unlock())
	acquired, err = lock2.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, lock2.Unlock())
}

func TestDirLock_Acquire_ReportsHolder(t *testing.T) {
	dir := t.TempDir()

	lock1 := NewDirLock(dir)
	require.NoError(t, lock1.Acquire())
	defer func() { _ = lock1.Unlock() }()

	err := NewDirLock(dir).Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another documind process")
}

func TestDirLock_Unlock_Idempotent(t *testing.T) {
	lock := NewDirLock(t.TempDir())

	// Unlocking an unheld lock is a no-op
	assert.NoError(t, lock.Unlock())

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)

	assert.NoError(t, lock.Unlock())
	assert.NoError(t, lock.Unlock())
}

func TestDirLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "index")

	lock := NewDirLock(dir)
	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	defer func() { _ = lock.Unlock() }()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
