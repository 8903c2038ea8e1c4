package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireProfileFile(t *testing.T, path string) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0), "profile %s is empty", filepath.Base(path))
}

func TestProfiler_StartCPU(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "cpu.pprof")

	cleanup, err := p.StartCPU(path)
	require.NoError(t, err)

	// Burn a little CPU so the profile has samples to flush.
	total := 0
	for i := 0; i < 1_000_000; i++ {
		total += i % 7
	}
	_ = total

	cleanup()
	requireProfileFile(t, path)
}

func TestProfiler_StartCPU_BadPath(t *testing.T) {
	p := NewProfiler()

	_, err := p.StartCPU(filepath.Join(t.TempDir(), "missing", "cpu.pprof"))
	assert.Error(t, err)
}

func TestProfiler_WriteHeap(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "heap.pprof")

	require.NoError(t, p.WriteHeap(path))
	requireProfileFile(t, path)
}

func TestProfiler_WriteAllocs(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "allocs.pprof")

	require.NoError(t, p.WriteAllocs(path))
	requireProfileFile(t, path)
}

func TestProfiler_WriteGoroutine(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "goroutine.pprof")

	require.NoError(t, p.WriteGoroutine(path))
	requireProfileFile(t, path)
}

func TestProfiler_WriteBlock(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "block.pprof")

	require.NoError(t, p.WriteBlock(path))
	requireProfileFile(t, path)
}

func TestProfiler_StartTrace(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "trace.out")

	cleanup, err := p.StartTrace(path)
	require.NoError(t, err)
	cleanup()

	requireProfileFile(t, path)
}

func TestSession_WritesAllProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")

	s, err := StartSession(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Dir())

	require.NoError(t, s.Stop())

	requireProfileFile(t, filepath.Join(dir, "cpu.pprof"))
	requireProfileFile(t, filepath.Join(dir, "heap.pprof"))
	requireProfileFile(t, filepath.Join(dir, "goroutine.pprof"))
}

func TestMemStats_ReturnsLiveNumbers(t *testing.T) {
	m := MemStats()
	assert.Greater(t, m.Sys, uint64(0))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.bytes))
	}
}
