package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a config pointing at a temp log file
	logPath := filepath.Join(t.TempDir(), "pipeline.log")
	cfg := Config{
		Level:         "info",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	// When: logging a structured record
	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Info("ingest_started", slog.String("document", "handbook.md"), slog.Int("chunks", 12))
	cleanup()

	// Then: the log file contains valid JSON with our attributes
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "ingest_started", record["msg"])
	assert.Equal(t, "handbook.md", record["document"])
	assert.Equal(t, float64(12), record["chunks"])
}

func TestSetup_RespectsLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "pipeline.log")
	cfg := Config{
		Level:         "warn",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	logger.Debug("suppressed")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "suppressed")
	assert.Contains(t, string(data), "visible")
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	// Given: a writer with a tiny max size
	dir := t.TempDir()
	logPath := filepath.Join(dir, "pipeline.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	w.maxSize = 100 // shrink for the test

	// When: writing past the limit
	payload := strings.Repeat("x", 60) + "\n"
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Then: a rotated file exists alongside the active one
	assert.FileExists(t, logPath)
	assert.FileExists(t, logPath+".1")
}

func TestRotatingWriter_PrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "pipeline.log")

	// Pre-create rotated files at and beyond the keep limit
	require.NoError(t, os.WriteFile(logPath+".1", []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(logPath+".2", []byte("two"), 0o644))

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	w.maxSize = 10

	_, err = w.Write([]byte("0123456789abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// .2 was at the limit and must be gone after rotation shifted files
	assert.NoFileExists(t, logPath+".3")
}

func TestFindLogFile_ExplicitPath(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "custom.log")
	require.NoError(t, os.WriteFile(logPath, []byte("log"), 0o644))

	found, err := FindLogFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, logPath, found)
}

func TestFindLogFile_ExplicitPathMissing(t *testing.T) {
	_, err := FindLogFile(filepath.Join(t.TempDir(), "nope.log"))
	assert.Error(t, err)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
	assert.Contains(t, cfg.FilePath, "pipeline.log")
}

func TestDebugConfig_UsesDebugLevel(t *testing.T) {
	assert.Equal(t, "debug", DebugConfig().Level)
}
