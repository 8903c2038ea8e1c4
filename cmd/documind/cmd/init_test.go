package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind-hq/documind/internal/config"
)

func TestInitCmd_ConfigOnly(t *testing.T) {
	tmpDir := t.TempDir()

	cmd := newInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{tmpDir, "--config-only", "--offline"})

	err := cmd.Execute()
	require.NoError(t, err)

	configPath := filepath.Join(tmpDir, config.ProjectConfigName)
	assert.True(t, fileExists(configPath), "init should write the project config")
	assert.Contains(t, buf.String(), "Created "+config.ProjectConfigName)

	// No index is built in config-only mode
	assert.False(t, fileExists(metadataDBPath(config.DataDir(tmpDir))))
}

func TestInitCmd_ExistingConfigNeedsForce(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, config.ProjectConfigName)
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0o644))

	cmd := newInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{tmpDir, "--config-only", "--offline"})

	err := cmd.Execute()
	require.NoError(t, err)

	// Untouched without --force
	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
	assert.Contains(t, buf.String(), "--force")
}

func TestInitCmd_SubstitutesDiscoveredDocDirs(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "docs"), 0o755))

	cmd := newInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{tmpDir, "--config-only", "--offline"})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(tmpDir, config.ProjectConfigName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"docs/**"`)
	assert.NotContains(t, string(data), "include: []")
}

func TestInitCmd_AddsGitignoreEntry(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("node_modules/\n"), 0o644))

	cmd := newInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{tmpDir, "--config-only", "--offline"})

	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(filepath.Join(tmpDir, ".gitignore"))
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	assert.Contains(t, lines, ".documind/")
	assert.Contains(t, lines, "node_modules/")
}

func TestInitCmd_RejectsFiles(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "doc.md")
	require.NoError(t, os.WriteFile(filePath, []byte("# hi"), 0o644))

	cmd := newInitCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filePath, "--config-only"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}
