package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind-hq/documind/internal/config"
)

func TestConfigPathCmd(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	cmd := newConfigPathCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	require.NoError(t, cmd.Execute())
	assert.Equal(t,
		filepath.Join(tmpDir, "documind", "config.yaml"),
		strings.TrimSpace(buf.String()))
}

func TestConfigInitCmd_CreatesUserConfig(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	cmd := newConfigInitCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	assert.True(t, config.UserConfigExists())
	assert.Contains(t, buf.String(), "Created user configuration")
}

func TestConfigInitCmd_ExistingNeedsForce(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	// First run creates
	first := newConfigInitCmd()
	first.SetOut(&bytes.Buffer{})
	require.NoError(t, first.Execute())

	// Second run without --force leaves it alone
	second := newConfigInitCmd()
	buf := &bytes.Buffer{}
	second.SetOut(buf)
	require.NoError(t, second.Execute())

	assert.Contains(t, buf.String(), "already exists")
}

func TestConfigShowCmd_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	cmd := newConfigShowCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--source", "defaults"})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "defaults (hardcoded)")
	assert.Contains(t, output, "embeddings:")
	assert.Contains(t, output, "search:")
}

func TestConfigShowCmd_UnknownSource(t *testing.T) {
	cmd := newConfigShowCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--source", "galaxy"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}
