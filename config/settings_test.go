package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaults(), s)
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	yamlContent := `
grid:
  chunkSide: 16
  blockSide: 4
  blocksX: 2
  blocksY: 1
  blocksZ: 2
  voxelSizeM: 0.5
fluidTypes:
  - viscosity: 255
    label: water
logLevel: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, s.Grid.ChunkSide)
	assert.Equal(t, 4, s.Grid.BlockSide)
	assert.Equal(t, 2, s.Grid.BlocksX)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Len(t, s.FluidTypes, 1)
	// Scheduler section was absent from the file: defaults for it survive.
	assert.Equal(t, defaults().Scheduler, s.Scheduler)
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestReloadFlagsRestartOnGridChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0o644))

	prev := defaults()
	next, restart, err := Reload(path, prev)
	require.NoError(t, err)
	assert.False(t, restart)
	assert.Equal(t, "debug", next.LogLevel)

	require.NoError(t, os.WriteFile(path, []byte("grid:\n  chunkSide: 16\n  blockSide: 2\n  blocksX: 1\n  blocksY: 1\n  blocksZ: 1\n  voxelSizeM: 1\n"), 0o644))
	next2, restart2, err := Reload(path, next)
	require.NoError(t, err)
	assert.True(t, restart2)
	assert.Equal(t, 16, next2.Grid.ChunkSide)
}
