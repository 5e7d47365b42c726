package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iocatcher.toml")
	cfg := Default()
	cfg.Port = 7174
	cfg.NvdimmMounts = []string{"/mnt/pmem0", "/mnt/pmem1"}
	cfg.VerboseCategories = []string{"conn", "cow"}

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestApplyEnvOverridesDebugAndAbort(t *testing.T) {
	cfg := Default()
	t.Setenv("IOC_DEBUG", "conn,cow")
	t.Setenv("IOC_ABORT", "false")

	cfg.ApplyEnv()

	require.Equal(t, []string{"conn", "cow"}, cfg.VerboseCategories)
	require.False(t, cfg.AbortOnFatal)
}

func TestVerboseAllWildcard(t *testing.T) {
	cfg := Default()
	cfg.VerboseCategories = []string{"*"}
	require.True(t, cfg.VerboseAll())
	require.True(t, cfg.VerboseEnabled("anything"))
}

func TestVerboseEnabledSpecificCategory(t *testing.T) {
	cfg := Default()
	cfg.VerboseCategories = []string{"conn"}
	require.True(t, cfg.VerboseEnabled("conn"))
	require.False(t, cfg.VerboseEnabled("cow"))
}
