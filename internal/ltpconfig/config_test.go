package ltpconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaultsWithoutPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "/proc", cfg.ReadAll.Root)
	require.Equal(t, 30, cfg.ReadAll.TimeoutSeconds)
}

func TestLoadConfigParsesYamlFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ltp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("readall:\n  root: /sys\n  readers: 4\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/sys", cfg.ReadAll.Root)
	require.Equal(t, 4, cfg.ReadAll.Readers)
}

func TestEnvOverrideWinsOverYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ltp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("readall:\n  root: /sys\n"), 0644))

	t.Setenv("LTP_READALL_ROOT", "/proc/override")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/proc/override", cfg.ReadAll.Root)
}
