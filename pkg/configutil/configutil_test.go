package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string `json:"name"`
	Timeout int    `json:"timeout"`
	Nested  struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"nested"`
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are allowed
		name: "base",
		timeout: 10,
		nested: { path: "a" },
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		timeout: 20,
		nested: { enabled: true },
	}`), 0600))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "base", cfg.Name)
	require.Equal(t, 20, cfg.Timeout)
	require.True(t, cfg.Nested.Enabled)
	require.Equal(t, "a", cfg.Nested.Path)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOverlayAndDefaults(t *testing.T) {
	cfg := testConfig{Name: "file"}
	require.NoError(t, Overlay(&cfg, testConfig{Timeout: 5}))
	require.Equal(t, "file", cfg.Name)
	require.Equal(t, 5, cfg.Timeout)

	require.NoError(t, Defaults(&cfg, testConfig{Name: "default", Timeout: 60}))
	require.Equal(t, "file", cfg.Name)
	require.Equal(t, 5, cfg.Timeout)
}

func TestLookupBool(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "True")
	value, ok := LookupBool("CFG_TEST_BOOL")
	require.True(t, ok)
	require.True(t, value)

	t.Setenv("CFG_TEST_BOOL", "false")
	value, ok = LookupBool("CFG_TEST_BOOL")
	require.True(t, ok)
	require.False(t, value)

	_, ok = LookupBool("CFG_TEST_BOOL_UNSET")
	require.False(t, ok)
}
