package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 5*time.Second, cfg.Provider.Timeout())
	require.Equal(t, 30*time.Minute, cfg.Refresh.Interval())
	require.Equal(t, time.Hour, cfg.Refresh.StaleAfter())
	require.Equal(t, "bolt", cfg.Storage.Driver)
	require.Equal(t, "USD", cfg.Provider.Pivot)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.Equal(t, 3600, cfg.Refresh.StaleAfterSec)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"server":{"port":"9090"},"refresh":{"interval_sec":60},"storage":{"driver":"file","path":"/tmp/x"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("REFRESH_INTERVAL_SEC", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 120, cfg.Refresh.IntervalSec)
	require.Equal(t, "file", cfg.Storage.Driver)
	// untouched sections keep defaults
	require.Equal(t, 5000, cfg.Provider.TimeoutMS)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsNonPositiveInterval(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REFRESH_INTERVAL_SEC", "-5")

	_, err := Load("")
	require.Error(t, err)
}
