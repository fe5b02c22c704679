package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range keys {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data/raydock.db", cfg.Database)
	assert.Equal(t, "/usr/local/bin/xray", cfg.Xray.BinPath)
	assert.Equal(t, "/etc/raydock/xray.json", cfg.Xray.ConfigPath)
	assert.Equal(t, "logs", filepath.Base(cfg.Xray.LogDir))
	assert.Equal(t, 10085, cfg.Xray.APIPort)
	assert.Equal(t, 5*time.Second, cfg.Polling.StatsInterval)
	assert.Equal(t, 10*time.Second, cfg.Polling.HostInterval)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("XRAY_BIN_PATH", "/opt/xray/xray")
	t.Setenv("XRAY_API_PORT", "20085")
	t.Setenv("STATS_INTERVAL", "2s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/opt/xray/xray", cfg.Xray.BinPath)
	assert.Equal(t, 20085, cfg.Xray.APIPort)
	assert.Equal(t, 2*time.Second, cfg.Polling.StatsInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_path: /var/lib/raydock/raydock.db
xray:
  config_path: /tmp/xray.json
polling:
  stats_interval: 15s
`), 0644))
	t.Setenv("XRAY_CONFIG_PATH", "/run/xray.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/raydock/raydock.db", cfg.Database)
	assert.Equal(t, "/run/xray.json", cfg.Xray.ConfigPath, "env wins over file")
	assert.Equal(t, 15*time.Second, cfg.Polling.StatsInterval)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{"zero interval", "STATS_INTERVAL", "0s"},
		{"negative host interval", "HOST_INTERVAL", "-1s"},
		{"port out of range", "XRAY_API_PORT", "70000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.env, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
