package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"raydock/internal/core/xray"
	"raydock/internal/paths"
)

// keys maps config keys to the environment variables that override them.
var keys = map[string]string{
	"log_level":              "LOG_LEVEL",
	"database_path":          "DATABASE_PATH",
	"xray.bin_path":          "XRAY_BIN_PATH",
	"xray.config_path":       "XRAY_CONFIG_PATH",
	"xray.log_dir":           "XRAY_LOG_DIR",
	"xray.api_port":          "XRAY_API_PORT",
	"xray.releases_url":      "XRAY_RELEASES_URL",
	"xray.download_base":     "XRAY_DOWNLOAD_BASE",
	"polling.stats_interval": "STATS_INTERVAL",
	"polling.host_interval":  "HOST_INTERVAL",
	"metrics.addr":           "METRICS_ADDR",
}

// Load loads the configuration from an optional YAML file and environment
// variables. Environment variables win over the file.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("log_level", "info")
	v.SetDefault("database_path", "data/raydock.db")
	v.SetDefault("xray.bin_path", "/usr/local/bin/xray")
	v.SetDefault("xray.config_path", "/etc/raydock/xray.json")
	v.SetDefault("xray.log_dir", paths.DefaultLogDir())
	v.SetDefault("xray.api_port", xray.DefaultAPIPort)
	v.SetDefault("xray.releases_url", xray.DefaultReleasesURL)
	v.SetDefault("xray.download_base", xray.DefaultDownloadBase)
	v.SetDefault("polling.stats_interval", "5s")
	v.SetDefault("polling.host_interval", "10s")
	v.SetDefault("metrics.addr", "")

	// Define environment variables
	for key, env := range keys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Metrics.Addr = strings.TrimSpace(cfg.Metrics.Addr)

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Database == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if cfg.Xray.BinPath == "" {
		return errors.New("XRAY_BIN_PATH is required")
	}
	if cfg.Xray.ConfigPath == "" {
		return errors.New("XRAY_CONFIG_PATH is required")
	}
	if cfg.Xray.LogDir == "" {
		return errors.New("XRAY_LOG_DIR is required")
	}
	if cfg.Xray.APIPort <= 0 || cfg.Xray.APIPort > 65535 {
		return fmt.Errorf("XRAY_API_PORT must be between 1 and 65535, got %d", cfg.Xray.APIPort)
	}
	if cfg.Polling.StatsInterval <= 0 {
		return fmt.Errorf("STATS_INTERVAL must be positive, got %s", cfg.Polling.StatsInterval)
	}
	if cfg.Polling.HostInterval <= 0 {
		return fmt.Errorf("HOST_INTERVAL must be positive, got %s", cfg.Polling.HostInterval)
	}
	return nil
}
