package config

import "time"

// Config represents the application configuration
type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Database string        `mapstructure:"database_path"`
	Xray     XrayConfig    `mapstructure:"xray"`
	Polling  PollConfig    `mapstructure:"polling"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

// XrayConfig holds the xray binary and generated-config settings
type XrayConfig struct {
	BinPath      string `mapstructure:"bin_path"`
	ConfigPath   string `mapstructure:"config_path"`
	LogDir       string `mapstructure:"log_dir"`
	APIPort      int    `mapstructure:"api_port"`
	ReleasesURL  string `mapstructure:"releases_url"`
	DownloadBase string `mapstructure:"download_base"`
}

// PollConfig holds the background job intervals
type PollConfig struct {
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	HostInterval  time.Duration `mapstructure:"host_interval"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}
