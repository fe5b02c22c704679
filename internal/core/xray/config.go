package xray

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"raydock/internal/storage/models"
)

// Config represents the root Xray configuration
type Config struct {
	Log       *LogConfig       `json:"log"`
	API       *APIConfig       `json:"api"`
	Inbounds  []InboundConfig  `json:"inbounds"`
	Outbounds []OutboundConfig `json:"outbounds"`
	Routing   *RoutingConfig   `json:"routing"`
	Stats     *StatsConfig     `json:"stats"`
	Policy    *PolicyConfig    `json:"policy"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	LogLevel string `json:"loglevel"`
	Access   string `json:"access,omitempty"`
	Error    string `json:"error,omitempty"`
}

// APIConfig configures xray gRPC API
type APIConfig struct {
	Tag      string   `json:"tag"`
	Services []string `json:"services"`
}

// StatsConfig enables xray statistics
type StatsConfig struct{}

// PolicyConfig sets level and system policies
type PolicyConfig struct {
	Levels map[string]LevelPolicy `json:"levels"`
	System *SystemPolicy          `json:"system,omitempty"`
}

// LevelPolicy controls per-user stats and connection tuning
type LevelPolicy struct {
	StatsUserUplink   bool `json:"statsUserUplink"`
	StatsUserDownlink bool `json:"statsUserDownlink"`
	Handshake         int  `json:"handshake"`
	ConnIdle          int  `json:"connIdle"`
	UplinkOnly        int  `json:"uplinkOnly"`
	DownlinkOnly      int  `json:"downlinkOnly"`
	BufferSize        int  `json:"bufferSize"`
}

// SystemPolicy controls system-level stats collection
type SystemPolicy struct {
	StatsInboundUplink    bool `json:"statsInboundUplink"`
	StatsInboundDownlink  bool `json:"statsInboundDownlink"`
	StatsOutboundUplink   bool `json:"statsOutboundUplink"`
	StatsOutboundDownlink bool `json:"statsOutboundDownlink"`
}

// InboundConfig represents an inbound configuration. The blob fields are
// passed through from storage without interpretation.
type InboundConfig struct {
	Tag            string          `json:"tag"`
	Port           int             `json:"port"`
	Listen         string          `json:"listen,omitempty"`
	Protocol       string          `json:"protocol"`
	Allocate       json.RawMessage `json:"allocate,omitempty"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	StreamSettings json.RawMessage `json:"streamSettings,omitempty"`
	Sniffing       json.RawMessage `json:"sniffing,omitempty"`
}

// OutboundConfig represents an outbound configuration
type OutboundConfig struct {
	Tag      string          `json:"tag"`
	Protocol string          `json:"protocol"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// RoutingConfig represents routing configuration
type RoutingConfig struct {
	DomainStrategy string        `json:"domainStrategy"`
	Rules          []RoutingRule `json:"rules"`
}

// RoutingRule represents a routing rule
type RoutingRule struct {
	Type        string   `json:"type"`
	InboundTag  []string `json:"inboundTag,omitempty"`
	OutboundTag string   `json:"outboundTag"`
	Domain      []string `json:"domain,omitempty"`
	IP          []string `json:"ip,omitempty"`
	Port        string   `json:"port,omitempty"`
}

const (
	// APITag names the synthetic control-plane inbound, the API handler and
	// the routing rule between them.
	APITag = "api"

	// DefaultAPIPort is the loopback port the stats API listens on.
	DefaultAPIPort = 10085

	apiListen = "127.0.0.1"
)

// BuildOptions carries the host-specific parts of the generated config.
type BuildOptions struct {
	LogDir  string
	APIPort int
}

// Build generates the complete Xray configuration for the given enabled
// inbounds. It performs no I/O.
func Build(inbounds []*models.Inbound, opts BuildOptions) *Config {
	apiPort := opts.APIPort
	if apiPort == 0 {
		apiPort = DefaultAPIPort
	}

	cfg := &Config{
		Log: &LogConfig{
			LogLevel: "error",
			Access:   filepath.Join(opts.LogDir, AccessLogName),
			Error:    filepath.Join(opts.LogDir, ErrorLogName),
		},
		API: &APIConfig{
			Tag:      APITag,
			Services: []string{"HandlerService", "LoggerService", "StatsService"},
		},
		Stats: &StatsConfig{},
		Policy: &PolicyConfig{
			Levels: map[string]LevelPolicy{
				"0": {
					StatsUserUplink:   true,
					StatsUserDownlink: true,
					Handshake:         4,
					ConnIdle:          300,
					UplinkOnly:        2,
					DownlinkOnly:      5,
					BufferSize:        512,
				},
			},
			System: &SystemPolicy{
				StatsInboundUplink:    true,
				StatsInboundDownlink:  true,
				StatsOutboundUplink:   true,
				StatsOutboundDownlink: true,
			},
		},
	}

	// The API inbound always comes first so the stats query has a route.
	cfg.Inbounds = make([]InboundConfig, 0, len(inbounds)+1)
	cfg.Inbounds = append(cfg.Inbounds, InboundConfig{
		Tag:      APITag,
		Port:     apiPort,
		Listen:   apiListen,
		Protocol: "dokodemo-door",
		Settings: json.RawMessage(`{"address":"127.0.0.1"}`),
	})

	for _, in := range inbounds {
		ic := InboundConfig{
			Tag:            in.EffectiveTag(),
			Port:           in.Port,
			Protocol:       in.Protocol,
			Allocate:       parseBlob(in.Allocate),
			Settings:       parseBlob(in.Settings),
			StreamSettings: parseBlob(in.StreamSettings),
			Sniffing:       parseBlob(in.Sniffing),
		}
		if in.Listen != nil {
			ic.Listen = *in.Listen
		}
		cfg.Inbounds = append(cfg.Inbounds, ic)
	}

	cfg.Outbounds = []OutboundConfig{
		{Tag: "direct", Protocol: "freedom"},
		{Tag: "blocked", Protocol: "blackhole"},
	}

	// API traffic must be matched before anything else, otherwise stats
	// queries loop back into the data plane.
	cfg.Routing = &RoutingConfig{
		DomainStrategy: "IPIfNonMatch",
		Rules: []RoutingRule{
			{
				Type:        "field",
				InboundTag:  []string{APITag},
				OutboundTag: APITag,
			},
		},
	}

	return cfg
}

// parseBlob returns the stored JSON text, or nil when it is absent or not
// valid JSON. A bad blob drops only that field.
func parseBlob(raw *string) json.RawMessage {
	if raw == nil || *raw == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(*raw)); err != nil {
		return nil
	}
	if buf.String() == "null" {
		return nil
	}
	return buf.Bytes()
}

// WriteConfig serializes cfg and replaces the file at path.
func WriteConfig(path string, cfg *Config) error {
	configJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(configJSON); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
