// Package config holds all configuration types and loading logic.
// Config structure never shrinks — fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CorentinB/Sonarr/internal/types"
)

// Config is the root configuration for a server instance.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Auth      AuthConfig       `yaml:"auth"`
	Sync      SyncConfig       `yaml:"sync"`
	Limits    LimitsConfig     `yaml:"limits"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// ServerConfig holds network and storage settings for this instance.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// AuthConfig controls API key authentication on the ingest API.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// SyncConfig controls the drain cadence and pending-state lifetime.
// Durations are Go duration strings ("90s", "24h").
type SyncConfig struct {
	// DrainInterval is how often every endpoint's pending queue is drained.
	DrainInterval string `yaml:"drain_interval"`
	// PendingTTL is how long an idle pending queue survives before eviction.
	PendingTTL string `yaml:"pending_ttl"`
	// SinkTimeout bounds a single bulk refresh call to a media server.
	SinkTimeout string `yaml:"sink_timeout"`
}

// LimitsConfig sets rate limiting applied per remote address on the ingest API.
type LimitsConfig struct {
	// RPS is sustained requests per second per remote address.
	RPS float64 `yaml:"rps"`
	// Burst allows temporary spikes above RPS.
	Burst int `yaml:"burst"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// EndpointConfig seeds one media server endpoint at startup. Seeded
// endpoints are created only if no endpoint with the same name already
// exists, so API-side edits survive restarts.
type EndpointConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key"`
	UpdateLibrary bool   `yaml:"update_library"`
}

// Endpoint converts the seed entry to a domain Endpoint.
func (e EndpointConfig) Endpoint() types.Endpoint {
	return types.Endpoint{
		Name:          e.Name,
		URL:           e.URL,
		APIKey:        e.APIKey,
		UpdateLibrary: e.UpdateLibrary,
	}
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8989,
			DataDir: "./data",
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Sync: SyncConfig{
			DrainInterval: "1m",
			PendingTTL:    "24h",
			SinkTimeout:   "30s",
		},
		Limits: LimitsConfig{
			RPS:   100,
			Burst: 200,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	SONARR_AUTH_API_KEY  — sets auth.api_key and enables auth (auth.enabled = true)
//	SONARR_DATA_DIR      — sets server.data_dir
//	SONARR_PORT          — sets server.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SONARR_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("SONARR_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("SONARR_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Server.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.DataDir == "" {
		return errors.New("server.data_dir must not be empty")
	}
	if _, err := time.ParseDuration(c.Sync.DrainInterval); err != nil {
		return fmt.Errorf("sync.drain_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.PendingTTL); err != nil {
		return fmt.Errorf("sync.pending_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.SinkTimeout); err != nil {
		return fmt.Errorf("sync.sink_timeout: %w", err)
	}
	if c.Limits.RPS <= 0 {
		return errors.New("limits.rps must be positive")
	}
	if c.Limits.Burst < 1 {
		return errors.New("limits.burst must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	return nil
}

// DrainInterval returns the parsed drain cadence, falling back to the
// default when unset or malformed.
func (c *Config) DrainInterval() time.Duration {
	return parseDuration(c.Sync.DrainInterval, time.Minute)
}

// PendingTTL returns the parsed pending-queue idle lifetime.
func (c *Config) PendingTTL() time.Duration {
	return parseDuration(c.Sync.PendingTTL, 24*time.Hour)
}

// SinkTimeout returns the parsed per-call media server timeout.
func (c *Config) SinkTimeout() time.Duration {
	return parseDuration(c.Sync.SinkTimeout, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
