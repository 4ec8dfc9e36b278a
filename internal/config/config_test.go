package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CorentinB/Sonarr/internal/config"
)

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()

	if cfg.Server.Port != 8989 {
		t.Errorf("expected default port 8989, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.DataDir != "./data" {
		t.Errorf("expected default data_dir ./data, got %s", cfg.Server.DataDir)
	}
	if cfg.DrainInterval() != time.Minute {
		t.Errorf("expected default drain interval 1m, got %s", cfg.DrainInterval())
	}
	if cfg.PendingTTL() != 24*time.Hour {
		t.Errorf("expected default pending TTL 24h, got %s", cfg.PendingTTL())
	}
	if cfg.SinkTimeout() != 30*time.Second {
		t.Errorf("expected default sink timeout 30s, got %s", cfg.SinkTimeout())
	}
	if cfg.Auth.Enabled {
		t.Error("auth must be disabled by default")
	}
	if len(cfg.Endpoints) != 0 {
		t.Errorf("expected no seeded endpoints by default, got %d", len(cfg.Endpoints))
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("/tmp/sonarr_nonexistent_config_12345.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Server.Port != 8989 {
		t.Errorf("expected default port for missing file, got %d", cfg.Server.Port)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	yaml := `
server:
  port: 9999
  host: "127.0.0.1"
  data_dir: "/tmp/sonarr_sync_test"
sync:
  drain_interval: "90s"
endpoints:
  - name: living-room
    url: "http://emby.local:8096"
    api_key: "abc"
    update_library: true
`
	path := writeTempYAML(t, yaml)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.DrainInterval() != 90*time.Second {
		t.Errorf("expected drain interval 90s, got %s", cfg.DrainInterval())
	}
	if len(cfg.Endpoints) != 1 {
		t.Fatalf("expected 1 seeded endpoint, got %d", len(cfg.Endpoints))
	}
	ep := cfg.Endpoints[0].Endpoint()
	if ep.Name != "living-room" || !ep.UpdateLibrary {
		t.Errorf("seeded endpoint = %+v", ep)
	}
	// Unset fields keep their defaults.
	if cfg.PendingTTL() != 24*time.Hour {
		t.Errorf("expected default pending TTL (unchanged), got %s", cfg.PendingTTL())
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTempYAML(t, "server: [invalid: yaml: {{{}}")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SONARR_AUTH_API_KEY", "hunter2")
	t.Setenv("SONARR_PORT", "7878")

	cfg, err := config.Load("/tmp/sonarr_nonexistent_config_12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "hunter2" {
		t.Errorf("env api key not applied: %+v", cfg.Auth)
	}
	if cfg.Server.Port != 7878 {
		t.Errorf("env port not applied: %d", cfg.Server.Port)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for port 0")
	}

	cfg.Server.Port = 99999
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for port 99999")
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := config.Default()
	cfg.Server.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty data_dir")
	}
}

func TestValidate_MalformedDuration(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.DrainInterval = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for malformed drain_interval")
	}
}

func TestValidate_BadLimits(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.RPS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero rps")
	}

	cfg = config.Default()
	cfg.Limits.Burst = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero burst")
	}
}

// writeTempYAML writes content to a temp file and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writeTempYAML: %v", err)
	}
	return path
}
