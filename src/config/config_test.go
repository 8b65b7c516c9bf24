package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"candle-hub/src/helpers"
)

// -----------------------------------------------------------------------------

const minimalYAML = `
name: "candle-hub"
host: "0.0.0.0"
port: 8080
log_level: "INFO"

venues:
  - name: "binance"
    endpoint: "wss://stream.binance.com:9443/ws"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

// -----------------------------------------------------------------------------

func TestNewConfigAppliesDefaults(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if cfg.Hub.ChannelCapacity != 100 {
		t.Errorf("expected default channel capacity 100, got %d", cfg.Hub.ChannelCapacity)
	}
	if cfg.Hub.HeartbeatSeconds != 30 {
		t.Errorf("expected default heartbeat 30s, got %d", cfg.Hub.HeartbeatSeconds)
	}
	if cfg.Hub.OverflowPolicy != OverflowDropNewest {
		t.Errorf("expected default overflow policy drop_newest, got %s", cfg.Hub.OverflowPolicy)
	}
	if cfg.Feed.BackoffFloorMS != 500 || cfg.Feed.BackoffCeilingMS != 30000 {
		t.Errorf("unexpected backoff defaults: floor=%d ceiling=%d",
			cfg.Feed.BackoffFloorMS, cfg.Feed.BackoffCeilingMS)
	}
	if cfg.Feed.BackoffFactor != 2.0 {
		t.Errorf("expected default backoff factor 2.0, got %f", cfg.Feed.BackoffFactor)
	}
}

func TestNewConfigOverridesDefaults(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML+`
hub:
  channel_capacity: 16
  heartbeat_seconds: 5
  overflow_policy: "drop_oldest"
`))
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if cfg.Hub.ChannelCapacity != 16 {
		t.Errorf("expected channel capacity 16, got %d", cfg.Hub.ChannelCapacity)
	}
	if cfg.Hub.OverflowPolicy != OverflowDropOldest {
		t.Errorf("expected drop_oldest, got %s", cfg.Hub.OverflowPolicy)
	}
}

func TestNewConfigMissingFile(t *testing.T) {
	if _, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

// -----------------------------------------------------------------------------

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := map[string]string{
		"no venues": `
name: "candle-hub"
host: "0.0.0.0"
port: 8080
`,
		"bad port": `
name: "candle-hub"
host: "0.0.0.0"
port: 80
venues:
  - name: "binance"
    endpoint: "wss://stream.binance.com:9443/ws"
`,
		"unknown overflow policy": minimalYAML + `
hub:
  overflow_policy: "drop_random"
`,
		"backoff ceiling below floor": minimalYAML + `
feed:
  backoff_floor_ms: 5000
  backoff_ceiling_ms: 100
`,
		"recorder without feeds": minimalYAML + `
storage:
  db_type: "sqlite"
  db_path: "bars.db"
recorder:
  enabled: true
`,
		"nats without servers": minimalYAML + `
nats:
  enabled: true
`,
	}

	for name, content := range cases {
		if _, err := NewConfig(writeConfig(t, content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

// -----------------------------------------------------------------------------

func TestNewConfigErrorTypes(t *testing.T) {
	var confErr *helpers.ConfigurationError
	if _, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml")); !errors.As(err, &confErr) {
		t.Errorf("expected ConfigurationError for unreadable file, got %v", err)
	}
	if _, err := NewConfig(writeConfig(t, "name: [broken")); !errors.As(err, &confErr) {
		t.Errorf("expected ConfigurationError for malformed YAML, got %v", err)
	}

	var valErr *helpers.ValidationError
	if _, err := NewConfig(writeConfig(t, `
name: "candle-hub"
host: "0.0.0.0"
port: 8080
`)); !errors.As(err, &valErr) {
		t.Errorf("expected ValidationError for config without venues, got %v", err)
	}
}

// -----------------------------------------------------------------------------

func TestGetVenueByName(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}

	if venue := cfg.GetVenueByName("binance"); venue == nil {
		t.Errorf("expected binance venue")
	}
	if venue := cfg.GetVenueByName("kraken"); venue != nil {
		t.Errorf("expected nil for unconfigured venue, got %+v", venue)
	}
}
