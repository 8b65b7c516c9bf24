package config

import (
	"fmt"
	"os"

	"candle-hub/src/helpers"
	"candle-hub/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Overflow policy names accepted by hub.overflow_policy
const (
	OverflowDropNewest = "drop_newest"
	OverflowDropOldest = "drop_oldest"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("failed to read config file '%s'", configPath), err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, helpers.NewConfigurationError("failed to parse config from YAML", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, helpers.NewValidationError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyDefaults fills unset tunables with their documented defaults.
func (c *Config) applyDefaults() {
	if c.Hub.ChannelCapacity == 0 {
		c.Hub.ChannelCapacity = 100
	}
	if c.Hub.HeartbeatSeconds == 0 {
		c.Hub.HeartbeatSeconds = 30
	}
	if c.Hub.OverflowPolicy == "" {
		c.Hub.OverflowPolicy = OverflowDropNewest
	}
	if c.Feed.BackoffFloorMS == 0 {
		c.Feed.BackoffFloorMS = 500
	}
	if c.Feed.BackoffCeilingMS == 0 {
		c.Feed.BackoffCeilingMS = 30000
	}
	if c.Feed.BackoffFactor == 0 {
		c.Feed.BackoffFactor = 2.0
	}
	if c.Feed.BackoffResetSeconds == 0 {
		c.Feed.BackoffResetSeconds = 60
	}
	if c.Feed.HandshakeTimeoutSec == 0 {
		c.Feed.HandshakeTimeoutSec = 10
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = 5
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = 500
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	// Validate App configuration (Flattened)
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Hub configuration
	if c.Hub.ChannelCapacity <= 0 {
		return fmt.Errorf("hub channel capacity must be greater than 0")
	}
	if c.Hub.HeartbeatSeconds <= 0 {
		return fmt.Errorf("hub heartbeat window must be greater than 0")
	}
	if c.Hub.OverflowPolicy != OverflowDropNewest && c.Hub.OverflowPolicy != OverflowDropOldest {
		return fmt.Errorf("unknown hub overflow policy: %s", c.Hub.OverflowPolicy)
	}

	// Validate Feed configuration
	if c.Feed.BackoffFloorMS <= 0 {
		return fmt.Errorf("backoff floor must be greater than 0")
	}
	if c.Feed.BackoffCeilingMS < c.Feed.BackoffFloorMS {
		return fmt.Errorf("backoff ceiling %dms is below floor %dms", c.Feed.BackoffCeilingMS, c.Feed.BackoffFloorMS)
	}
	if c.Feed.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff factor must be at least 1.0")
	}

	// Validate Venues
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	for i, venue := range c.Venues {
		if venue.Name == "" {
			return fmt.Errorf("venue %d must have a name", i)
		}
		if venue.Endpoint == "" {
			return fmt.Errorf("venue '%s' must have an endpoint", venue.Name)
		}
	}

	// Validate Storage configuration (only when the recorder is enabled)
	if c.Recorder.Enabled {
		if c.Storage.DBType == "" {
			return fmt.Errorf("database type cannot be empty when recorder is enabled")
		}
		if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
		if len(c.Recorder.Feeds) == 0 {
			return fmt.Errorf("recorder must list at least one feed")
		}
	}

	// Validation of NATS config (minimal check)
	if c.NATS.Enabled && len(c.NATS.Servers) == 0 {
		return fmt.Errorf("NATS servers list cannot be empty")
	}

	return nil
}

// -----------------------------------------------------------------------------

// GetVenueByName returns a single venue configuration by name
func (c *Config) GetVenueByName(name string) *models.MVenueConfig {
	for i := range c.Venues {
		if c.Venues[i].Name == name {
			return &c.Venues[i]
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
