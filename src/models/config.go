package models

import "time"

// MConfig Structure
type MConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	GrpcHost string `yaml:"grpc_host"`
	GrpcPort int    `yaml:"grpc_port"`

	Hub      MHubConfig      `yaml:"hub"`
	Feed     MFeedConfig     `yaml:"feed"`
	Venues   []MVenueConfig  `yaml:"venues"`
	Storage  MStorageConfig  `yaml:"storage"`
	NATS     MNATSConfig     `yaml:"nats"`
	Recorder MRecorderConfig `yaml:"recorder"`
}

// -----------------------------------------------------------------------------

// MHubConfig tunes per-subscriber delivery.
type MHubConfig struct {
	// ChannelCapacity is the bounded per-subscriber queue size (default 100)
	ChannelCapacity int `yaml:"channel_capacity"`
	// HeartbeatSeconds is the idle window before a synthetic heartbeat (default 30)
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
	// OverflowPolicy is "drop_newest" (default) or "drop_oldest"
	OverflowPolicy string `yaml:"overflow_policy"`
}

// -----------------------------------------------------------------------------

// MFeedConfig tunes upstream reconnect behavior.
type MFeedConfig struct {
	BackoffFloorMS      int     `yaml:"backoff_floor_ms"`   // default 500
	BackoffCeilingMS    int     `yaml:"backoff_ceiling_ms"` // default 30000
	BackoffFactor       float64 `yaml:"backoff_factor"`     // default 2.0
	BackoffJitter       bool    `yaml:"backoff_jitter"`     // default true
	BackoffResetSeconds int     `yaml:"backoff_reset_seconds"`
	HandshakeTimeoutSec int     `yaml:"handshake_timeout_seconds"`
}

// -----------------------------------------------------------------------------

// MVenueConfig describes one upstream venue endpoint.
type MVenueConfig struct {
	Name     string `yaml:"name"`     // adapter name, e.g. "binance"
	Endpoint string `yaml:"endpoint"` // websocket base URL
	APIKey   string `yaml:"api_key"`  // Optional
}

// -----------------------------------------------------------------------------

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

// -----------------------------------------------------------------------------

// MNATSConfig configures the optional bar publisher.
type MNATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Servers        []string      `yaml:"servers"`
	ClientID       string        `yaml:"client_id"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// -----------------------------------------------------------------------------

// MRecorderConfig lists the feeds persisted by the bar recorder.
type MRecorderConfig struct {
	Enabled       bool       `yaml:"enabled"`
	FlushInterval int        `yaml:"flush_interval_seconds"` // default 5
	BatchSize     int        `yaml:"batch_size"`             // default 500
	Feeds         []MFeedKey `yaml:"feeds"`
}
