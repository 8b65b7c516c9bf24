package models

// -----------------------------------------------------------------------------
// Upstream Connection State
// -----------------------------------------------------------------------------

// MFeedState describes the lifecycle state of one upstream feed connection.
type MFeedState string

const (
	FeedStateIdle       MFeedState = "IDLE"
	FeedStateConnecting MFeedState = "CONNECTING"
	FeedStateLive       MFeedState = "LIVE"
	FeedStateBackoff    MFeedState = "BACKOFF"
	FeedStateStopped    MFeedState = "STOPPED"
)

// -----------------------------------------------------------------------------

// MFeedStatus is the read-only per-key snapshot returned by the hub for
// operational dashboards. It has no behavioral effect.
type MFeedStatus struct {
	Key              MFeedKey   `json:"key"`
	SubscriberCount  int        `json:"subscriber_count"`
	ConnectionState  MFeedState `json:"connection_state"`
	ReconnectAttempt int        `json:"reconnect_attempt"`
	LastError        string     `json:"last_error,omitempty"`
}
