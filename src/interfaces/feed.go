package interfaces

import "candle-hub/src/models"

// -----------------------------------------------------------------------------
// IFeedConnection defines the contract for one upstream feed connection.
// -----------------------------------------------------------------------------

type IFeedConnection interface {

	// Key returns the feed key this connection serves
	Key() models.MFeedKey

	// -----------------------------------------------------------------------------

	// Start launches the connect/read loop. It returns immediately; the
	// handshake continues asynchronously and failures are retried with backoff.
	Start() error

	// -----------------------------------------------------------------------------

	// Stop tears the connection down from any state. Safe to call more than
	// once and before the connection ever reached LIVE.
	Stop()

	// -----------------------------------------------------------------------------

	// State returns the current lifecycle state
	State() models.MFeedState

	// -----------------------------------------------------------------------------

	// Status returns a point-in-time snapshot for monitoring
	Status() models.MFeedStatus
}

// -----------------------------------------------------------------------------

// BarSink receives every bar a connection parses. The hub hands one sink to
// each connection at construction time so the connection stays decoupled from
// hub internals.
type BarSink func(bar *models.MBar)

// -----------------------------------------------------------------------------

// IFeedConnectionFactory creates a connection for a key, delivering bars to
// the given sink. Injected into the hub so tests can substitute fakes.
type IFeedConnectionFactory func(key models.MFeedKey, sink BarSink) (IFeedConnection, error)
