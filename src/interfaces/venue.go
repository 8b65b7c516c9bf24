package interfaces

import (
	"candle-hub/src/logger"
	"candle-hub/src/models"
)

// -----------------------------------------------------------------------------

// IVenueAdapterConstructor defines the function signature for creating a new
// IVenueAdapter instance from its venue configuration.
type IVenueAdapterConstructor func(cfg *models.MVenueConfig, logger *logger.Logger) (IVenueAdapter, error)

// -----------------------------------------------------------------------------

// IVenueAdapter defines the venue-specific protocol knowledge: stream naming,
// subscribe/unsubscribe framing and message parsing. The feed connection owns
// the transport; the adapter only translates bytes.
type IVenueAdapter interface {
	// GetName return the venue name
	GetName() string

	// GetEndPoint return the websocket endpoint of the venue
	GetEndPoint() string

	// AddSubscription creates the subscription frame for a feed key
	AddSubscription(key models.MFeedKey) ([]byte, error)

	// RemoveSubscription creates the unsubscription frame for a feed key
	RemoveSubscription(key models.MFeedKey) ([]byte, error)

	// ParseMessage processes one incoming message into a bar.
	// Returns (nil, nil) for messages that are valid but carry no bar
	// (acks, pongs, unrelated events).
	ParseMessage(message []byte) (*models.MBar, error)

	// ValidateConfiguration validates the venue configuration
	ValidateConfiguration() error
}
