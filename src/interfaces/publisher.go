package interfaces

import "candle-hub/src/models"

// -----------------------------------------------------------------------------

// IPublisher defines the interface for republishing bars to a message broker
type IPublisher interface {
	// OnBar processes and publishes one broadcast bar
	OnBar(bar *models.MBar)

	// Connect establishes connection to the message broker
	Connect() error

	// Disconnect closes the connection to the message broker
	Disconnect() error

	// IsConnected returns the current connection status
	IsConnected() bool
}
