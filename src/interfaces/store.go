package interfaces

import "candle-hub/src/models"

// -----------------------------------------------------------------------------
// IBarStore defines the contract for bar persistence.
// -----------------------------------------------------------------------------

type IBarStore interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveBarsBulk inserts or replaces a batch of bars.
	SaveBarsBulk(bars []models.MBar) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
