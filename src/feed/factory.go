package feed

import (
	"fmt"

	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"
)

// -----------------------------------------------------------------------------
// Connection Factory
// -----------------------------------------------------------------------------

// NewConnectionFactory builds the interfaces.IFeedConnectionFactory the hub is
// constructed with. Adapters are resolved by the key's venue name, so a single
// factory serves every configured venue.
func NewConnectionFactory(cfg *models.MConfig, adapters map[string]interfaces.IVenueAdapter, log *logger.Logger) interfaces.IFeedConnectionFactory {
	return func(key models.MFeedKey, sink interfaces.BarSink) (interfaces.IFeedConnection, error) {
		adapter, ok := adapters[key.Venue]
		if !ok {
			return nil, fmt.Errorf("no venue adapter configured for '%s'", key.Venue)
		}
		return NewConnection(key, adapter, &cfg.Feed, log, sink), nil
	}
}
