package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Feed Key
// -----------------------------------------------------------------------------

// MFeedKey identifies one logical live candle feed.
type MFeedKey struct {
	Venue     string `json:"venue" yaml:"venue"`
	Symbol    string `json:"symbol" yaml:"symbol"`
	Timeframe string `json:"timeframe" yaml:"timeframe"`
}

// -----------------------------------------------------------------------------

// String returns the canonical "venue:symbol:timeframe" form used in logs and maps.
func (k MFeedKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Venue, k.Symbol, k.Timeframe)
}

// -----------------------------------------------------------------------------
// Bar (OHLCV candle)
// -----------------------------------------------------------------------------

// MBar represents one time-bucketed OHLCV record for a feed key.
// Price and volume fields use decimal to avoid float drift in downstream
// accounting. A bar for the same OpenTime may arrive more than once while the
// bucket is still open; the newest arrival replaces the previous one.
type MBar struct {
	Venue     string `json:"venue"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	// Bucket boundaries in milliseconds since epoch
	OpenTime  int64 `json:"open_time"`
	CloseTime int64 `json:"close_time"`

	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`

	// Final is true once the venue closed the bucket (no further updates)
	Final bool `json:"final"`
}

// -----------------------------------------------------------------------------

// Key returns the feed key this bar belongs to.
func (b *MBar) Key() MFeedKey {
	return MFeedKey{Venue: b.Venue, Symbol: b.Symbol, Timeframe: b.Timeframe}
}
