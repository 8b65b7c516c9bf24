package models

// -----------------------------------------------------------------------------
// Subscription Events
// -----------------------------------------------------------------------------

// MEventType tags the events a subscription yields.
type MEventType string

const (
	EventTypeCandle    MEventType = "candle"
	EventTypeHeartbeat MEventType = "heartbeat"
)

// -----------------------------------------------------------------------------

// MEvent is a single item pulled from a subscription: either a bar or a
// synthetic heartbeat produced after the idle window.
type MEvent struct {
	Type MEventType
	Bar  *MBar // set when Type == EventTypeCandle

	// TimestampMillis is set for heartbeats
	TimestampMillis int64
}

// -----------------------------------------------------------------------------
// Wire Frames (contract with remote clients, byte-for-byte)
// -----------------------------------------------------------------------------

// MCandleFrame is the outbound wire shape for a bar event.
type MCandleFrame struct {
	Type           string `json:"type"` // always "candle"
	Symbol         string `json:"symbol"`
	Timeframe      string `json:"timeframe"`
	OpenTimeMillis int64  `json:"openTimeMillis"`
	Open           string `json:"open"`
	High           string `json:"high"`
	Low            string `json:"low"`
	Close          string `json:"close"`
	Volume         string `json:"volume"`
}

// -----------------------------------------------------------------------------

// MHeartbeatFrame is the outbound wire shape for a heartbeat event.
type MHeartbeatFrame struct {
	Type            string `json:"type"` // always "heartbeat"
	TimestampMillis int64  `json:"timestampMillis"`
}

// -----------------------------------------------------------------------------

// NewCandleFrame converts a bar into its wire shape.
func NewCandleFrame(bar *MBar) *MCandleFrame {
	return &MCandleFrame{
		Type:           string(EventTypeCandle),
		Symbol:         bar.Symbol,
		Timeframe:      bar.Timeframe,
		OpenTimeMillis: bar.OpenTime,
		Open:           bar.Open.String(),
		High:           bar.High.String(),
		Low:            bar.Low.String(),
		Close:          bar.Close.String(),
		Volume:         bar.Volume.String(),
	}
}

// -----------------------------------------------------------------------------

// NewHeartbeatFrame converts a heartbeat event into its wire shape.
func NewHeartbeatFrame(ev *MEvent) *MHeartbeatFrame {
	return &MHeartbeatFrame{
		Type:            string(EventTypeHeartbeat),
		TimestampMillis: ev.TimestampMillis,
	}
}

// -----------------------------------------------------------------------------
// Client Commands
// -----------------------------------------------------------------------------

// MSubscribeCommand is the inbound client message on the websocket endpoint.
type MSubscribeCommand struct {
	Command   string `json:"command"` // "subscribe" or "unsubscribe"
	Venue     string `json:"venue,omitempty"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}
