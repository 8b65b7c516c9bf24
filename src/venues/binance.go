package venues

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"
	"candle-hub/src/utils"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// STRUCT DEFINITION
// -----------------------------------------------------------------------------

// Binance implements interfaces.IVenueAdapter for Binance kline streams
type Binance struct {
	Name   string
	Logger *logger.Logger
	Config *models.MVenueConfig

	// monotonically increasing request id for SUBSCRIBE/UNSUBSCRIBE frames
	requestID atomic.Int64
}

// -----------------------------------------------------------------------------
// CONSTRUCTOR AND REGISTRATION
// -----------------------------------------------------------------------------

func init() {
	// Register the adapter with the name "binance" for dynamic creation
	if err := Register("binance", NewBinance); err != nil {
		fmt.Printf("Error registering Binance venue adapter: %v\n", err)
	}
}

// -----------------------------------------------------------------------------

// NewBinance creates a new Binance adapter instance.
// Matches the interfaces.IVenueAdapterConstructor signature.
func NewBinance(cfg *models.MVenueConfig, log *logger.Logger) (interfaces.IVenueAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("venue config for binance is nil")
	}

	return &Binance{
		Name:   cfg.Name,
		Logger: log,
		Config: cfg,
	}, nil
}

// -----------------------------------------------------------------------------
// IVenueAdapter IMPLEMENTATION
// -----------------------------------------------------------------------------

// GetName returns the venue name
func (b *Binance) GetName() string {
	return b.Name
}

// -----------------------------------------------------------------------------

// GetEndPoint returns the WebSocket endpoint URL
func (b *Binance) GetEndPoint() string {
	return b.Config.Endpoint
}

// -----------------------------------------------------------------------------

// AddSubscription creates the SUBSCRIBE frame for one kline stream,
// e.g. "btcusdt@kline_1m".
func (b *Binance) AddSubscription(key models.MFeedKey) ([]byte, error) {
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{b.streamName(key)},
		"id":     b.requestID.Add(1),
	}

	subMsg, err := json.Marshal(msg)
	if err != nil {
		b.Logger.Error("%s : failed to serialize subscription message for %s: %v", b.Name, key, err)
		return nil, fmt.Errorf("failed to serialize subscription message: %w", err)
	}

	return subMsg, nil
}

// -----------------------------------------------------------------------------

// RemoveSubscription creates the UNSUBSCRIBE frame for one kline stream
func (b *Binance) RemoveSubscription(key models.MFeedKey) ([]byte, error) {
	msg := map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": []string{b.streamName(key)},
		"id":     b.requestID.Add(1),
	}

	unsubMsg, err := json.Marshal(msg)
	if err != nil {
		b.Logger.Error("%s : failed to serialize unsubscription message for %s: %v", b.Name, key, err)
		return nil, fmt.Errorf("failed to serialize unsubscription message: %w", err)
	}

	return unsubMsg, nil
}

// -----------------------------------------------------------------------------

// binanceKlineEvent mirrors the relevant part of a Binance kline payload.
// All prices arrive as strings and are kept decimal-exact.
type binanceKlineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Final     bool   `json:"x"`
	} `json:"k"`
}

// -----------------------------------------------------------------------------

// ParseMessage processes incoming WebSocket messages from Binance.
// Subscription acks and non-kline events return (nil, nil).
func (b *Binance) ParseMessage(message []byte) (*models.MBar, error) {
	// Cheap pre-check: acks carry "result", klines carry "e":"kline"
	var probe struct {
		EventType string           `json:"e"`
		Result    *json.RawMessage `json:"result"`
		ID        int64            `json:"id"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	// Skip subscription confirmations/pongs (messages with "result"/"id")
	if probe.EventType == "" {
		return nil, nil
	}
	if probe.EventType != "kline" {
		// Ignore unknown event types
		return nil, nil
	}

	var event binanceKlineEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kline event: %w", err)
	}

	if event.Symbol == "" || event.Kline.Interval == "" {
		return nil, fmt.Errorf("kline event missing symbol or interval")
	}

	open, err := decimal.NewFromString(event.Kline.Open)
	if err != nil {
		return nil, fmt.Errorf("parse kline event error (open): %w", err)
	}
	high, err := decimal.NewFromString(event.Kline.High)
	if err != nil {
		return nil, fmt.Errorf("parse kline event error (high): %w", err)
	}
	low, err := decimal.NewFromString(event.Kline.Low)
	if err != nil {
		return nil, fmt.Errorf("parse kline event error (low): %w", err)
	}
	closePrice, err := decimal.NewFromString(event.Kline.Close)
	if err != nil {
		return nil, fmt.Errorf("parse kline event error (close): %w", err)
	}
	volume, err := decimal.NewFromString(event.Kline.Volume)
	if err != nil {
		return nil, fmt.Errorf("parse kline event error (volume): %w", err)
	}

	return &models.MBar{
		Venue:     b.Name,
		Symbol:    strings.ToUpper(event.Symbol),
		Timeframe: utils.NormalizeTimeframe(event.Kline.Interval),
		OpenTime:  event.Kline.OpenTime,
		CloseTime: event.Kline.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Final:     event.Kline.Final,
	}, nil
}

// -----------------------------------------------------------------------------

// ValidateConfiguration validates Binance adapter configuration
func (b *Binance) ValidateConfiguration() error {
	// Check if essential fields are set
	if b.Config.Endpoint == "" {
		return fmt.Errorf("binance endpoint cannot be empty")
	}

	// Binance-specific validation: enforce secure websocket protocol
	if !strings.HasPrefix(b.Config.Endpoint, "wss://") {
		return fmt.Errorf("binance endpoint must use wss:// protocol")
	}

	return nil
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// streamName builds the combined stream token for a feed key
func (b *Binance) streamName(key models.MFeedKey) string {
	return strings.ToLower(key.Symbol) + "@kline_" + utils.NormalizeTimeframe(key.Timeframe)
}
