package publishers

import (
	"fmt"
	"sync"

	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"

	"github.com/nats-io/nats.go"
)

// -----------------------------------------------------------------------------
// NATSPublisher republishes broadcast bars on a message bus
// -----------------------------------------------------------------------------

// NATSPublisher implements interfaces.IPublisher over NATS Core
// (fire-and-forget delivery; a missed bar is superseded by the next one).
type NATSPublisher struct {
	name   string
	config *models.MNATSConfig
	logger *logger.Logger

	mu sync.RWMutex

	nc         *nats.Conn             // NATS core connection
	serializer interfaces.ISerializer // serialize bars before sending

	connected bool
}

// -----------------------------------------------------------------------------

// NewNATSPublisher creates a new NATS publisher instance
func NewNATSPublisher(config *models.MNATSConfig, logger *logger.Logger, serializer interfaces.ISerializer) interfaces.IPublisher {
	return &NATSPublisher{
		name:       config.ClientID,
		config:     config,
		logger:     logger,
		serializer: serializer,
	}
}

// -----------------------------------------------------------------------------

// OnBar is the central callback where every broadcast bar lands.
// Subject shape: <prefix>.candles.<venue>.<symbol>.<timeframe>
func (np *NATSPublisher) OnBar(bar *models.MBar) {
	subject := np.getSubject(fmt.Sprintf("candles.%s.%s.%s", bar.Venue, bar.Symbol, bar.Timeframe))

	data, err := np.serializer.Marshal(bar)
	if err != nil {
		np.logger.Error("%s : failed to serialize bar for NATS subject %s: %v", np.name, subject, err)
		return
	}

	if err := np.publish(subject, data); err != nil {
		np.logger.Error("%s : failed to publish bar for %s to NATS subject %s: %v", np.name, bar.Key(), subject, err)
	}
}

// -----------------------------------------------------------------------------

// Connect establishes connection to the NATS server.
func (np *NATSPublisher) Connect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc != nil && np.nc.IsConnected() {
		return nil
	}

	opts := []nats.Option{
		nats.Name(np.config.ClientID),
		nats.Timeout(np.config.ConnectTimeout),
		nats.ReconnectWait(np.config.ReconnectWait),
		nats.MaxReconnects(np.config.MaxReconnects),

		// Connection Event Handlers
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(nc *nats.Conn) {
			np.logger.Error("%s : NATS connection closed unexpectedly", np.name)
			np.setConnected(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			np.logger.Warning("%s : NATS disconnected, attempting reconnect: %v", np.name, err)
			np.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			np.logger.Info("%s : NATS successfully reconnected to %s", np.name, nc.ConnectedUrl())
			np.setConnected(true)
		}),
	}

	var err error
	np.nc, err = nats.Connect(np.config.Servers[0], opts...)
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	np.connected = true
	np.logger.Info("%s : successfully connected to NATS at %s", np.name, np.nc.ConnectedUrl())
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect closes the NATS connection
func (np *NATSPublisher) Disconnect() error {
	np.mu.Lock()
	defer np.mu.Unlock()

	if np.nc == nil || np.nc.IsClosed() {
		return nil
	}

	np.nc.Close()
	np.connected = false
	np.logger.Info("%s : NATS connection closed successfully", np.name)
	return nil
}

// -----------------------------------------------------------------------------

// IsConnected returns connection status
func (np *NATSPublisher) IsConnected() bool {
	np.mu.RLock()
	defer np.mu.RUnlock()
	return np.connected
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// publish sends raw data to a NATS core subject.
func (np *NATSPublisher) publish(subject string, data []byte) error {
	if !np.IsConnected() {
		return fmt.Errorf("nats client not connected")
	}
	return np.nc.Publish(subject, data)
}

// -----------------------------------------------------------------------------

// setConnected updates the connection status safely.
// Called from NATS connection event handlers (different goroutines).
func (np *NATSPublisher) setConnected(status bool) {
	np.mu.Lock()
	np.connected = status
	np.mu.Unlock()
}

// -----------------------------------------------------------------------------

// getSubject prepends the configured subject prefix if it exists.
func (np *NATSPublisher) getSubject(subject string) string {
	if np.config.SubjectPrefix != "" {
		return fmt.Sprintf("%s.%s", np.config.SubjectPrefix, subject)
	}
	return subject
}
