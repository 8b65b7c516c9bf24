package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"candle-hub/src/helpers"
	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"
	"candle-hub/src/utils"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// -----------------------------------------------------------------------------
// Connection - one live upstream websocket per feed key
// -----------------------------------------------------------------------------

// Connection implements interfaces.IFeedConnection. It owns exactly one
// logical websocket to the venue, translates venue messages into bars via the
// adapter, and delivers them to the sink handed over at construction time.
// Transport failures are retried forever with capped, jittered backoff; they
// never reach the sink.
type Connection struct {
	key     models.MFeedKey
	adapter interfaces.IVenueAdapter
	config  *models.MFeedConfig
	logger  *logger.Logger
	sink    interfaces.BarSink

	mu        sync.RWMutex
	state     models.MFeedState
	conn      *websocket.Conn
	attempt   int
	lastError string
	started   bool

	backoff *backoff.Backoff
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// -----------------------------------------------------------------------------

// NewConnection creates a connection in the IDLE state. Nothing is dialed
// until Start is called.
func NewConnection(key models.MFeedKey, adapter interfaces.IVenueAdapter, cfg *models.MFeedConfig, log *logger.Logger, sink interfaces.BarSink) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		key:     key,
		adapter: adapter,
		config:  cfg,
		logger:  log,
		sink:    sink,
		state:   models.FeedStateIdle,
		backoff: &backoff.Backoff{
			Min:    time.Duration(cfg.BackoffFloorMS) * time.Millisecond,
			Max:    time.Duration(cfg.BackoffCeilingMS) * time.Millisecond,
			Factor: cfg.BackoffFactor,
			Jitter: cfg.BackoffJitter,
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Key returns the feed key this connection serves
func (c *Connection) Key() models.MFeedKey {
	return c.key
}

// -----------------------------------------------------------------------------

// Start launches the connect/read loop. It returns immediately; the handshake
// continues asynchronously.
func (c *Connection) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("connection for %s already started", c.key)
	}
	if c.state == models.FeedStateStopped {
		c.mu.Unlock()
		return fmt.Errorf("connection for %s already stopped", c.key)
	}
	c.started = true
	c.mu.Unlock()

	c.logger.Info("%s : starting upstream connection to %s", c.key, utils.MaskAPIKey(c.adapter.GetEndPoint()))
	go c.run()
	return nil
}

// -----------------------------------------------------------------------------

// Stop tears the connection down from any state, cancelling any in-flight
// connect or retry wait. Safe to call more than once and before Start.
func (c *Connection) Stop() {
	c.cancel()

	c.mu.Lock()
	alreadyStopped := c.state == models.FeedStateStopped
	c.state = models.FeedStateStopped
	conn := c.conn
	c.conn = nil
	started := c.started
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if !alreadyStopped {
		c.logger.Info("%s : upstream connection stopped", c.key)
	}

	// If the run loop never started there is nothing to wait for
	if !started && !alreadyStopped {
		close(c.done)
	}
}

// -----------------------------------------------------------------------------

// State returns the current lifecycle state
func (c *Connection) State() models.MFeedState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// -----------------------------------------------------------------------------

// Status returns a point-in-time snapshot for monitoring
func (c *Connection) Status() models.MFeedStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.MFeedStatus{
		Key:              c.key,
		ConnectionState:  c.state,
		ReconnectAttempt: c.attempt,
		LastError:        c.lastError,
	}
}

// -----------------------------------------------------------------------------

// Done is closed once the run loop has fully exited. Exposed for tests and
// for callers that want to observe teardown completion; Stop itself does not
// block on it.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// run is the connect/read loop: Connecting -> Live, any failure -> Backoff,
// context cancellation -> Stopped.
func (c *Connection) run() {
	defer close(c.done)

	for {
		if c.ctx.Err() != nil {
			c.setState(models.FeedStateStopped)
			return
		}

		c.setState(models.FeedStateConnecting)

		conn, err := c.dial()
		if err != nil {
			c.recordFailure(helpers.NewFeedError("connect failed", err))
			if !c.waitBackoff() {
				return
			}
			continue
		}

		if err := c.subscribe(conn); err != nil {
			_ = conn.Close()
			c.recordFailure(helpers.NewFeedError("subscribe failed", err))
			if !c.waitBackoff() {
				return
			}
			continue
		}

		c.setState(models.FeedStateLive)
		c.logger.Info("%s : upstream feed live (attempt %d)", c.key, c.currentAttempt())

		liveSince := time.Now()
		readErr := c.readLoop(conn)
		_ = conn.Close()

		if c.ctx.Err() != nil {
			c.setState(models.FeedStateStopped)
			return
		}

		// A sustained Live period means the earlier failures were a blip;
		// restart the backoff schedule from its floor.
		if time.Since(liveSince) >= time.Duration(c.config.BackoffResetSeconds)*time.Second {
			c.resetBackoff()
		}

		c.recordFailure(readErr)
		if !c.waitBackoff() {
			return
		}
	}
}

// -----------------------------------------------------------------------------

// dial opens the websocket and registers it so Stop can close it.
func (c *Connection) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: time.Duration(c.config.HandshakeTimeoutSec) * time.Second,
	}

	conn, _, err := dialer.DialContext(c.ctx, c.adapter.GetEndPoint(), nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.state == models.FeedStateStopped {
		// Stop raced the dial; discard the socket
		c.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("connection stopped during dial")
	}
	c.conn = conn
	c.mu.Unlock()

	return conn, nil
}

// -----------------------------------------------------------------------------

// subscribe sends the venue subscription frame for this connection's key
func (c *Connection) subscribe(conn *websocket.Conn) error {
	frame, err := c.adapter.AddSubscription(c.key)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// -----------------------------------------------------------------------------

// readLoop pumps messages until the transport fails. Malformed messages are
// dropped and logged; they do not count as connection failures.
func (c *Connection) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message error: %w", err)
		}

		bar, err := c.adapter.ParseMessage(message)
		if err != nil {
			c.logger.Warning("%s : dropping unparseable message: %v", c.key, err)
			continue
		}
		if bar == nil {
			// ack / pong / unrelated event
			continue
		}

		c.sink(bar)
	}
}

// -----------------------------------------------------------------------------

// waitBackoff sleeps the next backoff delay. Returns false when the
// connection was stopped while waiting.
func (c *Connection) waitBackoff() bool {
	c.setState(models.FeedStateBackoff)

	delay := c.backoff.Duration()

	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	c.logger.Warning("%s : reconnecting in %s (attempt %d)", c.key, delay.Round(time.Millisecond), attempt)

	select {
	case <-c.ctx.Done():
		c.setState(models.FeedStateStopped)
		return false
	case <-time.After(delay):
		return true
	}
}

// -----------------------------------------------------------------------------

func (c *Connection) resetBackoff() {
	c.backoff.Reset()
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (c *Connection) currentAttempt() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

// -----------------------------------------------------------------------------

func (c *Connection) recordFailure(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.lastError = err.Error()
	c.conn = nil
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// setState transitions the lifecycle state. STOPPED is terminal: once Stop
// has run, the run loop cannot flip the connection back to another state.
func (c *Connection) setState(state models.MFeedState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.FeedStateStopped && state != models.FeedStateStopped {
		return
	}
	c.state = state
}
