package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"candle-hub/src/hub"
	"candle-hub/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// Buffered channel so relays never block on a slow socket for long
	clientSendBuffer = 256
)

// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one remote websocket consumer. Each feed it subscribes to maps to
// one hub subscription relayed by its own goroutine; closing the socket
// cancels every subscription exactly once.
type Client struct {
	server *StreamServer
	conn   *websocket.Conn
	send   chan interface{}

	mu   sync.Mutex
	subs map[models.MFeedKey]*clientFeed

	ctx      context.Context
	cancel   context.CancelFunc
	teardown sync.Once
}

// -----------------------------------------------------------------------------

// clientFeed ties one hub subscription to its relay lifecycle
type clientFeed struct {
	sub       *hub.Subscription
	cancelSub func()
	stopRelay context.CancelFunc
}

// -----------------------------------------------------------------------------
// WebSocket Handler
// -----------------------------------------------------------------------------

func (s *StreamServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan interface{}, clientSendBuffer),
		subs:   make(map[models.MFeedKey]*clientFeed),
		ctx:    ctx,
		cancel: cancel,
	}

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// readPump - handles incoming subscribe/unsubscribe commands
// Acts as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.server.Logger.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		c.handleCommand(message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends frames to the client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.server.Logger.Debug("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Command Handling
// -----------------------------------------------------------------------------

func (c *Client) handleCommand(message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.server.Logger.Info("Failed to parse client command: %v", err)
		return
	}

	key, err := c.server.buildFeedKey(cmd.Venue, cmd.Symbol, cmd.Timeframe)
	if err != nil {
		c.server.Logger.Debug("Rejecting client command: %v", err)
		return
	}

	switch cmd.Command {
	case "subscribe":
		c.subscribe(key)
	case "unsubscribe":
		c.unsubscribe(key)
	default:
		c.server.Logger.Debug("Unknown client command: %s", cmd.Command)
	}
}

// -----------------------------------------------------------------------------

func (c *Client) subscribe(key models.MFeedKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Idempotency: ignore if already subscribed
	if _, exists := c.subs[key]; exists {
		return
	}

	sub, cancelSub, err := c.server.Hub.Subscribe(key)
	if err != nil {
		c.server.Logger.Error("Client subscribe to %s failed: %v", key, err)
		return
	}

	relayCtx, stopRelay := context.WithCancel(c.ctx)
	feed := &clientFeed{sub: sub, cancelSub: cancelSub, stopRelay: stopRelay}
	c.subs[key] = feed

	go c.relay(relayCtx, feed)
}

// -----------------------------------------------------------------------------

func (c *Client) unsubscribe(key models.MFeedKey) {
	c.mu.Lock()
	feed, exists := c.subs[key]
	if exists {
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if !exists {
		// Unsubscribe of an unknown feed is a no-op
		return
	}

	feed.stopRelay()
	feed.cancelSub()
}

// -----------------------------------------------------------------------------

// relay forwards subscription events into the client's send buffer using the
// tagged wire framing. A full buffer drops the frame for this client only.
func (c *Client) relay(ctx context.Context, feed *clientFeed) {
	for {
		ev, err := feed.sub.Next(ctx)
		if err != nil {
			return
		}

		var frame interface{}
		switch ev.Type {
		case models.EventTypeCandle:
			frame = models.NewCandleFrame(ev.Bar)
		case models.EventTypeHeartbeat:
			frame = models.NewHeartbeatFrame(&ev)
		default:
			continue
		}

		select {
		case c.send <- frame:
		default:
			// Client too slow; the next bar supersedes this one
		}
	}
}

// -----------------------------------------------------------------------------

// close cancels every subscription exactly once and closes the socket
func (c *Client) close() {
	c.teardown.Do(func() {
		c.cancel()

		c.mu.Lock()
		feeds := make([]*clientFeed, 0, len(c.subs))
		for _, feed := range c.subs {
			feeds = append(feeds, feed)
		}
		c.subs = make(map[models.MFeedKey]*clientFeed)
		c.mu.Unlock()

		for _, feed := range feeds {
			feed.stopRelay()
			feed.cancelSub()
		}

		c.conn.Close()
	})
}
