package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"candle-hub/src/hub"
	"candle-hub/src/logger"
	"candle-hub/src/models"
	"candle-hub/src/utils"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// StreamServer
// -----------------------------------------------------------------------------

// StreamServer exposes hub subscriptions to remote clients over websocket and
// SSE, plus read-only REST endpoints for monitoring. It is a plain hub
// consumer: every remote client maps to ordinary Subscribe/Unsubscribe calls.
type StreamServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	Hub    *hub.FanOutHub
	engine *gin.Engine

	httpServer *http.Server
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewStreamServer(cfg *models.MConfig, h *hub.FanOutHub, log *logger.Logger) *StreamServer {
	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &StreamServer{
		Config: cfg,
		Logger: log,
		Hub:    h,
		engine: gin.Default(),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *StreamServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/status", s.getStatus)
	s.engine.GET("/api/config", s.getConfig)

	// Streaming endpoints
	s.engine.GET("/ws", s.handleWebSocket)
	s.engine.GET("/api/stream", s.handleSSE)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

func (s *StreamServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting stream server on %s", addr)

	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *StreamServer) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(context.Background())
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *StreamServer) getHealth(c *gin.Context) {
	statuses := s.Hub.Status()

	c.JSON(200, gin.H{
		"status":       "ok",
		"active_feeds": len(statuses),
	})
}

// -----------------------------------------------------------------------------

// getStatus returns subscriber count and connection state per active key
func (s *StreamServer) getStatus(c *gin.Context) {
	c.JSON(200, s.Hub.Status())
}

// -----------------------------------------------------------------------------

func (s *StreamServer) getConfig(c *gin.Context) {
	venues := make([]string, 0, len(s.Config.Venues))
	for _, v := range s.Config.Venues {
		venues = append(venues, v.Name)
	}

	c.JSON(200, gin.H{
		"venues":            venues,
		"channel_capacity":  s.Config.Hub.ChannelCapacity,
		"heartbeat_seconds": s.Config.Hub.HeartbeatSeconds,
	})
}

// -----------------------------------------------------------------------------
// SSE Streaming
// -----------------------------------------------------------------------------

// handleSSE relays one feed over Server-Sent Events. Wire framing is the same
// tagged-record contract as the websocket endpoint.
func (s *StreamServer) handleSSE(c *gin.Context) {
	key, err := s.feedKeyFromQuery(c)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}

	sub, cancel, err := s.Hub.Subscribe(key)
	if err != nil {
		c.JSON(503, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		ev, err := sub.Next(ctx)
		if err != nil {
			return false
		}

		switch ev.Type {
		case models.EventTypeCandle:
			c.SSEvent("message", models.NewCandleFrame(ev.Bar))
		case models.EventTypeHeartbeat:
			c.SSEvent("message", models.NewHeartbeatFrame(&ev))
		}
		return true
	})
}

// -----------------------------------------------------------------------------
// Helper Methods
// -----------------------------------------------------------------------------

// feedKeyFromQuery builds a feed key from query parameters. The venue falls
// back to the first configured one so single-venue deployments can omit it.
func (s *StreamServer) feedKeyFromQuery(c *gin.Context) (models.MFeedKey, error) {
	return s.buildFeedKey(c.Query("venue"), c.Query("symbol"), c.Query("timeframe"))
}

// -----------------------------------------------------------------------------

// buildFeedKey normalizes the raw fields so every client path resolves the
// same key: symbols uppercase, timeframes lowercase, whitespace stripped.
func (s *StreamServer) buildFeedKey(venue, symbol, timeframe string) (models.MFeedKey, error) {
	venue = strings.TrimSpace(venue)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	timeframe = utils.NormalizeTimeframe(timeframe)

	if symbol == "" || timeframe == "" {
		return models.MFeedKey{}, fmt.Errorf("symbol and timeframe are required")
	}
	if venue == "" {
		if len(s.Config.Venues) == 0 {
			return models.MFeedKey{}, fmt.Errorf("no venues configured")
		}
		venue = s.Config.Venues[0].Name
	}

	return models.MFeedKey{Venue: venue, Symbol: symbol, Timeframe: timeframe}, nil
}
