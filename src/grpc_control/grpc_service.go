package grpc_control

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"candle-hub/src/config"
	"candle-hub/src/hub"
	"candle-hub/src/logger"
	"candle-hub/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// serviceName is the overall health-check identity of this process
const serviceName = "candlehub.FanOutHub"

// How often per-feed serving statuses are refreshed from the hub
const refreshInterval = 5 * time.Second

// -----------------------------------------------------------------------------
// GRPCService handles gRPC server lifecycle
// -----------------------------------------------------------------------------

// GRPCService exposes the standard gRPC health service for operational
// tooling. The overall service status reflects process liveness; each active
// feed key is registered as its own health target whose status mirrors the
// upstream connection state (LIVE -> SERVING, anything else -> NOT_SERVING).
type GRPCService struct {
	server   *grpc.Server
	listener net.Listener
	config   *config.Config
	logger   *logger.Logger
	hub      *hub.FanOutHub
	health   *health.Server

	// feeds seen in the previous refresh, to clear statuses of torn-down keys
	known map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewGRPCService creates a new GRPCService instance
func NewGRPCService(cfg *config.Config, log *logger.Logger, h *hub.FanOutHub) (*GRPCService, error) {
	// Create listener
	address := fmt.Sprintf("%s:%d", cfg.GrpcHost, cfg.GrpcPort)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &GRPCService{
		server:   grpc.NewServer(),
		listener: listener,
		config:   cfg,
		logger:   log,
		hub:      h,
		health:   health.NewServer(),
		known:    make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// -----------------------------------------------------------------------------

// Start starts the gRPC server and the status refresh loop
func (g *GRPCService) Start() error {
	g.logger.Info("Starting gRPC service on %s", g.listener.Addr().String())

	grpc_health_v1.RegisterHealthServer(g.server, g.health)
	g.health.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(g.listener); err != nil {
			g.logger.Error("gRPC server stopped: %v", err)
		}
	}()

	g.wg.Add(1)
	go g.refreshLoop()

	return nil
}

// -----------------------------------------------------------------------------

// Stop shuts the gRPC server down gracefully
func (g *GRPCService) Stop() error {
	g.cancel()
	g.health.Shutdown()
	g.server.GracefulStop()
	g.wg.Wait()
	g.logger.Info("gRPC service stopped")
	return nil
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// refreshLoop mirrors hub feed states into per-feed health statuses
func (g *GRPCService) refreshLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.refresh()
		}
	}
}

// -----------------------------------------------------------------------------

func (g *GRPCService) refresh() {
	statuses := g.hub.Status()

	current := make(map[string]bool, len(statuses))
	for name, status := range statuses {
		current[name] = true

		serving := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if status.ConnectionState == models.FeedStateLive {
			serving = grpc_health_v1.HealthCheckResponse_SERVING
		}
		g.health.SetServingStatus(name, serving)
	}

	// Feeds that disappeared since the last refresh are no longer served
	for name := range g.known {
		if !current[name] {
			g.health.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	g.known = current
}
