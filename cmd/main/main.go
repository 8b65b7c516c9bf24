package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"candle-hub/src/config"
	"candle-hub/src/feed"
	"candle-hub/src/grpc_control"
	"candle-hub/src/hub"
	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/publishers"
	"candle-hub/src/recorder"
	"candle-hub/src/serializers"
	"candle-hub/src/server"
	"candle-hub/src/storage"
	"candle-hub/src/venues"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(config.LogLevel, config.Name)

	// 2. Venue Adapters
	adapters := make(map[string]interfaces.IVenueAdapter)
	for i := range config.Venues {
		venueConfig := &config.Venues[i]
		constructor, err := venues.GetConstructor(venueConfig.Name)
		if err != nil {
			appLogger.Critical("Unknown venue %q: %v", venueConfig.Name, err)
		}
		adapter, err := constructor(venueConfig, appLogger)
		if err != nil {
			appLogger.Critical("Failed to create venue adapter %q: %v", venueConfig.Name, err)
		}
		if err := adapter.ValidateConfiguration(); err != nil {
			appLogger.Critical("Invalid configuration for venue %q: %v", venueConfig.Name, err)
		}
		adapters[adapter.GetName()] = adapter
	}

	// 3. NATS Publisher (optional hub tap)
	var taps []interfaces.BarSink
	var publisher interfaces.IPublisher
	if config.NATS.Enabled {
		serializer := serializers.NewJSONSerializer()
		publisher = publishers.NewNATSPublisher(&config.NATS, appLogger, serializer)
		if err := publisher.Connect(); err != nil {
			appLogger.Critical("Failed to connect NATS publisher: %v", err)
		}
		defer publisher.Disconnect()
		taps = append(taps, publisher.OnBar)
	}

	// 4. Hub
	factory := feed.NewConnectionFactory(config.MConfig, adapters, appLogger)
	feedHub := hub.NewHub(&config.Hub, factory, appLogger, taps...)
	defer feedHub.Close()

	// 5. Recorder (optional)
	if config.Recorder.Enabled {
		var store interfaces.IBarStore
		switch config.Storage.DBType {
		case "postgres":
			store, err = storage.NewPostgresBarStore(config.MConfig, appLogger)
		default:
			// Default to SQLite
			store, err = storage.NewSQLiteBarStore(config.MConfig, appLogger)
		}
		if err != nil {
			appLogger.Critical("Failed to init bar store: %v", err)
		}
		if err := store.Initialize(); err != nil {
			appLogger.Critical("Failed to migrate bar store: %v", err)
		}
		defer store.Close()

		barRecorder := recorder.NewRecorder(&config.Recorder, feedHub, store, appLogger)
		if err := barRecorder.Start(); err != nil {
			appLogger.Critical("Failed to start recorder: %v", err)
		}
		defer barRecorder.Stop()
	}

	// 6. gRPC Control Service
	controlService, err := grpc_control.NewGRPCService(config, appLogger, feedHub)
	if err != nil {
		appLogger.Critical("Failed to create control service: %v", err)
	}
	defer controlService.Stop()

	go func() {
		appLogger.Info("starting gRPC control service on %s:%d", config.GrpcHost, config.GrpcPort)
		if err := controlService.Start(); err != nil {
			appLogger.Error("control server error: %v", err)
		}
	}()

	// 7. Stream Server
	streamServer := server.NewStreamServer(config.MConfig, feedHub, appLogger)
	go func() {
		appLogger.Info("starting stream server on %s:%d", config.Host, config.Port)
		if err := streamServer.Start(); err != nil {
			appLogger.Error("stream server error: %v", err)
		}
	}()
	defer streamServer.Stop()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("Shutting down...")
}
