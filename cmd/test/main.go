package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"candle-hub/src/config"
	"candle-hub/src/feed"
	"candle-hub/src/hub"
	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"
	"candle-hub/src/venues"
)

// -----------------------------------------------------------------------------
// Manual end-to-end harness: subscribes to a couple of live feeds through the
// hub and prints what comes out. Not part of the automated test suite.
// -----------------------------------------------------------------------------

func main() {

	configPath := flag.String("config", "../../config/default.yaml", "path to config file")
	duration := flag.Duration("duration", 2*time.Minute, "how long to run before exiting")
	flag.Parse()

	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.NewLogger("DEBUG", "hub-harness")

	// Venue adapters
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

	factory := feed.NewConnectionFactory(config.MConfig, adapters, appLogger)
	feedHub := hub.NewHub(&config.Hub, factory, appLogger)
	defer feedHub.Close()

	venue := config.Venues[0].Name
	keys := []models.MFeedKey{
		{Venue: venue, Symbol: "btcusdt", Timeframe: "1m"},
		{Venue: venue, Symbol: "ethusdt", Timeframe: "1m"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	for _, key := range keys {
		sub, cancelSub, err := feedHub.Subscribe(key)
		if err != nil {
			appLogger.Critical("Subscribe %s failed: %v", key, err)
		}
		defer cancelSub()

		go func(key models.MFeedKey, sub *hub.Subscription) {
			for {
				event, err := sub.Next(ctx)
				if err != nil {
					appLogger.Info("%s : consumer stopped: %v", key, err)
					return
				}
				switch event.Type {
				case models.EventTypeHeartbeat:
					appLogger.Debug("%s : heartbeat at %d", key, event.TimestampMillis)
				case models.EventTypeCandle:
					bar := event.Bar
					appLogger.Info("%s : O=%s H=%s L=%s C=%s V=%s final=%v",
						key, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.Final)
				}
			}
		}(key, sub)
	}

	// Dump feed statuses every 15s until the deadline
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			appLogger.Info("Harness done")
			return
		case <-ticker.C:
			for name, status := range feedHub.Status() {
				appLogger.Info("status %s : state=%s subscribers=%d attempt=%d",
					name, status.ConnectionState, status.SubscriberCount, status.ReconnectAttempt)
			}
		}
	}
}
