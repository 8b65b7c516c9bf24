package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candle-hub/src/hub"
	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"
)

// -----------------------------------------------------------------------------
// Recorder - persists configured feeds through the hub
// -----------------------------------------------------------------------------

// Recorder subscribes to a configured list of feeds and writes their bars to
// the store in batches. It is an ordinary hub consumer: its subscriptions
// keep the upstream connections alive even when no remote client is attached,
// and a slow database costs the recorder freshness, never the hub.
type Recorder struct {
	Name   string
	Config *models.MRecorderConfig
	Logger *logger.Logger
	Hub    *hub.FanOutHub
	Store  interfaces.IBarStore

	mu      sync.Mutex
	pending []models.MBar

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewRecorder creates a new Recorder instance
func NewRecorder(cfg *models.MRecorderConfig, h *hub.FanOutHub, store interfaces.IBarStore, log *logger.Logger) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())

	return &Recorder{
		Name:   "BarRecorder",
		Config: cfg,
		Logger: log,
		Hub:    h,
		Store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

// -----------------------------------------------------------------------------

// Start subscribes to every configured feed and launches the flush loop
func (r *Recorder) Start() error {
	if len(r.Config.Feeds) == 0 {
		return fmt.Errorf("%s : no feeds configured", r.Name)
	}

	for _, key := range r.Config.Feeds {
		sub, cancelSub, err := r.Hub.Subscribe(key)
		if err != nil {
			return fmt.Errorf("%s : failed to subscribe to %s: %w", r.Name, key, err)
		}

		r.wg.Add(1)
		go r.consume(sub, cancelSub)
	}

	r.wg.Add(1)
	go r.flushLoop()

	r.Logger.Info("%s : recording %d feeds", r.Name, len(r.Config.Feeds))
	return nil
}

// -----------------------------------------------------------------------------

// Stop unsubscribes everything and flushes the remaining batch
func (r *Recorder) Stop() error {
	r.cancel()
	r.wg.Wait()
	r.flush()
	r.Logger.Info("%s : stopped", r.Name)
	return nil
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// consume pulls events for one feed until the recorder stops. Heartbeats are
// expected during quiet periods and skipped.
func (r *Recorder) consume(sub *hub.Subscription, cancelSub func()) {
	defer r.wg.Done()
	defer cancelSub()

	for {
		ev, err := sub.Next(r.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, hub.ErrSubscriptionClosed) {
				r.Logger.Error("%s : subscription for %s failed: %v", r.Name, sub.Key(), err)
			}
			return
		}

		if ev.Type != models.EventTypeCandle {
			continue
		}

		r.mu.Lock()
		r.pending = append(r.pending, *ev.Bar)
		full := len(r.pending) >= r.Config.BatchSize
		r.mu.Unlock()

		if full {
			r.flush()
		}
	}
}

// -----------------------------------------------------------------------------

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Duration(r.Config.FlushInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

// -----------------------------------------------------------------------------

// flush writes the pending batch. On failure the batch is dropped and logged;
// the next bars for the same buckets supersede it.
func (r *Recorder) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := r.Store.SaveBarsBulk(batch); err != nil {
		r.Logger.Error("%s : failed to persist %d bars: %v", r.Name, len(batch), err)
		return
	}

	r.Logger.Debug("%s : persisted %d bars", r.Name, len(batch))
}
