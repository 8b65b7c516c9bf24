package hub

import (
	"errors"
	"fmt"
	"time"

	"candle-hub/src/config"
	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"

	"sync"
)

// -----------------------------------------------------------------------------

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("hub closed")

// -----------------------------------------------------------------------------
// FanOutHub
// -----------------------------------------------------------------------------

// FanOutHub maps feed keys to one upstream connection and a set of
// subscribers. The first Subscribe for a key creates and starts the upstream
// connection; the last Unsubscribe stops and discards it together with the
// cached latest bar. Every bar an upstream reader delivers is copied into
// every live subscription for its key without letting a slow subscriber stall
// the others or the reader.
//
// Locking: the hub mutex only guards the key map and is never held while
// delivering events. Each entry carries its own mutex, so operations on
// different keys never contend.
type FanOutHub struct {
	Config  *models.MHubConfig
	Logger  *logger.Logger
	factory interfaces.IFeedConnectionFactory

	// taps observe every broadcast bar across all keys (message bus
	// republishing, metrics). Fixed at construction; must not block.
	taps []interfaces.BarSink

	mu      sync.RWMutex
	entries map[models.MFeedKey]*feedEntry
	closed  bool
}

// -----------------------------------------------------------------------------

// feedEntry is the per-key state: the connection, the subscriber set and the
// latest broadcast bar. A connection delivers bars to the entry it was
// created for; once the entry is closed, stale deliveries from a stopping
// connection are discarded, so a re-subscribe can never observe a zombie.
type feedEntry struct {
	key models.MFeedKey

	mu     sync.Mutex
	conn   interfaces.IFeedConnection
	subs   map[*Subscription]struct{}
	latest *models.MBar
	closed bool
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewHub creates a hub with an injected connection factory so tests can
// construct isolated instances with fake upstreams.
func NewHub(cfg *models.MHubConfig, factory interfaces.IFeedConnectionFactory, log *logger.Logger, taps ...interfaces.BarSink) *FanOutHub {
	return &FanOutHub{
		Config:  cfg,
		Logger:  log,
		factory: factory,
		taps:    taps,
		entries: make(map[models.MFeedKey]*feedEntry),
	}
}

// -----------------------------------------------------------------------------
// Public Contract
// -----------------------------------------------------------------------------

// Subscribe registers a new subscription for key. The first subscriber for a
// key creates and starts the upstream connection; concurrent first
// subscribers create exactly one. When a latest bar is cached for the key it
// is enqueued into the new subscription before Subscribe returns. The
// returned cancel func is idempotent.
func (h *FanOutHub) Subscribe(key models.MFeedKey) (*Subscription, func(), error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, nil, ErrHubClosed
		}
		entry := h.entries[key]
		if entry == nil {
			entry = &feedEntry{
				key:  key,
				subs: make(map[*Subscription]struct{}),
			}
			h.entries[key] = entry
		}
		h.mu.Unlock()

		entry.mu.Lock()
		if entry.closed {
			// Last-unsubscriber teardown is in flight for this entry;
			// retry against a fresh one.
			entry.mu.Unlock()
			continue
		}

		sub := newSubscription(
			key,
			h.Config.ChannelCapacity,
			time.Duration(h.Config.HeartbeatSeconds)*time.Second,
			h.Config.OverflowPolicy == config.OverflowDropOldest,
		)
		entry.subs[sub] = struct{}{}

		if entry.conn == nil {
			conn, err := h.factory(key, func(bar *models.MBar) {
				h.onBarReceived(entry, bar)
			})
			if err == nil {
				entry.conn = conn
				err = conn.Start()
			}
			if err != nil {
				delete(entry.subs, sub)
				sub.close()
				entry.closed = true
				entry.conn = nil
				entry.mu.Unlock()
				h.removeEntry(key, entry)
				return nil, nil, fmt.Errorf("failed to open upstream feed for %s: %w", key, err)
			}
			h.Logger.Info("hub : opened upstream feed for %s", key)
		}

		// Replay the cached latest bar while still holding the entry lock so
		// a concurrent broadcast cannot slip an older bar behind a newer one.
		if entry.latest != nil {
			sub.offer(models.MEvent{Type: models.EventTypeCandle, Bar: entry.latest})
		}
		count := len(entry.subs)
		entry.mu.Unlock()

		h.Logger.Debug("hub : subscriber joined %s (now %d)", key, count)

		cancel := func() { h.Unsubscribe(key, sub) }
		return sub, cancel, nil
	}
}

// -----------------------------------------------------------------------------

// Unsubscribe removes the subscription from the key's subscriber set. The
// last unsubscribe for a key stops the upstream connection asynchronously and
// drops the cached latest bar. Calling it twice, or for a subscription the
// hub already removed, is a no-op.
func (h *FanOutHub) Unsubscribe(key models.MFeedKey, sub *Subscription) {
	h.mu.RLock()
	entry := h.entries[key]
	h.mu.RUnlock()
	if entry == nil {
		return
	}

	entry.mu.Lock()
	if _, ok := entry.subs[sub]; !ok {
		entry.mu.Unlock()
		return
	}
	delete(entry.subs, sub)
	sub.close()

	var conn interfaces.IFeedConnection
	tearDown := len(entry.subs) == 0
	if tearDown {
		entry.closed = true
		conn = entry.conn
		entry.conn = nil
		entry.latest = nil
	}
	count := len(entry.subs)
	entry.mu.Unlock()

	if !tearDown {
		h.Logger.Debug("hub : subscriber left %s (now %d)", key, count)
		return
	}

	h.removeEntry(key, entry)
	h.Logger.Info("hub : last subscriber left %s, closing upstream feed", key)
	if conn != nil {
		// Teardown may outlive this call; the entry is already closed so a
		// stale delivery cannot re-register as current.
		go conn.Stop()
	}
}

// -----------------------------------------------------------------------------

// Status returns, for every active key, the subscriber count and upstream
// connection state. Read-only; safe at any concurrency level.
func (h *FanOutHub) Status() map[string]models.MFeedStatus {
	h.mu.RLock()
	snapshot := make([]*feedEntry, 0, len(h.entries))
	for _, entry := range h.entries {
		snapshot = append(snapshot, entry)
	}
	h.mu.RUnlock()

	statuses := make(map[string]models.MFeedStatus, len(snapshot))
	for _, entry := range snapshot {
		entry.mu.Lock()
		closed := entry.closed
		count := len(entry.subs)
		conn := entry.conn
		entry.mu.Unlock()

		if closed {
			continue
		}

		status := models.MFeedStatus{
			Key:             entry.key,
			ConnectionState: models.FeedStateIdle,
		}
		if conn != nil {
			status = conn.Status()
		}
		status.SubscriberCount = count
		statuses[entry.key.String()] = status
	}
	return statuses
}

// -----------------------------------------------------------------------------

// Close tears down every entry and rejects further subscribes.
func (h *FanOutHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	entries := h.entries
	h.entries = make(map[models.MFeedKey]*feedEntry)
	h.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.closed = true
		conn := entry.conn
		entry.conn = nil
		entry.latest = nil
		subs := make([]*Subscription, 0, len(entry.subs))
		for sub := range entry.subs {
			subs = append(subs, sub)
		}
		entry.subs = make(map[*Subscription]struct{})
		entry.mu.Unlock()

		for _, sub := range subs {
			sub.close()
		}
		if conn != nil {
			conn.Stop()
		}
	}
	h.Logger.Info("hub : closed")
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// onBarReceived is invoked by an upstream connection's reader. It updates the
// latest-bar cache and copies the bar to a snapshot of the subscriber set, so
// Subscribe/Unsubscribe never race an in-flight broadcast. Per-subscriber
// enqueue is non-blocking; a full subscription just misses this bar.
func (h *FanOutHub) onBarReceived(entry *feedEntry, bar *models.MBar) {
	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		// Stale delivery from a connection whose entry was torn down
		h.Logger.Debug("hub : dropping bar for closed feed %s", entry.key)
		return
	}
	entry.latest = bar
	targets := make([]*Subscription, 0, len(entry.subs))
	for sub := range entry.subs {
		targets = append(targets, sub)
	}
	entry.mu.Unlock()

	ev := models.MEvent{Type: models.EventTypeCandle, Bar: bar}
	for _, sub := range targets {
		if !sub.offer(ev) {
			h.Logger.Debug("hub : slow subscriber on %s dropped bar openTime=%d", entry.key, bar.OpenTime)
		}
	}

	for _, tap := range h.taps {
		tap(bar)
	}
}

// -----------------------------------------------------------------------------

// removeEntry unmaps a closed entry, tolerating the map already holding a
// fresh entry for the same key.
func (h *FanOutHub) removeEntry(key models.MFeedKey, entry *feedEntry) {
	h.mu.Lock()
	if h.entries[key] == entry {
		delete(h.entries, key)
	}
	h.mu.Unlock()
}
