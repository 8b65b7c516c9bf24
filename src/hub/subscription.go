package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"candle-hub/src/models"
)

// -----------------------------------------------------------------------------

// ErrSubscriptionClosed is returned by Next once the subscription was
// cancelled, unsubscribed, or torn down by the hub.
var ErrSubscriptionClosed = errors.New("subscription closed")

// -----------------------------------------------------------------------------
// Subscription - one bounded per-consumer delivery queue
// -----------------------------------------------------------------------------

// Subscription is the unit a consumer reads from. Events are buffered up to a
// fixed capacity; when the buffer is full the overflow policy decides whether
// the incoming event is dropped (drop_newest, the default) or the oldest
// buffered event is evicted to make room (drop_oldest). Neither variant ever
// blocks the hub or the upstream reader.
type Subscription struct {
	key        models.MFeedKey
	events     chan models.MEvent
	done       chan struct{}
	closeOnce  sync.Once
	createdAt  time.Time
	idleWindow time.Duration
	dropOldest bool
	dropped    atomic.Uint64
}

// -----------------------------------------------------------------------------

func newSubscription(key models.MFeedKey, capacity int, idleWindow time.Duration, dropOldest bool) *Subscription {
	return &Subscription{
		key:        key,
		events:     make(chan models.MEvent, capacity),
		done:       make(chan struct{}),
		createdAt:  time.Now(),
		idleWindow: idleWindow,
		dropOldest: dropOldest,
	}
}

// -----------------------------------------------------------------------------

// Key returns the feed key this subscription belongs to
func (s *Subscription) Key() models.MFeedKey {
	return s.key
}

// -----------------------------------------------------------------------------

// CreatedAt returns the subscription creation time
func (s *Subscription) CreatedAt() time.Time {
	return s.createdAt
}

// -----------------------------------------------------------------------------

// Dropped returns how many events were discarded because the buffer was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// -----------------------------------------------------------------------------

// Next pulls the next event. It yields a bar, or a synthetic heartbeat when
// no bar arrived within the idle window, so callers always observe a bounded
// wait. It returns ErrSubscriptionClosed after cancellation and ctx.Err()
// when the caller's context ends first.
func (s *Subscription) Next(ctx context.Context) (models.MEvent, error) {
	timer := time.NewTimer(s.idleWindow)
	defer timer.Stop()

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		// Deliver anything already buffered before reporting closure
		select {
		case ev := <-s.events:
			return ev, nil
		default:
		}
		return models.MEvent{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return models.MEvent{}, ctx.Err()
	case <-timer.C:
		return models.MEvent{
			Type:            models.EventTypeHeartbeat,
			TimestampMillis: time.Now().UnixMilli(),
		}, nil
	}
}

// -----------------------------------------------------------------------------
// PRIVATE METHODS
// -----------------------------------------------------------------------------

// offer enqueues an event without ever blocking. A delivery racing teardown
// either lands in the about-to-be-discarded buffer, harmlessly, or is skipped.
func (s *Subscription) offer(ev models.MEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.events <- ev:
		return true
	default:
	}

	if s.dropOldest {
		// Evict one buffered event and retry once
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
			return true
		default:
		}
	}

	s.dropped.Add(1)
	return false
}

// -----------------------------------------------------------------------------

// close marks the subscription dead. Idempotent; the events channel is never
// closed so late offers cannot panic.
func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
