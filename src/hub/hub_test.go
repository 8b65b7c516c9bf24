package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"candle-hub/src/interfaces"
	"candle-hub/src/logger"
	"candle-hub/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

// fakeConnection stands in for an upstream feed. Tests push bars through the
// sink the hub handed to the factory.
type fakeConnection struct {
	key     models.MFeedKey
	sink    interfaces.BarSink
	started atomic.Int32
	stopped atomic.Int32
}

func (f *fakeConnection) Key() models.MFeedKey { return f.key }
func (f *fakeConnection) Start() error         { f.started.Add(1); return nil }
func (f *fakeConnection) Stop()                { f.stopped.Add(1) }
func (f *fakeConnection) State() models.MFeedState {
	return models.FeedStateLive
}
func (f *fakeConnection) Status() models.MFeedStatus {
	return models.MFeedStatus{Key: f.key, ConnectionState: models.FeedStateLive}
}

// fakeFactory records every connection it built, keyed in creation order.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConnection
}

func (f *fakeFactory) build(key models.MFeedKey, sink interfaces.BarSink) (interfaces.IFeedConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConnection{key: key, sink: sink}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeFactory) last() *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// -----------------------------------------------------------------------------

func testHubConfig() *models.MHubConfig {
	return &models.MHubConfig{
		ChannelCapacity:  100,
		HeartbeatSeconds: 30,
		OverflowPolicy:   "drop_newest",
	}
}

func newTestHub(taps ...interfaces.BarSink) (*FanOutHub, *fakeFactory) {
	factory := &fakeFactory{}
	log := logger.NewLogger("ERROR", "hub-test")
	h := NewHub(testHubConfig(), factory.build, log, taps...)
	return h, factory
}

func testKey(symbol string) models.MFeedKey {
	return models.MFeedKey{Venue: "binance", Symbol: symbol, Timeframe: "1m"}
}

func testBar(key models.MFeedKey, openTime int64, close float64) *models.MBar {
	c := decimal.NewFromFloat(close)
	return &models.MBar{
		Venue:     key.Venue,
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		OpenTime:  openTime,
		CloseTime: openTime + 60_000,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
	}
}

func mustNext(t *testing.T, sub *Subscription) models.MEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	return ev
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

func TestSubscribeCreatesSingleConnectionPerKey(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	_, cancel1, err := h.Subscribe(key)
	if err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}
	defer cancel1()
	_, cancel2, err := h.Subscribe(key)
	if err != nil {
		t.Fatalf("second subscribe failed: %v", err)
	}
	defer cancel2()

	if factory.count() != 1 {
		t.Errorf("expected 1 upstream connection, got %d", factory.count())
	}
	if factory.last().started.Load() != 1 {
		t.Errorf("expected connection started exactly once, got %d", factory.last().started.Load())
	}
}

func TestConcurrentFirstSubscribersShareOneConnection(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := h.Subscribe(key)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	if factory.count() != 1 {
		t.Errorf("expected 1 upstream connection for %d concurrent subscribers, got %d", n, factory.count())
	}
	status := h.Status()[key.String()]
	if status.SubscriberCount != n {
		t.Errorf("expected %d subscribers, got %d", n, status.SubscriberCount)
	}
}

func TestDistinctKeysGetDistinctConnections(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()

	_, cancel1, _ := h.Subscribe(testKey("btcusdt"))
	defer cancel1()
	_, cancel2, _ := h.Subscribe(testKey("ethusdt"))
	defer cancel2()
	_, cancel3, _ := h.Subscribe(models.MFeedKey{Venue: "binance", Symbol: "btcusdt", Timeframe: "5m"})
	defer cancel3()

	if factory.count() != 3 {
		t.Errorf("expected 3 upstream connections, got %d", factory.count())
	}
}

func TestLastUnsubscribeStopsConnection(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	_, cancel1, _ := h.Subscribe(key)
	_, cancel2, _ := h.Subscribe(key)

	cancel1()
	conn := factory.last()
	if conn.stopped.Load() != 0 {
		t.Fatalf("connection stopped while a subscriber remains")
	}

	cancel2()
	// Stop runs asynchronously from the last unsubscribe
	deadline := time.Now().Add(2 * time.Second)
	for conn.stopped.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.stopped.Load() == 0 {
		t.Errorf("connection not stopped after last unsubscribe")
	}
	if len(h.Status()) != 0 {
		t.Errorf("expected no active feeds, got %d", len(h.Status()))
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	_, cancel1, _ := h.Subscribe(key)
	_, cancel2, _ := h.Subscribe(key)

	cancel1()
	cancel1()
	cancel1()

	// The remaining subscriber must still be counted and served
	status := h.Status()[key.String()]
	if status.SubscriberCount != 1 {
		t.Errorf("expected 1 subscriber after repeated cancel, got %d", status.SubscriberCount)
	}
	if factory.last().stopped.Load() != 0 {
		t.Errorf("connection stopped while a subscriber remains")
	}
	cancel2()
}

func TestResubscribeAfterTeardownCreatesFreshConnection(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	_, cancel, _ := h.Subscribe(key)
	first := factory.last()
	first.sink(testBar(key, 1000, 50.0))
	cancel()

	sub, cancel2, err := h.Subscribe(key)
	if err != nil {
		t.Fatalf("re-subscribe failed: %v", err)
	}
	defer cancel2()

	if factory.count() != 2 {
		t.Fatalf("expected a fresh connection on re-subscribe, got %d total", factory.count())
	}

	// The old latest bar must not be replayed into the new epoch
	second := factory.last()
	second.sink(testBar(key, 2000, 60.0))
	ev := mustNext(t, sub)
	if ev.Bar == nil || ev.Bar.OpenTime != 2000 {
		t.Errorf("expected only the new epoch's bar, got %+v", ev)
	}

	// A stale delivery from the torn-down connection must be discarded
	first.sink(testBar(key, 1500, 55.0))
	select {
	case ev := <-sub.events:
		t.Errorf("stale delivery reached new subscriber: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// -----------------------------------------------------------------------------
// Broadcast
// -----------------------------------------------------------------------------

func TestBroadcastReachesAllSubscribersInOrder(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	subA, cancelA, _ := h.Subscribe(key)
	defer cancelA()
	subB, cancelB, _ := h.Subscribe(key)
	defer cancelB()

	conn := factory.last()
	for i := int64(1); i <= 5; i++ {
		conn.sink(testBar(key, i*60_000, float64(i)))
	}

	for _, sub := range []*Subscription{subA, subB} {
		for i := int64(1); i <= 5; i++ {
			ev := mustNext(t, sub)
			if ev.Type != models.EventTypeCandle {
				t.Fatalf("expected candle event, got %s", ev.Type)
			}
			if ev.Bar.OpenTime != i*60_000 {
				t.Errorf("out of order: expected openTime %d, got %d", i*60_000, ev.Bar.OpenTime)
			}
		}
	}
}

func TestLateJoinerReceivesLatestBarFirst(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	key := testKey("btcusdt")

	_, cancelFirst, _ := h.Subscribe(key)
	defer cancelFirst()

	conn := factory.last()
	conn.sink(testBar(key, 1000, 10.0))
	conn.sink(testBar(key, 2000, 20.0))

	late, cancelLate, _ := h.Subscribe(key)
	defer cancelLate()

	ev := mustNext(t, late)
	if ev.Bar == nil || ev.Bar.OpenTime != 2000 {
		t.Fatalf("expected replay of latest bar (openTime 2000), got %+v", ev)
	}

	conn.sink(testBar(key, 3000, 30.0))
	ev = mustNext(t, late)
	if ev.Bar.OpenTime != 3000 {
		t.Errorf("expected live bar after replay, got openTime %d", ev.Bar.OpenTime)
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	factory := &fakeFactory{}
	log := logger.NewLogger("ERROR", "hub-test")
	cfg := &models.MHubConfig{ChannelCapacity: 2, HeartbeatSeconds: 30, OverflowPolicy: "drop_newest"}
	h := NewHub(cfg, factory.build, log)
	defer h.Close()
	key := testKey("btcusdt")

	slow, cancelSlow, _ := h.Subscribe(key)
	defer cancelSlow()
	fast, cancelFast, _ := h.Subscribe(key)
	defer cancelFast()

	// The fast consumer drains concurrently; the slow one never reads.
	var received atomic.Int64
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go func() {
		for {
			ev, err := fast.Next(ctx)
			if err != nil {
				return
			}
			if ev.Type == models.EventTypeCandle {
				received.Add(1)
			}
		}
	}()

	conn := factory.last()
	done := make(chan struct{})
	go func() {
		for i := int64(1); i <= 50; i++ {
			conn.sink(testBar(key, i*1000, float64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	waitDeadline := time.Now().Add(2 * time.Second)
	for received.Load() == 0 && time.Now().Before(waitDeadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if received.Load() == 0 {
		t.Errorf("fast subscriber starved by a slow one")
	}
	if slow.Dropped() == 0 {
		t.Errorf("expected the slow subscriber to have dropped bars")
	}
}

func TestHeavyKeyDoesNotDelayOtherKey(t *testing.T) {
	h, factory := newTestHub()
	defer h.Close()
	busy := testKey("btcusdt")
	quiet := testKey("ethusdt")

	_, cancelBusy, _ := h.Subscribe(busy)
	defer cancelBusy()
	busyConn := factory.last()

	quietSub, cancelQuiet, _ := h.Subscribe(quiet)
	defer cancelQuiet()
	quietConn := factory.last()

	// Flood the busy key with nobody draining it; its buffer fills and drops.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
				busyConn.sink(testBar(busy, i*1000, float64(i)))
			}
		}
	}()

	quietConn.sink(testBar(quiet, 60_000, 42.0))

	ctx, cancelCtx := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancelCtx()
	ev, err := quietSub.Next(ctx)
	close(stop)
	wg.Wait()

	if err != nil {
		t.Fatalf("quiet key delivery delayed by busy key: %v", err)
	}
	if ev.Bar == nil || ev.Bar.Symbol != quiet.Symbol {
		t.Errorf("unexpected event on quiet key: %+v", ev)
	}
}

func TestTapsObserveEveryBroadcastBar(t *testing.T) {
	var tapped atomic.Int64
	h, factory := newTestHub(func(bar *models.MBar) { tapped.Add(1) })
	defer h.Close()
	key := testKey("btcusdt")

	_, cancel, _ := h.Subscribe(key)
	defer cancel()

	conn := factory.last()
	for i := int64(1); i <= 3; i++ {
		conn.sink(testBar(key, i*1000, float64(i)))
	}

	if tapped.Load() != 3 {
		t.Errorf("expected tap to observe 3 bars, got %d", tapped.Load())
	}
}

// -----------------------------------------------------------------------------
// Status and Close
// -----------------------------------------------------------------------------

func TestStatusReportsActiveFeeds(t *testing.T) {
	h, _ := newTestHub()
	defer h.Close()

	_, cancel1, _ := h.Subscribe(testKey("btcusdt"))
	defer cancel1()
	_, cancel2, _ := h.Subscribe(testKey("btcusdt"))
	defer cancel2()
	_, cancel3, _ := h.Subscribe(testKey("ethusdt"))
	defer cancel3()

	statuses := h.Status()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 active feeds, got %d", len(statuses))
	}
	if statuses["binance:btcusdt:1m"].SubscriberCount != 2 {
		t.Errorf("expected 2 subscribers on btcusdt, got %d", statuses["binance:btcusdt:1m"].SubscriberCount)
	}
	if statuses["binance:ethusdt:1m"].ConnectionState != models.FeedStateLive {
		t.Errorf("expected LIVE state, got %s", statuses["binance:ethusdt:1m"].ConnectionState)
	}
}

func TestCloseRejectsNewSubscribers(t *testing.T) {
	h, factory := newTestHub()
	key := testKey("btcusdt")

	sub, _, _ := h.Subscribe(key)
	h.Close()

	if factory.last().stopped.Load() == 0 {
		t.Errorf("expected connection stopped on hub close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := sub.Next(ctx); err != ErrSubscriptionClosed {
		t.Errorf("expected ErrSubscriptionClosed, got %v", err)
	}

	if _, _, err := h.Subscribe(key); err != ErrHubClosed {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
}
