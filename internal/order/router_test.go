package order

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tradebridge/internal/engineproc"
	"tradebridge/internal/events"
	"tradebridge/pkg/exchanges/common"
)

type fakeVenue struct {
	submitErr error
	cancelErr error
	queryErr  error
	state     common.OrderState

	submitted []common.OrderRequest
	cancelled []string
	queries   atomic.Int64
}

func (f *fakeVenue) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return common.OrderResult{}, f.submitErr
	}
	return common.OrderResult{VenueOrderID: "v-1", Status: common.StatusNew, ClientID: req.ClientID}, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	f.cancelled = append(f.cancelled, clientOrderID)
	return f.cancelErr
}

func (f *fakeVenue) QueryOrder(ctx context.Context, symbol, clientOrderID string) (common.OrderState, error) {
	f.queries.Add(1)
	if f.queryErr != nil {
		return common.OrderState{}, f.queryErr
	}
	return f.state, nil
}

func newLiveRouter(venue common.Gateway) (*Router, *Store, *events.Log) {
	store := NewStore()
	log := events.NewLog(256, 64)
	r := NewRouter(Config{
		Mode:   ModeLive,
		Venue:  venue,
		Store:  store,
		Log:    log,
		Logger: zerolog.Nop(),
	})
	return r, store, log
}

func kinds(evs []events.Stamped) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, st := range evs {
		out[i] = st.Event.Type
	}
	return out
}

func TestLivePlaceOrderSynthesizesAccepted(t *testing.T) {
	venue := &fakeVenue{}
	r, store, log := newLiveRouter(venue)

	id, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 50000, "c1")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "c1" {
		t.Fatalf("id=%q", id)
	}

	o, ok := store.Get("c1")
	if !ok || o.Status != StatusAccepted || o.VenueOrderID != "v-1" {
		t.Fatalf("store state %+v ok=%v", o, ok)
	}

	evs, _ := log.ReadSince(-1)
	if len(evs) != 1 || evs[0].Event.Type != events.KindOrderUpdate || evs[0].Event.Status != StatusAccepted {
		t.Fatalf("events %v", kinds(evs))
	}
	if len(r.pendingIDs()) != 1 {
		t.Fatal("order not registered for polling")
	}
}

func TestLivePlaceOrderVenueErrorBecomesRejectedEvent(t *testing.T) {
	venue := &fakeVenue{submitErr: errors.New("insufficient balance")}
	r, store, log := newLiveRouter(venue)

	// The venue error degrades to data, not a returned error.
	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 50000, "c2"); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	o, _ := store.Get("c2")
	if o.Status != StatusRejected || !strings.Contains(o.Reason, "insufficient balance") {
		t.Fatalf("state %+v", o)
	}
	evs, _ := log.ReadSince(-1)
	if len(evs) != 1 || evs[0].Event.Status != StatusRejected {
		t.Fatalf("events %+v", evs)
	}
	if len(r.pendingIDs()) != 0 {
		t.Fatal("rejected order must not be registered for polling")
	}
}

func TestLivePlaceOrderGeneratesClientID(t *testing.T) {
	r, _, _ := newLiveRouter(&fakeVenue{})
	id, err := r.PlaceOrder(context.Background(), "SELL", "ETHUSDT", 2, 3000, "")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated client order id")
	}
}

func TestLiveRouterWithoutVenueFailsSynchronously(t *testing.T) {
	r, _, _ := newLiveRouter(nil)
	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 1, "c3"); !errors.Is(err, ErrVenueNotConfigured) {
		t.Fatalf("err=%v, expected ErrVenueNotConfigured", err)
	}
	if err := r.CancelOrder(context.Background(), "c3", ""); !errors.Is(err, ErrVenueNotConfigured) {
		t.Fatalf("cancel err=%v", err)
	}
}

func TestLiveCancelSynthesizesCancelledAndDeregisters(t *testing.T) {
	venue := &fakeVenue{}
	r, store, _ := newLiveRouter(venue)

	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 100, "c4"); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if err := r.CancelOrder(context.Background(), "c4", ""); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}

	o, _ := store.Get("c4")
	if o.Status != StatusCancelled {
		t.Fatalf("status %s", o.Status)
	}
	if len(r.pendingIDs()) != 0 {
		t.Fatal("cancelled order still registered for polling")
	}
	// The cancel used the symbol remembered from the declaration.
	if len(venue.cancelled) != 1 || venue.cancelled[0] != "c4" {
		t.Fatalf("cancelled %v", venue.cancelled)
	}
}

func TestLiveCancelFailureSynthesizesRejected(t *testing.T) {
	venue := &fakeVenue{cancelErr: errors.New("unknown order")}
	r, store, _ := newLiveRouter(venue)

	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 100, "c5"); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if err := r.CancelOrder(context.Background(), "c5", ""); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	o, _ := store.Get("c5")
	if o.Status != StatusRejected {
		t.Fatalf("status %s", o.Status)
	}
}

func TestPollerSynthesizesIncrementalFillsAndDeregistersOnTerminal(t *testing.T) {
	venue := &fakeVenue{state: common.OrderState{
		VenueOrderID: "v-1",
		Status:       common.StatusPartial,
		ExecutedQty:  0.4,
		OrigQty:      1,
		AvgPrice:     50000,
	}}
	r, store, log := newLiveRouter(venue)

	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 50000, "c6"); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	r.pollPending(context.Background())
	o, _ := store.Get("c6")
	if o.ExecutedQty != 0.4 || o.Status != StatusPartiallyFilled {
		t.Fatalf("after first poll: %+v", o)
	}

	// Venue reports the rest executed.
	venue.state.ExecutedQty = 1
	venue.state.Status = common.StatusFilled
	r.pollPending(context.Background())

	o, _ = store.Get("c6")
	if o.Status != StatusFilled {
		t.Fatalf("status %s", o.Status)
	}
	if o.ExecutedQty != 1 {
		t.Fatalf("executed %v, expected delta-based fills to sum to 1", o.ExecutedQty)
	}
	if len(r.pendingIDs()) != 0 {
		t.Fatal("terminal order still pending")
	}

	// accepted + (fill, update) + (fill, update) = five events.
	evs, _ := log.ReadSince(-1)
	if len(evs) != 5 {
		t.Fatalf("event count %d: %v", len(evs), kinds(evs))
	}

	// No further polling once nothing is pending.
	before := venue.queries.Load()
	r.pollPending(context.Background())
	if venue.queries.Load() != before {
		t.Fatal("poller queried with no pending orders")
	}
}

func TestPollerThrottlesErrorEvents(t *testing.T) {
	venue := &fakeVenue{queryErr: errors.New("venue down")}
	r, _, log := newLiveRouter(venue)

	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 100, "c7"); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	for i := 0; i < 10; i++ {
		r.pollPending(context.Background())
	}

	errCount := 0
	evs, _ := log.ReadSince(-1)
	for _, st := range evs {
		if st.Event.Type == events.KindError {
			errCount++
		}
	}
	if errCount != 1 {
		t.Fatalf("error events %d, expected throttling to allow exactly one", errCount)
	}
}

func TestPollLoopSuppressedWhileStreamConnected(t *testing.T) {
	venue := &fakeVenue{state: common.OrderState{Status: common.StatusNew}}
	store := NewStore()
	log := events.NewLog(64, 64)

	var connected atomic.Bool
	connected.Store(true)

	r := NewRouter(Config{
		Mode:            ModeLive,
		Venue:           venue,
		Store:           store,
		Log:             log,
		Logger:          zerolog.Nop(),
		StreamConnected: connected.Load,
		PollInterval:    5 * time.Millisecond,
	})

	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 100, "c9"); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	time.Sleep(60 * time.Millisecond)
	if n := venue.queries.Load(); n != 0 {
		t.Fatalf("venue queried %d times while the push stream was connected", n)
	}

	// Loses the push stream, polling resumes on the next tick.
	connected.Store(false)
	deadline := time.Now().Add(2 * time.Second)
	for venue.queries.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller never resumed after the stream disconnected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSimulatedPlaceOrderWritesCommandLine(t *testing.T) {
	engine, err := engineproc.Start(zerolog.Nop(), "cat")
	if err != nil {
		t.Skipf("cannot start cat: %v", err)
	}
	defer engine.Stop()

	store := NewStore()
	log := events.NewLog(64, 64)
	r := NewRouter(Config{
		Mode:   ModeSimulated,
		Engine: engine,
		Store:  store,
		Log:    log,
		Logger: zerolog.Nop(),
	})

	id, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 0.5, 42000, "c8")
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if id != "c8" {
		t.Fatalf("id %q", id)
	}

	// Declared parameters are queryable before any confirmation.
	o, ok := store.Get("c8")
	if !ok || o.Symbol != "BTCUSDT" || o.Qty != 0.5 || o.Status != "" {
		t.Fatalf("declared state %+v ok=%v", o, ok)
	}
}

func TestSimulatedChannelClosedSurfacesToCaller(t *testing.T) {
	engine, err := engineproc.Start(zerolog.Nop(), "cat")
	if err != nil {
		t.Skipf("cannot start cat: %v", err)
	}

	store := NewStore()
	log := events.NewLog(64, 64)
	r := NewRouter(Config{
		Mode:   ModeSimulated,
		Engine: engine,
		Store:  store,
		Log:    log,
		Logger: zerolog.Nop(),
	})
	r.Stop()

	if _, err := r.PlaceOrder(context.Background(), "BUY", "BTCUSDT", 1, 1, "c9"); !errors.Is(err, engineproc.ErrChannelClosed) {
		t.Fatalf("err=%v, expected ErrChannelClosed", err)
	}
	if err := r.CancelOrder(context.Background(), "c9", ""); !errors.Is(err, engineproc.ErrChannelClosed) {
		t.Fatalf("cancel err=%v, expected ErrChannelClosed", err)
	}
}

func TestSimulatedEnginePumpFeedsStoreAndLog(t *testing.T) {
	engine, err := engineproc.Start(zerolog.Nop(), "cat")
	if err != nil {
		t.Skipf("cannot start cat: %v", err)
	}
	defer engine.Stop()

	store := NewStore()
	log := events.NewLog(64, 64)
	r := NewRouter(Config{
		Mode:   ModeSimulated,
		Engine: engine,
		Store:  store,
		Log:    log,
		Logger: zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	// cat echoes these lines back as engine events.
	lines := []string{
		`{"type":"order_update","client_order_id":"c10","status":"ACCEPTED","venue_order_id":"e-7"}`,
		`{"type":"fill","client_order_id":"c10","symbol":"BTCUSDT","qty":0.3,"price":100}`,
	}
	for _, l := range lines {
		if err := engine.SendLine(l); err != nil {
			t.Fatalf("SendLine: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		o, _ := store.Get("c10")
		if o.ExecutedQty == 0.3 && o.Status == StatusPartiallyFilled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("engine events not reconciled in time: %+v", o)
		case <-time.After(10 * time.Millisecond):
		}
	}

	evs, _ := log.ReadSince(-1)
	if len(evs) != 2 {
		t.Fatalf("event count %d", len(evs))
	}
}
