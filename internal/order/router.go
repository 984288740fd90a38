package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradebridge/internal/engineproc"
	"tradebridge/internal/events"
	"tradebridge/pkg/db"
	"tradebridge/pkg/exchanges/common"
)

// Mode selects where order actions are executed.
type Mode string

const (
	// ModeSimulated delegates order actions to the engine subprocess;
	// status progression arrives asynchronously on its stdout.
	ModeSimulated Mode = "simulated"
	// ModeLive sends orders to the venue REST API and reconciles
	// subsequent state via polling and the push user-data stream.
	ModeLive Mode = "live"
)

// ErrVenueNotConfigured is returned synchronously when a live-mode
// action is attempted without venue credentials.
var ErrVenueNotConfigured = errors.New("venue client not configured")

// Router routes order actions to the engine or the venue and funnels
// both paths into the same normalized event stream and the
// reconciliation store.
type Router struct {
	mode   Mode
	engine *engineproc.Channel
	venue  common.Gateway
	store  *Store
	log    *events.Log
	db     *db.Database // optional, best-effort persistence
	logger zerolog.Logger

	// Suppresses the background poller while the push stream is live.
	streamConnected func() bool

	// Notified on engine market events so the fallback feed can tell
	// fresh symbols from stale ones.
	onMarket func(symbol string)

	pollInterval time.Duration
	errLimiter   *rate.Limiter

	mu      sync.Mutex
	pending map[string]*pendingOrder

	stop     chan struct{}
	stopOnce sync.Once
}

// pendingOrder tracks a live order awaiting a terminal status.
type pendingOrder struct {
	symbol     string
	lastExec   float64
	lastStatus string
}

// Config wires a Router. Engine is required in simulated mode, Venue in
// live mode. StreamConnected may be nil when no push stream runs.
type Config struct {
	Mode            Mode
	Engine          *engineproc.Channel
	Venue           common.Gateway
	Store           *Store
	Log             *events.Log
	DB              *db.Database
	Logger          zerolog.Logger
	StreamConnected func() bool
	OnMarket        func(symbol string)
	PollInterval    time.Duration
}

func NewRouter(cfg Config) *Router {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	r := &Router{
		mode:            cfg.Mode,
		engine:          cfg.Engine,
		venue:           cfg.Venue,
		store:           cfg.Store,
		log:             cfg.Log,
		db:              cfg.DB,
		logger:          cfg.Logger.With().Str("component", "router").Str("mode", string(cfg.Mode)).Logger(),
		streamConnected: cfg.StreamConnected,
		onMarket:        cfg.OnMarket,
		pollInterval:    cfg.PollInterval,
		// One synthesized error event per 5s during sustained outages.
		errLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		pending:    make(map[string]*pendingOrder),
		stop:       make(chan struct{}),
	}
	return r
}

// Start launches the router's background work: the engine event pump in
// simulated mode, the reconciliation poller in live mode.
func (r *Router) Start(ctx context.Context) {
	switch r.mode {
	case ModeSimulated:
		go r.pumpEngine(ctx)
	case ModeLive:
		go r.pollLoop(ctx)
	}
}

// Stop signals background loops to exit and advises the engine process
// to terminate. It does not wait.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.engine != nil {
		r.engine.Stop()
	}
}

// PlaceOrder records the declared parameters and routes the order. The
// returned id is the client order id (generated when the caller passes
// none). In simulated mode a nil error only means the command reached
// the engine; acceptance arrives later as an event. Venue errors in
// live mode become synthesized REJECTED events, not returned errors.
func (r *Router) PlaceOrder(ctx context.Context, side, symbol string, qty, price float64, clientOrderID string) (string, error) {
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}
	r.store.Declare(clientOrderID, symbol, side, qty, price)

	switch r.mode {
	case ModeSimulated:
		cmd := fmt.Sprintf("ORDER %s %s %s %s %s",
			side, symbol, formatQty(qty), formatQty(price), clientOrderID)
		if err := r.engine.SendLine(cmd); err != nil {
			return clientOrderID, fmt.Errorf("send order command: %w", err)
		}
		return clientOrderID, nil

	case ModeLive:
		if r.venue == nil {
			return clientOrderID, ErrVenueNotConfigured
		}
		res, err := r.venue.SubmitOrder(ctx, common.OrderRequest{
			Symbol:   symbol,
			Side:     common.Side(side),
			Qty:      qty,
			Price:    price,
			ClientID: clientOrderID,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("client_order_id", clientOrderID).Msg("venue rejected order")
			r.Publish(events.Event{
				Type:          events.KindOrderUpdate,
				ClientOrderID: clientOrderID,
				Status:        StatusRejected,
				Reason:        err.Error(),
				Timestamp:     time.Now().UnixNano(),
			})
			return clientOrderID, nil
		}

		r.Publish(events.Event{
			Type:          events.KindOrderUpdate,
			ClientOrderID: clientOrderID,
			VenueOrderID:  res.VenueOrderID,
			Status:        StatusAccepted,
			Symbol:        symbol,
			Side:          side,
			Qty:           qty,
			Price:         price,
			Timestamp:     time.Now().UnixNano(),
		})
		r.register(clientOrderID, symbol)
		return clientOrderID, nil
	}
	return clientOrderID, fmt.Errorf("unknown mode %q", r.mode)
}

// CancelOrder routes an order cancellation symmetrically to PlaceOrder.
func (r *Router) CancelOrder(ctx context.Context, clientOrderID, symbol string) error {
	switch r.mode {
	case ModeSimulated:
		if err := r.engine.SendLine("CANCEL " + clientOrderID); err != nil {
			return fmt.Errorf("send cancel command: %w", err)
		}
		return nil

	case ModeLive:
		if r.venue == nil {
			return ErrVenueNotConfigured
		}
		if symbol == "" {
			if o, ok := r.store.Get(clientOrderID); ok {
				symbol = o.Symbol
			}
		}
		status := StatusCancelled
		reason := ""
		if err := r.venue.CancelOrder(ctx, symbol, clientOrderID); err != nil {
			r.logger.Warn().Err(err).Str("client_order_id", clientOrderID).Msg("venue cancel failed")
			status = StatusRejected
			reason = err.Error()
		}
		r.Publish(events.Event{
			Type:          events.KindOrderUpdate,
			ClientOrderID: clientOrderID,
			Status:        status,
			Reason:        reason,
			Timestamp:     time.Now().UnixNano(),
		})
		r.deregister(clientOrderID)
		return nil
	}
	return fmt.Errorf("unknown mode %q", r.mode)
}

// Publish merges an event into the reconciliation store, appends it to
// the event log, and persists order state best-effort. It is the single
// funnel for both execution paths and the push stream.
func (r *Router) Publish(ev events.Event) int64 {
	r.store.Apply(ev)
	id := r.log.Append(ev)
	r.persist(ev)
	return id
}

// pumpEngine forwards engine subprocess events into the shared funnel.
func (r *Router) pumpEngine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case ev, ok := <-r.engine.Events():
			if !ok {
				r.logger.Warn().Msg("engine event stream ended")
				return
			}
			r.Publish(ev)
			if ev.Type == events.KindMarket && r.onMarket != nil {
				r.onMarket(ev.Symbol)
			}
		}
	}
}

// pollLoop reconciles pending live orders while the push stream is not
// connected. It synthesizes incremental fills from executed-quantity
// deltas, forwards status changes, and drops orders once terminal.
func (r *Router) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if r.streamConnected != nil && r.streamConnected() {
				continue
			}
			r.pollPending(ctx)
		}
	}
}

func (r *Router) pollPending(ctx context.Context) {
	for _, id := range r.pendingIDs() {
		r.mu.Lock()
		p, ok := r.pending[id]
		r.mu.Unlock()
		if !ok {
			continue
		}

		state, err := r.venue.QueryOrder(ctx, p.symbol, id)
		if err != nil {
			// Throttled: one error event per interval during outages.
			if r.errLimiter.Allow() {
				r.Publish(events.Event{
					Type:      events.KindError,
					Message:   fmt.Sprintf("order status poll failed: %v", err),
					Timestamp: time.Now().UnixNano(),
				})
			}
			continue
		}

		now := time.Now().UnixNano()
		if delta := state.ExecutedQty - p.lastExec; delta > 0 {
			r.Publish(events.Event{
				Type:          events.KindFill,
				ClientOrderID: id,
				Symbol:        p.symbol,
				Qty:           delta,
				Price:         state.AvgPrice,
				Timestamp:     now,
			})
			p.lastExec = state.ExecutedQty
		}

		status := normalizeVenueStatus(state.Status)
		if status != "" && status != p.lastStatus {
			r.Publish(events.Event{
				Type:          events.KindOrderUpdate,
				ClientOrderID: id,
				VenueOrderID:  state.VenueOrderID,
				Status:        status,
				Timestamp:     now,
			})
			p.lastStatus = status
		}

		if IsTerminal(status) {
			r.deregister(id)
		}
	}
}

func (r *Router) register(clientOrderID, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[clientOrderID] = &pendingOrder{symbol: symbol}
}

func (r *Router) deregister(clientOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, clientOrderID)
}

func (r *Router) pendingIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	return ids
}

// persist mirrors order state and fills into SQLite. Failures are
// logged and never interrupt reconciliation.
func (r *Router) persist(ev events.Event) {
	if r.db == nil || ev.ClientOrderID == "" {
		return
	}
	switch ev.Type {
	case events.KindOrderUpdate:
		if o, ok := r.store.Get(ev.ClientOrderID); ok {
			if err := r.db.UpsertOrder(dbOrder(o)); err != nil {
				r.logger.Warn().Err(err).Str("client_order_id", ev.ClientOrderID).Msg("persist order failed")
			}
		}
	case events.KindFill:
		fill := db.Fill{
			ID:            uuid.NewString(),
			ClientOrderID: ev.ClientOrderID,
			Symbol:        ev.Symbol,
			Qty:           ev.Qty,
			Price:         ev.Price,
			CreatedAt:     time.Now(),
		}
		if err := r.db.InsertFill(fill); err != nil {
			r.logger.Warn().Err(err).Str("client_order_id", ev.ClientOrderID).Msg("persist fill failed")
		}
		if o, ok := r.store.Get(ev.ClientOrderID); ok {
			if err := r.db.UpsertOrder(dbOrder(o)); err != nil {
				r.logger.Warn().Err(err).Str("client_order_id", ev.ClientOrderID).Msg("persist order failed")
			}
		}
	}
}

func dbOrder(o State) db.Order {
	return db.Order{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Qty:           o.Qty,
		Price:         o.Price,
		VenueOrderID:  o.VenueOrderID,
		Status:        o.Status,
		Reason:        o.Reason,
		ExecutedQty:   o.ExecutedQty,
		AvgFillPrice:  o.AvgFillPrice,
		UpdatedAt:     time.Unix(0, o.UpdatedAt),
	}
}

// normalizeVenueStatus maps venue status strings onto the store's
// state machine.
func normalizeVenueStatus(s common.OrderStatus) string {
	switch s {
	case common.StatusNew:
		return StatusAccepted
	case common.StatusPartial:
		return StatusPartiallyFilled
	case common.StatusFilled:
		return StatusFilled
	case common.StatusCanceled:
		return StatusCancelled
	case common.StatusRejected:
		return StatusRejected
	case common.StatusExpired:
		return StatusExpired
	}
	return ""
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
