package order

import (
	"sync"
	"time"

	"tradebridge/internal/events"
)

// Order statuses, venue-agnostic. Case-sensitive strings on the wire.
const (
	StatusAccepted        = "ACCEPTED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// qtyEpsilon absorbs floating-point drift when comparing executed
// quantity against the declared quantity.
const qtyEpsilon = 1e-12

// IsTerminal reports whether a status ends the order's lifecycle.
func IsTerminal(status string) bool {
	switch status {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// State is the reconciled view of one order, keyed by the
// caller-assigned client order id.
type State struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol,omitempty"`
	Side          string  `json:"side,omitempty"`
	Qty           float64 `json:"qty,omitempty"`
	Price         float64 `json:"price,omitempty"`
	VenueOrderID  string  `json:"venue_order_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	ExecutedQty   float64 `json:"executed_qty"`
	AvgFillPrice  float64 `json:"avg_fill_price,omitempty"`
	UpdatedAt     int64   `json:"updated_at"` // ns since epoch
}

// Store reconciles order state from events arriving out of order and
// from independent sources (engine, venue poller, push stream). Merge
// semantics are idempotent enough to tolerate arbitrary interleaving:
// executed quantity only grows, terminal statuses stick, and declared
// fields are never un-set by an event that omits them.
type Store struct {
	mu     sync.Mutex
	orders map[string]*State
}

func NewStore() *Store {
	return &Store{orders: make(map[string]*State)}
}

// Declare upserts user-declared order parameters. Fields absent from
// the call (empty string, zero quantity/price) never clear already
// populated ones, so Declare and a later confirming order_update can
// arrive in either order.
func (s *Store) Declare(clientID, symbol, side string, qty, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := s.ensure(clientID)
	if symbol != "" {
		o.Symbol = symbol
	}
	if side != "" {
		o.Side = side
	}
	if qty > 0 {
		o.Qty = qty
	}
	if price > 0 {
		o.Price = price
	}
	o.UpdatedAt = time.Now().UnixNano()
}

// Apply merges an order_update or fill event into the store. Events of
// other kinds, and order events without a client order id, are ignored.
func (s *Store) Apply(ev events.Event) {
	if ev.ClientOrderID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case events.KindOrderUpdate:
		s.applyUpdate(ev)
	case events.KindFill:
		s.applyFill(ev)
	}
}

func (s *Store) applyUpdate(ev events.Event) {
	o := s.ensure(ev.ClientOrderID)
	if ev.Symbol != "" {
		o.Symbol = ev.Symbol
	}
	if ev.Side != "" {
		o.Side = ev.Side
	}
	if ev.Qty > 0 {
		o.Qty = ev.Qty
	}
	if ev.Price > 0 {
		o.Price = ev.Price
	}
	if ev.VenueOrderID != "" {
		o.VenueOrderID = ev.VenueOrderID
	}
	if ev.Reason != "" {
		o.Reason = ev.Reason
	}
	if ev.Status != "" {
		// A terminal status is never downgraded by a late non-terminal
		// update from a slower source.
		if !IsTerminal(o.Status) || IsTerminal(ev.Status) {
			o.Status = ev.Status
		}
	}
	o.UpdatedAt = s.eventTime(ev)
}

func (s *Store) applyFill(ev events.Event) {
	// Executed quantity only grows; a zero or negative fill from a
	// misbehaving source is dropped outright.
	if ev.Qty <= 0 {
		return
	}
	o := s.ensure(ev.ClientOrderID)
	if ev.Symbol != "" {
		o.Symbol = ev.Symbol
	}

	prevQty := o.ExecutedQty
	o.ExecutedQty += ev.Qty
	if o.ExecutedQty > 0 {
		// Running volume-weighted average over all fills seen so far.
		o.AvgFillPrice = (o.AvgFillPrice*prevQty + ev.Price*ev.Qty) / o.ExecutedQty
	}

	// Fills keep arriving for terminal orders (late venue deliveries);
	// the quantity bookkeeping above still applies, but status
	// inference must not resurrect a finished order.
	if !IsTerminal(o.Status) {
		if o.Qty > 0 && o.ExecutedQty >= o.Qty-qtyEpsilon {
			o.Status = StatusFilled
		} else {
			o.Status = StatusPartiallyFilled
		}
	}
	o.UpdatedAt = s.eventTime(ev)
}

func (s *Store) ensure(clientID string) *State {
	o, ok := s.orders[clientID]
	if !ok {
		o = &State{ClientOrderID: clientID}
		s.orders[clientID] = o
	}
	return o
}

func (s *Store) eventTime(ev events.Event) int64 {
	if ev.Timestamp > 0 {
		return ev.Timestamp
	}
	return time.Now().UnixNano()
}

// Get returns a copy of the order's state.
func (s *Store) Get(clientID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clientID]
	if !ok {
		return State{}, false
	}
	return *o, true
}

// List returns a snapshot copy of every tracked order.
func (s *Store) List() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}
