package events

// Kind discriminates normalized event payloads.
type Kind string

const (
	KindMarket      Kind = "market"
	KindOrderUpdate Kind = "order_update"
	KindFill        Kind = "fill"
	KindAccount     Kind = "account"
	KindError       Kind = "error"
)

// Valid reports whether k is one of the normalized event kinds. Engine
// processes emit internal event types beyond these; those never enter
// the normalized stream.
func (k Kind) Valid() bool {
	switch k {
	case KindMarket, KindOrderUpdate, KindFill, KindAccount, KindError:
		return true
	}
	return false
}

// Event is the normalized schema shared by the engine path and the live
// venue path. Fields are populated per Kind; absent fields are left at
// their zero value and must not be interpreted by consumers.
//
// For KindOrderUpdate, Qty and Price carry late-arriving declared order
// parameters. For KindFill they carry the incremental fill quantity and
// the fill price.
type Event struct {
	Type          Kind    `json:"type"`
	Symbol        string  `json:"symbol,omitempty"`
	Side          string  `json:"side,omitempty"`
	Qty           float64 `json:"qty,omitempty"`
	Price         float64 `json:"price,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	VenueOrderID  string  `json:"venue_order_id,omitempty"`
	Status        string  `json:"status,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Message       string  `json:"message,omitempty"`
	Timestamp     int64   `json:"ts,omitempty"`
}

// Stamped pairs an event with the sequence id the log assigned on append.
// The id belongs to the log, not to the originating event.
type Stamped struct {
	ID    int64 `json:"id"`
	Event Event `json:"event"`
}
