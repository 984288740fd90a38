package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus normalizes venue status strings into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to a venue.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Qty      float64
	Price    float64
	ClientID string // client order id, echoed back by the venue
}

// OrderResult is the venue's synchronous ack for a submitted order.
type OrderResult struct {
	VenueOrderID string
	Status       OrderStatus
	ClientID     string
}

// OrderState is a venue-side order status snapshot, used by the
// background reconciliation poller.
type OrderState struct {
	VenueOrderID string
	Status       OrderStatus
	ExecutedQty  float64
	OrigQty      float64
	AvgPrice     float64
}
