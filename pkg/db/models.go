package db

import "time"

// Order is a persisted snapshot of reconciled order state.
type Order struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Qty           float64
	Price         float64
	VenueOrderID  string
	Status        string
	Reason        string
	ExecutedQty   float64
	AvgFillPrice  float64
	UpdatedAt     time.Time
}

// Fill is one executed trade slice.
type Fill struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Qty           float64
	Price         float64
	CreatedAt     time.Time
}
