package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// UpsertOrder writes the latest reconciled state for an order.
func (d *Database) UpsertOrder(o Order) error {
	_, err := d.DB.Exec(`
		INSERT INTO orders (client_order_id, symbol, side, qty, price,
			venue_order_id, status, reason, executed_qty, avg_fill_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			symbol = excluded.symbol,
			side = excluded.side,
			qty = excluded.qty,
			price = excluded.price,
			venue_order_id = excluded.venue_order_id,
			status = excluded.status,
			reason = excluded.reason,
			executed_qty = excluded.executed_qty,
			avg_fill_price = excluded.avg_fill_price,
			updated_at = excluded.updated_at
	`, o.ClientOrderID, o.Symbol, o.Side, o.Qty, o.Price,
		o.VenueOrderID, o.Status, o.Reason, o.ExecutedQty, o.AvgFillPrice, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// GetOrder fetches one persisted order by client order id.
func (d *Database) GetOrder(clientOrderID string) (Order, error) {
	row := d.DB.QueryRow(`
		SELECT client_order_id, symbol, side, qty, price,
			venue_order_id, status, reason, executed_qty, avg_fill_price, updated_at
		FROM orders WHERE client_order_id = ?
	`, clientOrderID)

	var o Order
	err := row.Scan(&o.ClientOrderID, &o.Symbol, &o.Side, &o.Qty, &o.Price,
		&o.VenueOrderID, &o.Status, &o.Reason, &o.ExecutedQty, &o.AvgFillPrice, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

// ListOrders returns persisted orders, newest first.
func (d *Database) ListOrders(limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.Query(`
		SELECT client_order_id, symbol, side, qty, price,
			venue_order_id, status, reason, executed_qty, avg_fill_price, updated_at
		FROM orders ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ClientOrderID, &o.Symbol, &o.Side, &o.Qty, &o.Price,
			&o.VenueOrderID, &o.Status, &o.Reason, &o.ExecutedQty, &o.AvgFillPrice, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// InsertFill records one executed trade slice.
func (d *Database) InsertFill(f Fill) error {
	_, err := d.DB.Exec(`
		INSERT INTO fills (id, client_order_id, symbol, qty, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.ClientOrderID, f.Symbol, f.Qty, f.Price, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// ListFills returns the fills recorded for one order, oldest first.
func (d *Database) ListFills(clientOrderID string) ([]Fill, error) {
	rows, err := d.DB.Query(`
		SELECT id, client_order_id, symbol, qty, price, created_at
		FROM fills WHERE client_order_id = ? ORDER BY created_at ASC
	`, clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.ClientOrderID, &f.Symbol, &f.Qty, &f.Price, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
