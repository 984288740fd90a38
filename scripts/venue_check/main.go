package main

import (
	"context"
	"log"
	"os"
	"time"

	"tradebridge/pkg/config"
	exspot "tradebridge/pkg/exchanges/binance/spot"
	"tradebridge/pkg/exchanges/common"
	marketbinance "tradebridge/pkg/market/binance"
)

// Quick connectivity check for the wrapped venue REST APIs.
//
// Usage:
//   go run ./scripts/venue_check
//
// Env (same as the main binary):
//   VENUE_API_KEY / VENUE_API_SECRET / VENUE_TESTNET
//
// Behavior toggles:
//   VENUE_CHECK_PLACE_ORDER  (default "false")
//        - false: public + read-only signed endpoints only
//        - true : submits and immediately cancels a tiny limit order
//   VENUE_CHECK_SYMBOL       (default "BTCUSDT")

func main() {
	log.Println("=== venue check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	placeOrder := getenv("VENUE_CHECK_PLACE_ORDER", "false") == "true"
	symbol := getenv("VENUE_CHECK_SYMBOL", "BTCUSDT")
	log.Printf("config: testnet=%v placeOrder=%v symbol=%s", cfg.VenueTestnet, placeOrder, symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Public endpoint first so connectivity problems are obvious before
	// signing enters the picture.
	ticker := marketbinance.NewClient(cfg.VenueTestnet)
	price, err := ticker.TickerPrice(ctx, symbol)
	if err != nil {
		log.Fatalf("[PUBLIC] ticker price error: %v", err)
	}
	log.Printf("[PUBLIC] %s last price: %v", symbol, price)

	if cfg.VenueAPIKey == "" || cfg.VenueAPISecret == "" {
		log.Println("[SIGNED] VENUE_API_KEY/SECRET empty, skipping signed checks")
		return
	}

	client := exspot.New(exspot.Config{
		APIKey:    cfg.VenueAPIKey,
		APISecret: cfg.VenueAPISecret,
		Testnet:   cfg.VenueTestnet,
	})

	serverTime, err := client.GetServerTime()
	if err != nil {
		log.Fatalf("[SIGNED] server time error: %v", err)
	}
	drift := time.Since(time.UnixMilli(serverTime))
	log.Printf("[SIGNED] server time: %d (local drift %v)", serverTime, drift)

	account, err := client.GetAccountInfo(ctx)
	if err != nil {
		log.Fatalf("[SIGNED] account info error: %v", err)
	}
	log.Printf("[SIGNED] account ok, %d balances", len(account.Balances))

	if !placeOrder {
		log.Println("[ORDER] skipped (VENUE_CHECK_PLACE_ORDER=false)")
		return
	}

	// A deliberately unmarketable limit order, cancelled right away.
	clientID := "venue-check-" + time.Now().Format("150405")
	res, err := client.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   symbol,
		Side:     common.SideBuy,
		Qty:      0.0001,
		Price:    price / 2,
		ClientID: clientID,
	})
	if err != nil {
		log.Fatalf("[ORDER] submit error: %v", err)
	}
	log.Printf("[ORDER] submitted: venue id %s status %s", res.VenueOrderID, res.Status)

	if err := client.CancelOrder(ctx, symbol, clientID); err != nil {
		log.Fatalf("[ORDER] cancel error: %v", err)
	}
	log.Println("[ORDER] cancelled ok")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
