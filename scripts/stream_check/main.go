package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"tradebridge/internal/balance"
	"tradebridge/internal/events"
	"tradebridge/internal/order"
	"tradebridge/pkg/config"
	exspot "tradebridge/pkg/exchanges/binance/spot"
)

// Runs the venue user-data stream end to end and prints every
// normalized event it produces, without the rest of the bridge.
//
// Usage:
//   go run ./scripts/stream_check
//
// VENUE_API_KEY / VENUE_API_SECRET must be set. Place or cancel an
// order on the account while this runs to see execution reports.

type printSink struct{ n int64 }

func (p *printSink) Publish(ev events.Event) int64 {
	p.n++
	log.Printf("[EVENT %d] %+v", p.n, ev)
	return p.n
}

func main() {
	log.Println("=== user stream check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.VenueAPIKey == "" || cfg.VenueAPISecret == "" {
		log.Fatal("VENUE_API_KEY/SECRET must be set")
	}
	log.Printf("config: testnet=%v", cfg.VenueTestnet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := exspot.New(exspot.Config{
		APIKey:    cfg.VenueAPIKey,
		APISecret: cfg.VenueAPISecret,
		Testnet:   cfg.VenueTestnet,
	})

	balances := balance.NewStore()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	stream := order.NewUserStream(client, &printSink{}, balances, logger)
	go stream.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("stopping")
	cancel()

	for _, b := range balances.List() {
		log.Printf("[BALANCE] %s free=%v locked=%v", b.Asset, b.Free, b.Locked)
	}
}
