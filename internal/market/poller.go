// Package market supplies a fallback price feed: when the engine-driven
// feed goes quiet, a background poller injects synthetic market events
// from an external REST price source.
package market

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradebridge/internal/events"
)

// PriceSource returns the latest trade price for a symbol.
type PriceSource interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}

// Poller watches per-symbol feed freshness and polls the source only
// for symbols whose primary feed is stale.
type Poller struct {
	source     PriceSource
	log        *events.Log
	symbols    []string
	interval   time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger

	mu    sync.Mutex
	fresh map[string]time.Time
}

func NewPoller(source PriceSource, log *events.Log, symbols []string, interval, staleAfter time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Second
	}
	return &Poller{
		source:     source,
		log:        log,
		symbols:    symbols,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "market_poller").Logger(),
		fresh:      make(map[string]time.Time),
	}
}

// NotePrimary records that the primary feed produced a price for
// symbol, suppressing synthetic polling for it until it goes stale.
func (p *Poller) NotePrimary(symbol string) {
	p.mu.Lock()
	p.fresh[symbol] = time.Now()
	p.mu.Unlock()
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollStale(ctx)
		}
	}
}

func (p *Poller) pollStale(ctx context.Context) {
	for _, symbol := range p.symbols {
		if !p.isStale(symbol) {
			continue
		}
		price, err := p.source.TickerPrice(ctx, symbol)
		if err != nil {
			p.logger.Warn().Err(err).Str("symbol", symbol).Msg("price poll failed")
			continue
		}
		p.log.Append(events.Event{
			Type:      events.KindMarket,
			Symbol:    symbol,
			Price:     price,
			Timestamp: time.Now().UnixNano(),
		})
	}
}

func (p *Poller) isStale(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.fresh[symbol]
	return !ok || time.Since(last) > p.staleAfter
}
