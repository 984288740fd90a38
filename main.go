package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradebridge/internal/api"
	"tradebridge/internal/balance"
	"tradebridge/internal/engineproc"
	"tradebridge/internal/events"
	"tradebridge/internal/market"
	"tradebridge/internal/order"
	"tradebridge/pkg/config"
	"tradebridge/pkg/db"
	exspot "tradebridge/pkg/exchanges/binance/spot"
	marketbinance "tradebridge/pkg/market/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("load config")
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info().Str("mode", cfg.Mode).Str("port", cfg.Port).Msg("starting trade bridge")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	defer database.Close()

	eventLog := events.NewLog(cfg.EventLogCapacity, cfg.RecentActivityCap)
	orderStore := order.NewStore()
	balances := balance.NewStore()

	var poller *market.Poller
	if cfg.MarketPollEnabled && len(cfg.Symbols) > 0 {
		poller = market.NewPoller(
			marketbinance.NewClient(cfg.VenueTestnet),
			eventLog,
			cfg.Symbols,
			cfg.MarketPollInterval,
			cfg.MarketStaleAfter,
			logger,
		)
	}

	routerCfg := order.Config{
		Store:        orderStore,
		Log:          eventLog,
		DB:           database,
		Logger:       logger,
		PollInterval: cfg.OrderPollInterval,
	}
	if poller != nil {
		routerCfg.OnMarket = poller.NotePrimary
	}

	var (
		venue  *exspot.Client
		stream *order.UserStream
	)

	switch cfg.Mode {
	case "live":
		venue = exspot.New(exspot.Config{
			APIKey:    cfg.VenueAPIKey,
			APISecret: cfg.VenueAPISecret,
			Testnet:   cfg.VenueTestnet,
		})
		routerCfg.Mode = order.ModeLive
		if venue.Configured() {
			routerCfg.Venue = venue
			// The poller yields while the push stream is connected.
			routerCfg.StreamConnected = func() bool {
				return stream != nil && stream.Connected()
			}
		} else {
			logger.Warn().Msg("live mode without venue credentials, orders will be refused")
		}

	default: // simulated
		engine, err := engineproc.Start(logger, cfg.EngineCommand, cfg.EngineArgs...)
		if err != nil {
			logger.Fatal().Err(err).Str("command", cfg.EngineCommand).Msg("start engine process")
		}
		routerCfg.Mode = order.ModeSimulated
		routerCfg.Engine = engine
	}

	router := order.NewRouter(routerCfg)
	if venue != nil && venue.Configured() {
		stream = order.NewUserStream(venue, router, balances, logger)
	}
	router.Start(ctx)
	defer router.Stop()

	if stream != nil {
		go stream.Run(ctx)
	}
	if poller != nil {
		go poller.Run(ctx)
	}

	web := gin.New()
	web.Use(gin.Recovery())
	api.NewServer(router, orderStore, balances, eventLog, database, logger).Routes(web)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: web,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
