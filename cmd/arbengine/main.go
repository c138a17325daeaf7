// Cross-venue arbitrage engine for binary prediction markets.
//
// Architecture:
//
//	main.go                     — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go            — orchestrator: wires venues → resolver → detector → coordinator → store → api
//	venue/client.go             — per-venue WebSocket stream: connect, auth, subscribe, heartbeat, reconnect
//	book/store.go               — Order Book Store: (venue, venue_market_id) -> latest OrderBook
//	resolver/resolver.go        — Market Identity Resolver: fuzzy cross-venue market matching
//	arbitrage/detector.go       — Arbitrage Detector: fuses books by canonical id, computes opportunities
//	execution/coordinator.go    — Execution Coordinator: two-leg placement with compensation
//	outbound/outbound.go        — Outbound API Adapters: per-venue REST order placement/cancel/status
//	store/postgres.go           — relational persistence for mappings/opportunities/trades
//	eventbus/bus.go             — in-process pub/sub fan-out of opportunity/execution events
//	api/                        — HTTP/WebSocket surface consumed by the front-end dashboard
//
// What it does:
//
//	The engine watches two venues' order books for the same binary event
//	and buys the complementary YES/NO outcomes across venues whenever the
//	combined cost settles below par, locking in a risk-free payout at
//	resolution net of fees.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arb-engine/internal/config"
	"arb-engine/internal/engine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))

	ctx := context.Background()
	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("arbitrage engine started",
		"port", cfg.Port,
		"arb_threshold", cfg.ArbThreshold,
		"auto_execute", cfg.AutoExecute,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
