// Package engine is the central orchestrator of the arbitrage engine.
//
//  1. Two venue clients stream normalized order-book updates.
//  2. Each venue's updates are mirrored into the Order Book Store and
//     forwarded to the Arbitrage Detector.
//  3. The Detector fuses books by canonical id (via the Resolver's index)
//     and publishes ArbitrageOpportunity records to the Event Bus and Store.
//  4. The Execution Coordinator consumes opportunities (automatically
//     when auto_execute is set, or via the manual HTTP RPC) and drives
//     the two-leg placement/compensation protocol against the outbound
//     venue adapters.
//  5. The HTTP/WebSocket surface exposes all of the above to subscribers.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"arb-engine/internal/api"
	"arb-engine/internal/arbitrage"
	"arb-engine/internal/book"
	"arb-engine/internal/config"
	"arb-engine/internal/errs"
	"arb-engine/internal/eventbus"
	"arb-engine/internal/execution"
	"arb-engine/internal/outbound"
	"arb-engine/internal/resolver"
	"arb-engine/internal/store"
	"arb-engine/internal/types"
	"arb-engine/internal/venue"
)

const bookEventBuffer = 256

// Engine owns the lifecycle of every goroutine in the system.
type Engine struct {
	logger *slog.Logger

	venueA, venueB *venue.Client

	books       *book.Store
	bus         *eventbus.Bus
	store       *store.Store
	detector    *arbitrage.Detector
	coordinator *execution.Coordinator
	autoExec    *config.AutoExecuteFlag

	apiServer *api.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the Engine and every component it owns, but starts
// nothing yet — call Start for that.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(ctx, cfg.DatabaseURL, cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	venueAClient := venue.NewVenueA(cfg.VenueA.WSURL, logger)
	venueBClient, err := venue.NewVenueB(cfg.VenueB.WSURL, cfg.VenueB.APIKey, cfg.VenueB.PrivateKey, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("construct venue b client: %w", err)
	}

	outboundAClient := outbound.New(types.VenueA, cfg.VenueA.APIURL, cfg.VenueA.APIKey, logger)
	outboundBClient := outbound.New(types.VenueB, cfg.VenueB.APIURL, cfg.VenueB.APIKey, logger)

	bus := eventbus.New(logger)
	autoExec := config.NewAutoExecuteFlag(cfg.AutoExecute)
	snapshot := cfg.ToSnapshot()

	detector := arbitrage.New(st, bus, snapshot, logger)
	coordinator := execution.New(st, outboundAClient, outboundBClient, bus, cfg.MaxPositionSize, logger)
	res := resolver.New(st, cfg.SimilarityThreshold, logger)

	hub := api.NewHub(logger)
	handlers := api.NewHandlers(
		st,
		outboundAClient,
		outboundBClient,
		&syncingResolver{resolver: res, store: st, detector: detector, venueA: venueAClient, venueB: venueBClient, logger: logger},
		coordinator,
		autoExec,
		snapshot,
		nil,
		hub,
		logger,
	)
	apiServer := api.NewServer(cfg.Port, handlers, hub, bus, logger)

	return &Engine{
		logger:      logger.With("component", "engine"),
		venueA:      venueAClient,
		venueB:      venueBClient,
		books:       book.New(),
		bus:         bus,
		store:       st,
		detector:    detector,
		coordinator: coordinator,
		autoExec:    autoExec,
		apiServer:   apiServer,
	}, nil
}

// syncingResolver adapts resolver.Resolver into the api.Resolver contract,
// additionally refreshing the Detector's canonical-mapping index and
// re-issuing venue subscriptions after every sync, so markets discovered
// by a later sync get streamed, not just the ones present at startup.
type syncingResolver struct {
	resolver *resolver.Resolver
	store    *store.Store
	detector *arbitrage.Detector
	venueA   *venue.Client
	venueB   *venue.Client
	logger   *slog.Logger
}

func (s *syncingResolver) Sync(ctx context.Context, venueAMarkets, venueBMarkets []types.VenueMarket) ([]types.CanonicalMarket, error) {
	results, err := s.resolver.Sync(ctx, venueAMarkets, venueBMarkets)
	if err != nil {
		return nil, err
	}

	all, err := s.store.ListAll(ctx)
	if err != nil {
		// The sync itself already committed; a failure to refresh the index
		// just means new mappings are picked up on the next bootstrap
		// instead of immediately.
		s.logger.Error("refresh index after sync failed", "error", errs.Wrap(errs.MatchingError, "list mappings", err))
		return results, nil
	}
	idx := resolver.BuildIndex(all)
	s.detector.Bootstrap(idx, s.venueA, s.venueB)
	return results, nil
}

// Start launches all background goroutines: venue streams, book/detector
// fan-in, and the API server.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	initial, err := e.store.ListAll(e.ctx)
	if err != nil {
		return fmt.Errorf("load initial canonical mappings: %w", err)
	}
	e.detector.Bootstrap(resolver.BuildIndex(initial), e.venueA, e.venueB)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.venueA.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("venue a stream exited", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.venueB.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("venue b stream exited", "error", err)
		}
	}()

	venueABooks := make(chan types.OrderBookEvent, bookEventBuffer)
	venueBBooks := make(chan types.OrderBookEvent, bookEventBuffer)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pumpBooks(e.venueA.BookEvents(), venueABooks)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pumpBooks(e.venueB.BookEvents(), venueBBooks)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logConnectionEvents(e.venueA.ConnectionEvents())
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.logConnectionEvents(e.venueB.ConnectionEvents())
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.detector.Run(e.ctx, venueABooks, venueBBooks)
	}()

	// Always run the auto-execute consumer: auto_execute is mutable at
	// runtime, so the loop must be listening before the flag is ever
	// flipped on, not just when it starts true.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.autoExecuteLoop(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.apiServer.Start(); err != nil {
			e.logger.Error("api server exited", "error", err)
		}
	}()

	return nil
}

// pumpBooks mirrors every order-book event into the Order Book Store (one
// writer per key: this pump, on the owning venue client's behalf) before
// forwarding it to the Detector's input channel.
func (e *Engine) pumpBooks(src <-chan types.OrderBookEvent, dst chan<- types.OrderBookEvent) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-src:
			if !ok {
				return
			}
			e.books.Put(types.OrderBook{
				Venue:         evt.Venue,
				VenueMarketID: evt.VenueMarketID,
				Bids:          evt.Bids,
				Asks:          evt.Asks,
				Timestamp:     evt.Timestamp,
			})
			select {
			case dst <- evt:
			case <-e.ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) logConnectionEvents(events <-chan types.ConnectionEvent) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Kind {
			case types.ConnError:
				e.logger.Error("venue connection error", "venue", evt.Venue, "reason", evt.Reason)
			case types.ConnDisconnected:
				e.logger.Warn("venue disconnected", "venue", evt.Venue, "reason", evt.Reason)
			default:
				e.logger.Info("venue connected", "venue", evt.Venue)
			}
		}
	}
}

// autoExecuteLoop drives the Execution Coordinator automatically on every
// new opportunity when auto_execute is enabled. The flag is re-checked per
// event since it may be toggled at runtime via POST /api/config.
func (e *Engine) autoExecuteLoop(ctx context.Context) {
	ch, unsubscribe := e.bus.SubscribeOpportunities()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-ch:
			if !ok {
				return
			}
			if !e.autoExec.Get() {
				continue
			}
			if _, err := e.coordinator.Execute(ctx, opp.ID); err != nil {
				e.logger.Error("auto-execute failed", "opportunity_id", opp.ID, "error", err)
			}
		}
	}
}

// Stop gracefully shuts down: stops the API server, tears down both venue
// streams, cancels all contexts, waits for every goroutine, and closes the
// store. In-flight execution legs run to completion before the wait
// returns.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	if err := e.apiServer.Stop(); err != nil {
		e.logger.Error("api server stop failed", "error", err)
	}

	e.venueA.Disconnect()
	e.venueB.Disconnect()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if err := e.store.Close(); err != nil {
		e.logger.Error("store close failed", "error", err)
	}

	e.logger.Info("shutdown complete")
}
