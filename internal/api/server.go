package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arb-engine/internal/eventbus"
)

// Server runs the HTTP/WebSocket surface: a plain http.ServeMux wired to
// Handlers, plus the Hub's broadcast loop and goroutines fanning out event
// bus messages to it. NewServer builds the mux and *http.Server; Start and
// Stop own its lifecycle.
type Server struct {
	handlers *Handlers
	hub      *Hub
	bus      *eventbus.Bus
	server   *http.Server
	logger   *slog.Logger

	cancel context.CancelFunc
}

// NewServer builds the Server and its route table.
func NewServer(port int, handlers *Handlers, hub *Hub, bus *eventbus.Bus, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/opportunities", handlers.HandleOpportunities)
	mux.HandleFunc("GET /api/opportunities/active", handlers.HandleActiveOpportunities)
	mux.HandleFunc("GET /api/markets", handlers.HandleMarkets)
	mux.HandleFunc("POST /api/markets/sync", handlers.HandleMarketsSync)
	mux.HandleFunc("GET /api/trades", handlers.HandleTrades)
	mux.HandleFunc("POST /api/execute/{id}", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleExecute(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/execute/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		handlers.HandleCancelExecution(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/config", handlers.HandleGetConfig)
	mux.HandleFunc("POST /api/config", handlers.HandleUpdateConfig)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		hub:      hub,
		bus:      bus,
		server:   httpServer,
		logger:   logger.With("component", "api_server"),
	}
}

// Start runs the hub loop, the bus-to-hub event pumps, and blocks serving
// HTTP until Stop shuts the listener down.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.hub.Run()
	go s.pumpOpportunities(ctx)
	go s.pumpExecutions(ctx)

	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP listener down and stops the bus pumps.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// pumpOpportunities relays event bus opportunity events to every connected
// WebSocket client.
func (s *Server) pumpOpportunities(ctx context.Context) {
	ch, unsubscribe := s.bus.SubscribeOpportunities()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-ch:
			if !ok {
				return
			}
			s.hub.BroadcastOpportunity(o)
		}
	}
}

// pumpExecutions relays event bus execution results to every connected
// WebSocket client.
func (s *Server) pumpExecutions(ctx context.Context) {
	ch, unsubscribe := s.bus.SubscribeExecutions()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			s.hub.BroadcastExecution(r)
		}
	}
}
