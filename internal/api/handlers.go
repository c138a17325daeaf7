// Package api is the HTTP/WebSocket surface: a plain http.ServeMux, one
// Handlers struct holding every dependency, and a gorilla/websocket Hub
// fanning out JSON frames to dashboard subscribers.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"arb-engine/internal/config"
	"arb-engine/internal/errs"
	"arb-engine/internal/types"
)

const defaultListLimit = 100

// Store is the read contract the API needs.
type Store interface {
	ListOpportunities(ctx context.Context, limit int) ([]types.ArbitrageOpportunity, error)
	ListActiveOpportunities(ctx context.Context) ([]types.ArbitrageOpportunity, error)
	ListCanonicalMarkets(ctx context.Context) ([]types.CanonicalMarket, error)
	ListTrades(ctx context.Context, limit int) ([]types.Trade, error)
	GetOpportunity(ctx context.Context, id string) (types.ArbitrageOpportunity, bool, error)
}

// MarketLister is the per-venue market-listing call used by market-sync.
// Both outbound.Client instances satisfy it.
type MarketLister interface {
	ListMarkets(ctx context.Context) ([]types.VenueMarket, error)
}

// Resolver is the subset of the Market Identity Resolver the sync endpoint
// drives.
type Resolver interface {
	Sync(ctx context.Context, venueAMarkets, venueBMarkets []types.VenueMarket) ([]types.CanonicalMarket, error)
}

// Coordinator is the subset of the Execution Coordinator the execute/cancel
// endpoints drive.
type Coordinator interface {
	Execute(ctx context.Context, opportunityID string) (types.ExecutionResult, error)
	CancelExecution(ctx context.Context, opportunityID string) error
}

// Handlers holds every HTTP handler's dependencies.
type Handlers struct {
	store          Store
	venueA, venueB MarketLister
	resolver       Resolver
	coordinator    Coordinator
	autoExecute    *config.AutoExecuteFlag
	snapshot       config.Snapshot
	allowedOrigins []string
	hub            *Hub
	logger         *slog.Logger
}

// NewHandlers builds a Handlers instance.
func NewHandlers(store Store, venueA, venueB MarketLister, resolver Resolver, coordinator Coordinator, autoExecute *config.AutoExecuteFlag, snapshot config.Snapshot, allowedOrigins []string, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:          store,
		venueA:         venueA,
		venueB:         venueB,
		resolver:       resolver,
		coordinator:    coordinator,
		autoExecute:    autoExecute,
		snapshot:       snapshot,
		allowedOrigins: allowedOrigins,
		hub:            hub,
		logger:         logger.With("component", "api_handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeErr maps a typed error to its stable HTTP status.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, errs.HTTPStatus(err), err.Error())
}

// HandleHealth implements GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "arb-engine",
	})
}

// HandleOpportunities implements GET /api/opportunities?limit=N.
func (h *Handlers) HandleOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultListLimit)
	opps, err := h.store.ListOpportunities(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

// HandleActiveOpportunities implements GET /api/opportunities/active.
func (h *Handlers) HandleActiveOpportunities(w http.ResponseWriter, r *http.Request) {
	opps, err := h.store.ListActiveOpportunities(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

// HandleMarkets implements GET /api/markets.
func (h *Handlers) HandleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.store.ListCanonicalMarkets(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// HandleMarketsSync implements POST /api/markets/sync: fetches every
// active market from both venues, then runs the Resolver.
func (h *Handlers) HandleMarketsSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aMarkets, err := h.venueA.ListMarkets(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	bMarkets, err := h.venueB.ListMarkets(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	results, err := h.resolver.Sync(ctx, aMarkets, bMarkets)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{Message: "synced " + strconv.Itoa(len(results)) + " canonical markets"})
}

// HandleTrades implements GET /api/trades?limit=N.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultListLimit)
	trades, err := h.store.ListTrades(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleExecute implements POST /api/execute/:opportunity_id. It refuses
// with 403 when auto_execute is false and 404 when the opportunity isn't
// active.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request, opportunityID string) {
	if !h.autoExecute.Get() {
		writeError(w, http.StatusForbidden, "auto_execute is disabled")
		return
	}

	opp, ok, err := h.store.GetOpportunity(r.Context(), opportunityID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok || opp.Status != types.StatusDetected {
		writeError(w, http.StatusNotFound, "opportunity not active")
		return
	}

	result, err := h.coordinator.Execute(r.Context(), opportunityID)
	if result.OpportunityID == "" {
		// Execute never reached order placement: a precondition failed
		// before any ExecutionResult existed.
		writeErr(w, err)
		return
	}
	// Execute reached a terminal outcome (success or the compensation
	// branch); the result body carries that outcome either way, so a
	// non-nil err here is not itself an HTTP-level failure.
	writeJSON(w, http.StatusOK, result)
}

// HandleCancelExecution implements POST /api/execute/:opportunity_id/cancel.
func (h *Handlers) HandleCancelExecution(w http.ResponseWriter, r *http.Request, opportunityID string) {
	if err := h.coordinator.CancelExecution(r.Context(), opportunityID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "cancelled"})
}

// HandleGetConfig implements GET /api/config.
func (h *Handlers) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewConfigResponse(h.snapshot, h.autoExecute.Get()))
}

// HandleUpdateConfig implements POST /api/config: only {auto_execute: bool}
// is accepted; any other field is a 400.
func (h *Handlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ConfigUpdateRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be exactly {\"auto_execute\": bool}")
		return
	}
	if req.AutoExecute == nil {
		writeError(w, http.StatusBadRequest, "auto_execute is required")
		return
	}

	h.autoExecute.Set(*req.AutoExecute)
	writeJSON(w, http.StatusOK, NewConfigResponse(h.snapshot, h.autoExecute.Get()))
}

// HandleWebSocket upgrades the connection and registers a new push-channel
// client.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	// Send initial state so the client renders before the first live event.
	snapshot := BuildSnapshot(r.Context(), h.store, h.snapshot, h.autoExecute.Get(), h.logger)
	data, err := json.Marshal(wsMessage{Type: wsTypeConnected, Data: snapshot})
	if err != nil {
		h.logger.Error("failed to marshal connected snapshot", "error", err)
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send connected snapshot to client")
	}
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
