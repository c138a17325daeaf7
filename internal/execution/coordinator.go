// Package execution implements the execution coordinator: two-leg
// concurrent order placement with all-or-nothing-style compensation on
// partial failure, reconciliation, and cancellation.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"arb-engine/internal/errs"
	"arb-engine/internal/eventbus"
	"arb-engine/internal/outbound"
	"arb-engine/internal/types"
)

// Store is the persistence contract the Coordinator needs.
type Store interface {
	// GetOpportunity loads one opportunity by id.
	GetOpportunity(ctx context.Context, id string) (types.ArbitrageOpportunity, bool, error)
	// TransitionOpportunity performs a guarded status change: it succeeds
	// only if the opportunity's current status equals from. Returns
	// ok=false (no error) if the guard failed.
	TransitionOpportunity(ctx context.Context, id string, from, to types.OpportunityStatus) (ok bool, err error)
	// InsertTrade persists a new Trade row.
	InsertTrade(ctx context.Context, t types.Trade) error
	// ListTradesByOpportunity returns every trade leg for an opportunity.
	ListTradesByOpportunity(ctx context.Context, opportunityID string) ([]types.Trade, error)
	// UpdateTradeStatus moves a trade to a terminal or intermediate status.
	UpdateTradeStatus(ctx context.Context, tradeID string, status types.TradeStatus, errorMessage string) error
}

// OutboundClient is the per-venue REST surface the Coordinator drives.
// Both venues' *outbound.Client satisfy it.
type OutboundClient interface {
	PlaceOrder(ctx context.Context, req outbound.OrderRequest) (outbound.OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (outbound.OrderStatus, error)
}

// legResult is the outcome of one place_order call.
type legResult struct {
	venue       types.Venue
	marketID    string
	side        types.Outcome
	size        decimal.Decimal
	price       decimal.Decimal
	resp        outbound.OrderResponse
	err         error
	ownerClient OutboundClient // the client the order was placed through, for compensation
}

// Coordinator is the Execution Coordinator.
type Coordinator struct {
	store  Store
	venueA OutboundClient
	venueB OutboundClient
	bus    *eventbus.Bus
	logger *slog.Logger

	maxPositionSize decimal.Decimal

	inflightMu sync.Mutex
	inflight   map[string]bool
}

// New constructs a Coordinator. venueA/venueB are the outbound adapters,
// one per venue.
func New(store Store, venueA, venueB OutboundClient, bus *eventbus.Bus, maxPositionSize float64, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:           store,
		venueA:          venueA,
		venueB:          venueB,
		bus:             bus,
		logger:          logger.With("component", "execution_coordinator"),
		maxPositionSize: decimal.NewFromFloat(maxPositionSize),
		inflight:        make(map[string]bool),
	}
}

// Execute runs the two-leg placement protocol for opportunityID. It is the
// target of both the manual execute RPC and, when auto_execute is enabled,
// automatic dispatch on every new opportunity event.
func (c *Coordinator) Execute(ctx context.Context, opportunityID string) (types.ExecutionResult, error) {
	opp, ok, err := c.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return types.ExecutionResult{}, errs.Wrap(errs.DataStoreError, "load opportunity", err)
	}
	if !ok {
		return types.ExecutionResult{}, errs.New(errs.DataStoreError, "opportunity not found")
	}
	if opp.Status != types.StatusDetected {
		return types.ExecutionResult{}, errs.New(errs.TradingError, fmt.Sprintf("opportunity not in detected state: %s", opp.Status))
	}
	if opp.RecommendedSize.GreaterThan(c.maxPositionSize) {
		return types.ExecutionResult{}, errs.New(errs.SizeLimitExceeded, "recommended size exceeds max position size")
	}

	if !c.tryMarkInflight(opportunityID) {
		return types.ExecutionResult{}, errs.New(errs.DuplicateExecution, "opportunity already executing")
	}
	defer c.clearInflight(opportunityID)

	ok, err = c.store.TransitionOpportunity(ctx, opportunityID, types.StatusDetected, types.StatusExecuting)
	if err != nil {
		return types.ExecutionResult{}, errs.Wrap(errs.DataStoreError, "transition to executing", err)
	}
	if !ok {
		return types.ExecutionResult{}, errs.New(errs.DuplicateExecution, "opportunity already executing")
	}

	legA := legSpec{venue: types.VenueA, client: c.venueA, marketID: opp.VenueAMarketID, side: opp.LegASide, price: priceFor(opp.VenueAPrices, opp.LegASide)}
	legB := legSpec{venue: types.VenueB, client: c.venueB, marketID: opp.VenueBMarketID, side: opp.LegBSide, price: priceFor(opp.VenueBPrices, opp.LegBSide)}

	if err := validateLeg(legA, opp.RecommendedSize, c.maxPositionSize); err != nil {
		return c.failBoth(ctx, opp, err)
	}
	if err := validateLeg(legB, opp.RecommendedSize, c.maxPositionSize); err != nil {
		return c.failBoth(ctx, opp, err)
	}

	results := c.placeLegs(ctx, opp.RecommendedSize, legA, legB)
	return c.resolveOutcome(ctx, opp, results)
}

type legSpec struct {
	venue    types.Venue
	client   OutboundClient
	marketID string
	side     types.Outcome
	price    decimal.Decimal
}

func priceFor(p types.VenuePrices, side types.Outcome) decimal.Decimal {
	if side == types.YES {
		return p.Yes
	}
	return p.No
}

// validateLeg enforces the safety invariants before any call reaches the
// network: price in [0,1], size <= max_position_size.
func validateLeg(leg legSpec, size, maxPositionSize decimal.Decimal) error {
	zero, one := decimal.Zero, decimal.NewFromInt(1)
	if leg.price.LessThan(zero) || leg.price.GreaterThan(one) {
		return errs.New(errs.TradingError, fmt.Sprintf("leg price %s out of [0,1] range", leg.price))
	}
	if size.GreaterThan(maxPositionSize) {
		return errs.New(errs.SizeLimitExceeded, fmt.Sprintf("leg size %s exceeds max position size %s", size, maxPositionSize))
	}
	return nil
}

// placeLegs issues both place_order calls concurrently and waits for both
// outcomes.
func (c *Coordinator) placeLegs(ctx context.Context, size decimal.Decimal, legA, legB legSpec) [2]legResult {
	var results [2]legResult
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	place := func(idx int, leg legSpec) func() error {
		return func() error {
			resp, err := leg.client.PlaceOrder(gctx, outbound.OrderRequest{
				VenueMarketID: leg.marketID,
				Side:          leg.side,
				Size:          size,
				Price:         leg.price,
			})
			results[idx] = legResult{venue: leg.venue, marketID: leg.marketID, side: leg.side, size: size, price: leg.price, resp: resp, err: err, ownerClient: leg.client}
			return nil // errors are carried in legResult, not propagated, so both legs always run to completion
		}
	}
	g.Go(place(0, legA))
	g.Go(place(1, legB))
	_ = g.Wait()

	return results
}

// resolveOutcome routes the leg results: both succeeded, one succeeded
// (compensate), or both failed.
func (c *Coordinator) resolveOutcome(ctx context.Context, opp types.ArbitrageOpportunity, results [2]legResult) (types.ExecutionResult, error) {
	a, b := results[0], results[1]

	switch {
	case a.err == nil && b.err == nil:
		return c.succeedBoth(ctx, opp, a, b)
	case a.err == nil && b.err != nil:
		return c.compensate(ctx, opp, a, b)
	case a.err != nil && b.err == nil:
		return c.compensate(ctx, opp, b, a)
	default:
		return c.failBoth(ctx, opp, fmt.Errorf("both legs failed: venue A: %v, venue B: %v", a.err, b.err))
	}
}

// succeedBoth persists two pending trades, marks the opportunity executed,
// and publishes execution_success.
func (c *Coordinator) succeedBoth(ctx context.Context, opp types.ArbitrageOpportunity, a, b legResult) (types.ExecutionResult, error) {
	trades := []types.Trade{
		newTrade(opp.ID, a),
		newTrade(opp.ID, b),
	}
	for _, t := range trades {
		if err := c.store.InsertTrade(ctx, t); err != nil {
			c.logger.Error("persist trade failed", "opportunity_id", opp.ID, "error", err)
		}
	}
	if _, err := c.store.TransitionOpportunity(ctx, opp.ID, types.StatusExecuting, types.StatusExecuted); err != nil {
		c.logger.Error("transition to executed failed", "opportunity_id", opp.ID, "error", err)
	}

	result := types.ExecutionResult{OpportunityID: opp.ID, Outcome: types.ExecutionSuccess, Trades: trades}
	c.bus.PublishExecution(result)
	return result, nil
}

// compensate handles the partial-failure case: the successful leg is
// best-effort cancelled, its outcome recorded regardless of whether the
// cancel itself succeeds, and the opportunity moves to expired.
func (c *Coordinator) compensate(ctx context.Context, opp types.ArbitrageOpportunity, succeeded, failed legResult) (types.ExecutionResult, error) {
	succeededTrade := newTrade(opp.ID, succeeded)
	if err := c.store.InsertTrade(ctx, succeededTrade); err != nil {
		c.logger.Error("persist trade failed", "opportunity_id", opp.ID, "error", err)
	}

	cancelErr := succeeded.ownerClient.CancelOrder(ctx, succeeded.resp.OrderID)
	if cancelErr != nil {
		// Best-effort: record the error but still proceed to terminal state.
		c.logger.Error("compensating cancel failed", "opportunity_id", opp.ID, "venue", succeeded.venue, "order_id", succeeded.resp.OrderID, "error", cancelErr)
		_ = c.store.UpdateTradeStatus(ctx, succeededTrade.ID, types.TradeFailed, cancelErr.Error())
	} else {
		_ = c.store.UpdateTradeStatus(ctx, succeededTrade.ID, types.TradeCancelled, "")
	}

	failedTrade := newTrade(opp.ID, failed)
	failedTrade.Status = types.TradeFailed
	failedTrade.ErrorMessage = failed.err.Error()
	if err := c.store.InsertTrade(ctx, failedTrade); err != nil {
		c.logger.Error("persist trade failed", "opportunity_id", opp.ID, "error", err)
	}

	if _, err := c.store.TransitionOpportunity(ctx, opp.ID, types.StatusExecuting, types.StatusExpired); err != nil {
		c.logger.Error("transition to expired failed", "opportunity_id", opp.ID, "error", err)
	}

	result := types.ExecutionResult{
		OpportunityID: opp.ID,
		Outcome:       types.ExecutionFailed,
		Trades:        []types.Trade{succeededTrade, failedTrade},
		Error:         failed.err.Error(),
	}
	c.bus.PublishExecution(result)
	return result, errs.New(errs.TradingError, "execution failed: one leg rejected")
}

// failBoth handles the both-legs-failed case.
func (c *Coordinator) failBoth(ctx context.Context, opp types.ArbitrageOpportunity, cause error) (types.ExecutionResult, error) {
	if _, err := c.store.TransitionOpportunity(ctx, opp.ID, types.StatusExecuting, types.StatusExpired); err != nil {
		c.logger.Error("transition to expired failed", "opportunity_id", opp.ID, "error", err)
	}
	result := types.ExecutionResult{OpportunityID: opp.ID, Outcome: types.ExecutionFailed, Error: cause.Error()}
	c.bus.PublishExecution(result)
	return result, errs.Wrap(errs.TradingError, "execution failed", cause)
}

func newTrade(opportunityID string, r legResult) types.Trade {
	return types.Trade{
		ID:            newTradeID(),
		OpportunityID: opportunityID,
		Venue:         r.venue,
		VenueMarketID: r.marketID,
		Side:          r.side,
		Amount:        r.size,
		Price:         r.price,
		OrderID:       r.resp.OrderID,
		Status:        types.TradePending,
	}
}

func newTradeID() string {
	return "trade-" + uuid.New().String()
}

// CheckOrderStatuses reconciles every pending trade leg of opportunityID
// against each venue's order-status endpoint. Idempotent: re-running it
// after a trade has already reached a terminal status leaves that trade
// unchanged.
func (c *Coordinator) CheckOrderStatuses(ctx context.Context, opportunityID string) error {
	trades, err := c.store.ListTradesByOpportunity(ctx, opportunityID)
	if err != nil {
		return errs.Wrap(errs.DataStoreError, "list trades", err)
	}

	for _, t := range trades {
		if t.Status != types.TradePending || t.OrderID == "" {
			continue
		}
		client := c.venueA
		if t.Venue == types.VenueB {
			client = c.venueB
		}

		status, err := client.GetOrderStatus(ctx, t.OrderID)
		if err != nil {
			c.logger.Error("get order status failed", "trade_id", t.ID, "error", err)
			continue
		}

		switch {
		case status.Filled:
			_ = c.store.UpdateTradeStatus(ctx, t.ID, types.TradeFilled, "")
		case status.Pending:
			// leave as pending
		default:
			_ = c.store.UpdateTradeStatus(ctx, t.ID, types.TradeCancelled, "")
		}
	}
	return nil
}

// CancelExecution issues cancel_order for every pending leg of
// opportunityID and moves the opportunity to expired. Idempotent: calling
// it twice leaves the store in the same state as calling it once.
func (c *Coordinator) CancelExecution(ctx context.Context, opportunityID string) error {
	trades, err := c.store.ListTradesByOpportunity(ctx, opportunityID)
	if err != nil {
		return errs.Wrap(errs.DataStoreError, "list trades", err)
	}

	for _, t := range trades {
		if t.Status != types.TradePending || t.OrderID == "" {
			continue
		}
		client := c.venueA
		if t.Venue == types.VenueB {
			client = c.venueB
		}
		if err := client.CancelOrder(ctx, t.OrderID); err != nil {
			c.logger.Error("cancel order failed", "trade_id", t.ID, "error", err)
			_ = c.store.UpdateTradeStatus(ctx, t.ID, types.TradeFailed, err.Error())
			continue
		}
		_ = c.store.UpdateTradeStatus(ctx, t.ID, types.TradeCancelled, "")
	}

	opp, ok, err := c.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return errs.Wrap(errs.DataStoreError, "load opportunity", err)
	}
	if !ok || opp.Status == types.StatusExpired {
		return nil // already expired: cancel_execution is idempotent
	}
	_, err = c.store.TransitionOpportunity(ctx, opportunityID, opp.Status, types.StatusExpired)
	if err != nil {
		return errs.Wrap(errs.DataStoreError, "transition to expired", err)
	}
	return nil
}

func (c *Coordinator) tryMarkInflight(opportunityID string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	if c.inflight[opportunityID] {
		return false
	}
	c.inflight[opportunityID] = true
	return true
}

func (c *Coordinator) clearInflight(opportunityID string) {
	c.inflightMu.Lock()
	delete(c.inflight, opportunityID)
	c.inflightMu.Unlock()
}
