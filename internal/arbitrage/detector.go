// Package arbitrage implements the arbitrage detector: the hot-path
// component that fuses per-venue order books by canonical id and emits
// ArbitrageOpportunity records.
package arbitrage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arb-engine/internal/config"
	"arb-engine/internal/errs"
	"arb-engine/internal/eventbus"
	"arb-engine/internal/resolver"
	"arb-engine/internal/types"
)

// Store is the persistence contract the Detector needs to write newly
// detected opportunities.
type Store interface {
	InsertOpportunity(ctx context.Context, o types.ArbitrageOpportunity) error
}

// Subscriber is the subset of a venue.Client the Detector needs for
// subscription bootstrap. Both venue clients satisfy it.
type Subscriber interface {
	Subscribe(venueMarketID string) error
}

// fusedBook is the latest book seen per venue for one canonical market.
// Only the newest book per venue is retained: no unbounded queue, no delta
// history, just last-write-wins per side.
type fusedBook struct {
	a, b        types.OrderBook
	hasA        bool
	hasB        bool
	lastCost    decimal.Decimal
	lastCostSet bool
	lastEmit    time.Time
}

// Detector is the Arbitrage Detector.
type Detector struct {
	store  Store
	bus    *eventbus.Bus
	logger *slog.Logger

	snapshot atomic.Pointer[config.Snapshot]
	index    atomic.Pointer[resolver.Index]

	mu    sync.Mutex
	fused map[string]*fusedBook // keyed by canonical_id
}

// New constructs a Detector. snapshot is the initial config view; it is
// re-read on every evaluate so SetSnapshot can swap parameters without
// rebuilding the Detector.
func New(store Store, bus *eventbus.Bus, snapshot config.Snapshot, logger *slog.Logger) *Detector {
	d := &Detector{
		store:  store,
		bus:    bus,
		logger: logger.With("component", "arbitrage_detector"),
		fused:  make(map[string]*fusedBook),
	}
	d.snapshot.Store(&snapshot)
	return d
}

// SetIndex atomically replaces the canonical-mapping index the Detector
// uses for lookups.
func (d *Detector) SetIndex(idx *resolver.Index) {
	d.index.Store(idx)
}

// Bootstrap installs idx and instructs each venue Subscriber to subscribe
// to every venue market id it maps.
func (d *Detector) Bootstrap(idx *resolver.Index, venueA, venueB Subscriber) {
	d.SetIndex(idx)
	for _, cm := range idx.All() {
		if cm.VenueAMarketID != "" {
			if err := venueA.Subscribe(cm.VenueAMarketID); err != nil {
				d.logger.Warn("bootstrap subscribe failed", "venue", "A", "venue_market_id", cm.VenueAMarketID, "error", err)
			}
		}
		if cm.VenueBMarketID != "" {
			if err := venueB.Subscribe(cm.VenueBMarketID); err != nil {
				d.logger.Warn("bootstrap subscribe failed", "venue", "B", "venue_market_id", cm.VenueBMarketID, "error", err)
			}
		}
	}
}

// Run consumes order-book events from both venues until ctx is cancelled
// or both channels close.
func (d *Detector) Run(ctx context.Context, venueABooks, venueBBooks <-chan types.OrderBookEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-venueABooks:
			if !ok {
				venueABooks = nil
				if venueBBooks == nil {
					return
				}
				continue
			}
			d.handleEvent(ctx, evt)
		case evt, ok := <-venueBBooks:
			if !ok {
				venueBBooks = nil
				if venueABooks == nil {
					return
				}
				continue
			}
			d.handleEvent(ctx, evt)
		}
	}
}

func (d *Detector) handleEvent(ctx context.Context, evt types.OrderBookEvent) {
	idx := d.index.Load()
	cm, ok := idx.Lookup(evt.Venue, evt.VenueMarketID)
	if !ok {
		return // no canonical mapping for this market
	}

	ob := types.OrderBook{
		Venue:         evt.Venue,
		VenueMarketID: evt.VenueMarketID,
		Bids:          evt.Bids,
		Asks:          evt.Asks,
		Timestamp:     evt.Timestamp,
	}

	d.mu.Lock()
	fb, exists := d.fused[cm.CanonicalID]
	if !exists {
		fb = &fusedBook{}
		d.fused[cm.CanonicalID] = fb
	}
	if evt.Venue == types.VenueA {
		fb.a, fb.hasA = ob, true
	} else {
		fb.b, fb.hasB = ob, true
	}
	ready := fb.hasA && fb.hasB
	var aBook, bBook types.OrderBook
	if ready {
		aBook, bBook = fb.a, fb.b
	}
	d.mu.Unlock()

	if !ready {
		return
	}
	d.evaluate(ctx, cm.CanonicalID, aBook, bBook)
}

// evaluate derives per-venue mid prices, enumerates both legs, and emits
// an opportunity if the cheaper leg clears every guardrail.
func (d *Detector) evaluate(ctx context.Context, canonicalID string, a, b types.OrderBook) {
	aMid, ok := a.MidPrice()
	if !ok {
		return // empty order book on either side, no opportunity
	}
	bMid, ok := b.MidPrice()
	if !ok {
		return
	}

	aYes, aNo := aMid, decimal.NewFromInt(1).Sub(aMid)
	bYes, bNo := bMid, decimal.NewFromInt(1).Sub(bMid)

	aDepth := a.Depth()
	bDepth := b.Depth()

	// Leg 1: buy YES on A + buy NO on B. Leg 2: buy NO on A + buy YES on B.
	leg1Cost := aYes.Add(bNo)
	leg2Cost := aNo.Add(bYes)

	var combinedCost decimal.Decimal
	var legASide, legBSide types.Outcome
	if leg1Cost.LessThanOrEqual(leg2Cost) {
		combinedCost, legASide, legBSide = leg1Cost, types.YES, types.NO
	} else {
		combinedCost, legASide, legBSide = leg2Cost, types.NO, types.YES
	}

	snap := *d.snapshot.Load()
	threshold := decimal.NewFromFloat(snap.ArbThreshold)
	if combinedCost.GreaterThanOrEqual(threshold) {
		return // combined_cost must be strictly below the threshold
	}

	recommendedSize := decimal.Min(aDepth, bDepth, decimal.NewFromFloat(snap.MaxPositionSize))
	minLiquidity := decimal.NewFromFloat(snap.MinLiquidity)
	if recommendedSize.LessThan(minLiquidity) {
		return // insufficient liquidity, suppress silently
	}

	feeRate := decimal.NewFromFloat(snap.VenueAFeeRate).Add(decimal.NewFromFloat(snap.VenueBFeeRate))
	estimatedFees := recommendedSize.Mul(feeRate)
	grossProfit := recommendedSize.Mul(decimal.NewFromInt(1).Sub(combinedCost))
	netProfit := grossProfit.Sub(estimatedFees)
	if netProfit.LessThanOrEqual(decimal.Zero) {
		return
	}

	if !d.shouldEmit(canonicalID, combinedCost) {
		return
	}

	opp := types.ArbitrageOpportunity{
		ID:              newOpportunityID(),
		CanonicalID:     canonicalID,
		VenueAMarketID:  a.VenueMarketID,
		VenueBMarketID:  b.VenueMarketID,
		CombinedCost:    combinedCost,
		ProfitPotential: decimal.NewFromInt(1).Sub(combinedCost),
		VenueAPrices:    types.VenuePrices{Yes: aYes, No: aNo},
		VenueBPrices:    types.VenuePrices{Yes: bYes, No: bNo},
		LegASide:        legASide,
		LegBSide:        legBSide,
		RecommendedSize: recommendedSize,
		EstimatedFees:   estimatedFees,
		NetProfit:       netProfit,
		DetectedAt:      time.Now(),
		Status:          types.StatusDetected,
	}

	if err := d.store.InsertOpportunity(ctx, opp); err != nil {
		// A write failure logs and continues: the opportunity is lost, not
		// corrupted.
		d.logger.Error("persist opportunity failed", "canonical_id", canonicalID, "error", errs.Wrap(errs.DataStoreError, "insert opportunity", err))
		return
	}

	d.bus.PublishOpportunity(opp)
}

// shouldEmit applies the duplicate-suppression policy: emit only if
// combined_cost differs from the previous emission by more than 0.0005, or
// more than 1s has elapsed.
func (d *Detector) shouldEmit(canonicalID string, combinedCost decimal.Decimal) bool {
	const costEpsilon = 0.0005
	const timeEpsilon = time.Second

	d.mu.Lock()
	defer d.mu.Unlock()

	fb, ok := d.fused[canonicalID]
	if !ok {
		fb = &fusedBook{}
		d.fused[canonicalID] = fb
	}
	if !fb.lastCostSet {
		fb.lastCost, fb.lastCostSet, fb.lastEmit = combinedCost, true, time.Now()
		return true
	}

	diff := combinedCost.Sub(fb.lastCost).Abs()
	elapsed := time.Since(fb.lastEmit)
	if diff.GreaterThan(decimal.NewFromFloat(costEpsilon)) || elapsed > timeEpsilon {
		fb.lastCost, fb.lastEmit = combinedCost, time.Now()
		return true
	}
	return false
}

// SetSnapshot updates the Detector's config view.
func (d *Detector) SetSnapshot(snapshot config.Snapshot) {
	d.snapshot.Store(&snapshot)
}

func newOpportunityID() string {
	return "opp-" + uuid.New().String()
}
