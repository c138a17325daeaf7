package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/config"
	"arb-engine/internal/eventbus"
	"arb-engine/internal/resolver"
	"arb-engine/internal/types"
)

type fakeStore struct {
	mu   sync.Mutex
	opps []types.ArbitrageOpportunity
}

func (f *fakeStore) InsertOpportunity(_ context.Context, o types.ArbitrageOpportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opps = append(f.opps, o)
	return nil
}

func (f *fakeStore) all() []types.ArbitrageOpportunity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.ArbitrageOpportunity, len(f.opps))
	copy(out, f.opps)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() config.Snapshot {
	return config.Snapshot{
		ArbThreshold:        0.98,
		MinLiquidity:        1000,
		MaxPositionSize:     5000,
		VenueAFeeRate:       0.02,
		VenueBFeeRate:       0.02,
		SimilarityThreshold: 0.85,
	}
}

func bookFrom(venue types.Venue, id string, bid, ask, size float64) types.OrderBook {
	return types.OrderBook{
		Venue:         venue,
		VenueMarketID: id,
		Bids:          []types.PriceLevel{{Price: decimal.NewFromFloat(bid), Size: decimal.NewFromFloat(size / 2)}},
		Asks:          []types.PriceLevel{{Price: decimal.NewFromFloat(ask), Size: decimal.NewFromFloat(size / 2)}},
		Timestamp:     time.Now(),
	}
}

func setup(t *testing.T) (*Detector, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	bus := eventbus.New(testLogger())
	d := New(store, bus, testSnapshot(), testLogger())
	idx := resolver.BuildIndex([]types.CanonicalMarket{
		{CanonicalID: "c1", VenueAMarketID: "A1", VenueBMarketID: "B1"},
	})
	d.SetIndex(idx)
	return d, store
}

func TestEvaluateSimpleArbitrage(t *testing.T) {
	t.Parallel()
	d, store := setup(t)

	a := bookFrom(types.VenueA, "A1", 0.44, 0.46, 2000)
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 3000)
	d.evaluate(context.Background(), "c1", a, b)

	opps := store.all()
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	o := opps[0]
	if !o.CombinedCost.Equal(decimal.NewFromFloat(0.95)) {
		t.Errorf("combined_cost = %v, want 0.95", o.CombinedCost)
	}
	if !o.ProfitPotential.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("profit_potential = %v, want 0.05", o.ProfitPotential)
	}
	if !o.RecommendedSize.Equal(decimal.NewFromFloat(2000)) {
		t.Errorf("recommended_size = %v, want 2000", o.RecommendedSize)
	}
	if !o.EstimatedFees.Equal(decimal.NewFromFloat(80)) {
		t.Errorf("estimated_fees = %v, want 80", o.EstimatedFees)
	}
	if !o.NetProfit.Equal(decimal.NewFromFloat(20)) {
		t.Errorf("net_profit = %v, want 20", o.NetProfit)
	}
	if o.LegASide != types.YES || o.LegBSide != types.NO {
		t.Errorf("legs = %v/%v, want YES/NO", o.LegASide, o.LegBSide)
	}
	if o.Status != types.StatusDetected {
		t.Errorf("status = %v, want detected", o.Status)
	}
}

// combined_cost == 1.00 >= threshold: no opportunity.
func TestEvaluateNoArbitrage(t *testing.T) {
	t.Parallel()
	d, store := setup(t)

	a := bookFrom(types.VenueA, "A1", 0.49, 0.51, 2000)
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 3000)
	d.evaluate(context.Background(), "c1", a, b)

	if len(store.all()) != 0 {
		t.Errorf("expected no opportunity, got %d", len(store.all()))
	}
}

// recommended_size < min_liquidity: no opportunity.
func TestEvaluateInsufficientLiquidity(t *testing.T) {
	t.Parallel()
	d, store := setup(t)

	a := bookFrom(types.VenueA, "A1", 0.44, 0.46, 500)
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 500)
	d.evaluate(context.Background(), "c1", a, b)

	if len(store.all()) != 0 {
		t.Errorf("expected no opportunity for insufficient liquidity, got %d", len(store.all()))
	}
}

func TestEvaluateCombinedCostEqualsThresholdIsRejected(t *testing.T) {
	t.Parallel()
	d, store := setup(t)
	d.SetSnapshot(config.Snapshot{ArbThreshold: 0.95, MinLiquidity: 100, MaxPositionSize: 5000, VenueAFeeRate: 0, VenueBFeeRate: 0})

	// Construct a book pair whose cheaper leg is exactly 0.95.
	a := bookFrom(types.VenueA, "A1", 0.44, 0.46, 2000) // yes mid 0.45
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 2000) // no = 1-0.5 = 0.5 -> combined 0.95
	d.evaluate(context.Background(), "c1", a, b)

	if len(store.all()) != 0 {
		t.Errorf("combined_cost == arb_threshold must be rejected (strict inequality), got %d opportunities", len(store.all()))
	}
}

func TestEvaluateEmptyBookYieldsNoOpportunity(t *testing.T) {
	t.Parallel()
	d, store := setup(t)

	a := types.OrderBook{Venue: types.VenueA, VenueMarketID: "A1"} // no bids/asks
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 3000)
	d.evaluate(context.Background(), "c1", a, b)

	if len(store.all()) != 0 {
		t.Errorf("empty book should yield no opportunity, got %d", len(store.all()))
	}
}

func TestDuplicateSuppressionByEpsilon(t *testing.T) {
	t.Parallel()
	d, store := setup(t)

	a := bookFrom(types.VenueA, "A1", 0.44, 0.46, 2000)
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 3000)
	d.evaluate(context.Background(), "c1", a, b)
	d.evaluate(context.Background(), "c1", a, b) // identical cost, immediate re-evaluate

	if len(store.all()) != 1 {
		t.Errorf("expected duplicate suppressed, got %d opportunities", len(store.all()))
	}
}

func TestDuplicateEmittedWhenCostShiftsBeyondEpsilon(t *testing.T) {
	t.Parallel()
	d, store := setup(t)

	a := bookFrom(types.VenueA, "A1", 0.44, 0.46, 2000)
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 3000)
	d.evaluate(context.Background(), "c1", a, b)

	b2 := bookFrom(types.VenueB, "B1", 0.50, 0.52, 3000) // combined_cost 0.95 -> 0.94, well beyond 0.0005, net profit still positive
	d.evaluate(context.Background(), "c1", a, b2)

	if len(store.all()) != 2 {
		t.Errorf("expected 2 opportunities after cost shift, got %d", len(store.all()))
	}
}

func TestRecommendedSizeExactlyMinLiquidityIsAdmitted(t *testing.T) {
	t.Parallel()
	d, store := setup(t)
	d.SetSnapshot(config.Snapshot{ArbThreshold: 0.98, MinLiquidity: 1000, MaxPositionSize: 5000, VenueAFeeRate: 0, VenueBFeeRate: 0})

	a := bookFrom(types.VenueA, "A1", 0.44, 0.46, 2000) // depth 2000
	b := bookFrom(types.VenueB, "B1", 0.49, 0.51, 1000) // depth 1000 == min_liquidity
	d.evaluate(context.Background(), "c1", a, b)

	if len(store.all()) != 1 {
		t.Fatalf("recommended_size == min_liquidity should be admitted, got %d opportunities", len(store.all()))
	}
}

func TestHandleEventIgnoresUnmappedMarket(t *testing.T) {
	t.Parallel()
	d, _ := setup(t)

	d.handleEvent(context.Background(), types.OrderBookEvent{Venue: types.VenueA, VenueMarketID: "unmapped"})
	// No panic, no state created for an id with no canonical mapping.
	d.mu.Lock()
	_, exists := d.fused["unmapped"]
	d.mu.Unlock()
	if exists {
		t.Error("handleEvent should not create fused state for an unmapped venue_market_id")
	}
}
