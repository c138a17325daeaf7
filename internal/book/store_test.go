package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/types"
)

func lvl(price, size float64) types.PriceLevel {
	return types.PriceLevel{Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size)}
}

func TestGetAbsentIsNotError(t *testing.T) {
	t.Parallel()
	s := New()

	_, ok := s.Get(types.VenueA, "unknown")
	if ok {
		t.Error("Get on unknown key should return ok=false")
	}
}

func TestPutThenGet(t *testing.T) {
	t.Parallel()
	s := New()

	ob := types.OrderBook{
		Venue:         types.VenueA,
		VenueMarketID: "m1",
		Bids:          []types.PriceLevel{lvl(0.44, 1000)},
		Asks:          []types.PriceLevel{lvl(0.46, 1000)},
		Timestamp:     time.Now(),
	}
	s.Put(ob)

	got, ok := s.Get(types.VenueA, "m1")
	if !ok {
		t.Fatal("Get returned ok=false after Put")
	}
	if !got.Bids[0].Price.Equal(decimal.NewFromFloat(0.44)) {
		t.Errorf("bid price = %v, want 0.44", got.Bids[0].Price)
	}

	// Same venue_market_id on the other venue is a distinct key.
	_, ok = s.Get(types.VenueB, "m1")
	if ok {
		t.Error("Get for a different venue at the same id should return ok=false")
	}
}

func TestPutReplacesAtomically(t *testing.T) {
	t.Parallel()
	s := New()

	s.Put(types.OrderBook{Venue: types.VenueA, VenueMarketID: "m1", Bids: []types.PriceLevel{lvl(0.40, 100)}})
	s.Put(types.OrderBook{Venue: types.VenueA, VenueMarketID: "m1", Bids: []types.PriceLevel{lvl(0.50, 200)}})

	got, _ := s.Get(types.VenueA, "m1")
	if len(got.Bids) != 1 || !got.Bids[0].Price.Equal(decimal.NewFromFloat(0.50)) {
		t.Errorf("expected full replacement, got %+v", got.Bids)
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()
	s := New()

	if !s.IsStale(types.VenueA, "missing", time.Second) {
		t.Error("missing key should be stale")
	}

	s.Put(types.OrderBook{Venue: types.VenueA, VenueMarketID: "m1", Timestamp: time.Now()})
	if s.IsStale(types.VenueA, "m1", time.Second) {
		t.Error("just-written book should not be stale")
	}

	s.Put(types.OrderBook{Venue: types.VenueA, VenueMarketID: "m2", Timestamp: time.Now().Add(-time.Hour)})
	if !s.IsStale(types.VenueA, "m2", time.Second) {
		t.Error("hour-old book should be stale against a 1s bound")
	}
}
