package resolver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"arb-engine/internal/types"
)

type fakeStore struct {
	byID map[string]types.CanonicalMarket
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[string]types.CanonicalMarket)}
}

func (f *fakeStore) GetByCanonicalID(_ context.Context, id string) (types.CanonicalMarket, bool, error) {
	cm, ok := f.byID[id]
	return cm, ok, nil
}

func (f *fakeStore) Upsert(_ context.Context, cm types.CanonicalMarket) error {
	if existing, ok := f.byID[cm.CanonicalID]; ok && existing.Title != "" {
		cm.Title = existing.Title
	}
	f.byID[cm.CanonicalID] = cm
	return nil
}

func (f *fakeStore) ListAll(context.Context) ([]types.CanonicalMarket, error) {
	out := make([]types.CanonicalMarket, 0, len(f.byID))
	for _, cm := range f.byID {
		out = append(out, cm)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSyncGreedyOneToOne(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := New(store, 0.85, testLogger())

	a := []types.VenueMarket{
		{Venue: types.VenueA, VenueMarketID: "a1", Title: "Will BTC hit $100k by 12/31/2024?"},
	}
	b := []types.VenueMarket{
		{Venue: types.VenueB, VenueMarketID: "b1", Title: "Will Bitcoin reach $100k in 2024?"},
		{Venue: types.VenueB, VenueMarketID: "b2", Title: "Completely unrelated sports outcome market"},
	}

	results, err := r.Sync(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if results[0].VenueAMarketID != "a1" || results[0].VenueBMarketID != "b1" {
		t.Errorf("unexpected match: %+v", results[0])
	}
}

func TestSyncNoMatchBelowThreshold(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := New(store, 0.85, testLogger())

	a := []types.VenueMarket{{Venue: types.VenueA, VenueMarketID: "a1", Title: "Will BTC hit $100k?"}}
	b := []types.VenueMarket{{Venue: types.VenueB, VenueMarketID: "b1", Title: "Will the home team win the championship game?"}}

	results, err := r.Sync(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no matches below threshold, got %d", len(results))
	}
}

func TestSyncBMarketMatchedOnceIsRemovedFromPool(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := New(store, 0.80, testLogger())

	a := []types.VenueMarket{
		{Venue: types.VenueA, VenueMarketID: "a1", Title: "Will BTC hit $100k by Dec 2024?"},
		{Venue: types.VenueA, VenueMarketID: "a2", Title: "Will BTC hit $100k by Dec 2024 exactly?"},
	}
	b := []types.VenueMarket{
		{Venue: types.VenueB, VenueMarketID: "b1", Title: "Will BTC hit $100k by Dec 2024?"},
	}

	results, err := r.Sync(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	seen := make(map[string]bool)
	for _, cm := range results {
		if seen[cm.VenueBMarketID] {
			t.Fatalf("venue B market %s matched more than once", cm.VenueBMarketID)
		}
		seen[cm.VenueBMarketID] = true
	}
}

func TestCanonicalIDUsesShorterTitleAndSuffix(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := New(store, 0.85, testLogger())
	r.nowSuffix = func() string { return "fixed" }

	a := candidate{market: types.VenueMarket{Title: "a very long market title that exceeds fifty characters in total length"}}
	a.norm = Normalize(a.market.Title, "")
	b := candidate{market: types.VenueMarket{Title: "short"}}
	b.norm = Normalize(b.market.Title, "")

	id := r.canonicalID(a, b)
	if id != "short-fixed" {
		t.Errorf("canonicalID = %q, want %q", id, "short-fixed")
	}
}

func TestCanonicalIDFreshEverySync(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := New(store, 0.85, testLogger())

	a := []types.VenueMarket{{Venue: types.VenueA, VenueMarketID: "a1", Title: "Will BTC hit $100k?"}}
	b := []types.VenueMarket{{Venue: types.VenueB, VenueMarketID: "b1", Title: "Will BTC hit $100k?"}}

	first, err := r.Sync(context.Background(), a, b)
	if err != nil || len(first) != 1 {
		t.Fatalf("first sync: %v, %d results", err, len(first))
	}
	second, err := r.Sync(context.Background(), a, b)
	if err != nil || len(second) != 1 {
		t.Fatalf("second sync: %v, %d results", err, len(second))
	}
	if first[0].CanonicalID == second[0].CanonicalID {
		t.Error("expected a fresh canonical id per sync run")
	}
}

func TestSyncBothEmptyIsMatchingError(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	r := New(store, 0.85, testLogger())

	_, err := r.Sync(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error when both venues have no markets")
	}
}
