package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"arb-engine/internal/config"
	"arb-engine/internal/types"
)

type fakeStore struct {
	active  []types.ArbitrageOpportunity
	recent  []types.ArbitrageOpportunity
	trades  []types.Trade
	markets []types.CanonicalMarket
	fail    bool
}

func (f *fakeStore) ListOpportunities(context.Context, int) ([]types.ArbitrageOpportunity, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.recent, nil
}

func (f *fakeStore) ListActiveOpportunities(context.Context) ([]types.ArbitrageOpportunity, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.active, nil
}

func (f *fakeStore) ListCanonicalMarkets(context.Context) ([]types.CanonicalMarket, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.markets, nil
}

func (f *fakeStore) ListTrades(context.Context, int) ([]types.Trade, error) {
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.trades, nil
}

func (f *fakeStore) GetOpportunity(context.Context, string) (types.ArbitrageOpportunity, bool, error) {
	return types.ArbitrageOpportunity{}, false, nil
}

func snapshotTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSnapshotCarriesCurrentState(t *testing.T) {
	t.Parallel()
	store := &fakeStore{
		active:  []types.ArbitrageOpportunity{{ID: "opp-1", Status: types.StatusDetected}},
		recent:  []types.ArbitrageOpportunity{{ID: "opp-1"}, {ID: "opp-0"}},
		trades:  []types.Trade{{ID: "trade-1"}},
		markets: []types.CanonicalMarket{{CanonicalID: "canon-1"}},
	}
	snap := config.Snapshot{ArbThreshold: 0.98, MinLiquidity: 1000}

	got := BuildSnapshot(context.Background(), store, snap, true, snapshotTestLogger())

	if len(got.ActiveOpportunities) != 1 || got.ActiveOpportunities[0].ID != "opp-1" {
		t.Errorf("ActiveOpportunities = %+v, want opp-1", got.ActiveOpportunities)
	}
	if len(got.RecentOpportunities) != 2 || got.RecentOpportunities[0].ID != "opp-1" {
		t.Errorf("RecentOpportunities = %+v, want opp-1 first (newest)", got.RecentOpportunities)
	}
	if len(got.RecentTrades) != 1 || len(got.Markets) != 1 {
		t.Errorf("trades/markets = %d/%d, want 1/1", len(got.RecentTrades), len(got.Markets))
	}
	if !got.Config.AutoExecute || got.Config.ArbThreshold != 0.98 {
		t.Errorf("Config = %+v, want auto_execute true and threshold 0.98", got.Config)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestBuildSnapshotDegradesOnStoreFailure(t *testing.T) {
	t.Parallel()
	store := &fakeStore{fail: true}

	got := BuildSnapshot(context.Background(), store, config.Snapshot{}, false, snapshotTestLogger())

	if len(got.ActiveOpportunities) != 0 || len(got.RecentOpportunities) != 0 {
		t.Errorf("failing store should yield empty lists, got %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp should still be set on degraded snapshot")
	}
}
