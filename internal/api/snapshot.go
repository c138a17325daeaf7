package api

import (
	"context"
	"log/slog"
	"time"

	"arb-engine/internal/config"
	"arb-engine/internal/types"
)

// snapshotHistoryLimit bounds the recent-history lists carried on the
// connected frame; live events take over from there.
const snapshotHistoryLimit = 50

// ConnectedSnapshot is the initial state pushed to every newly-connected
// push-channel client, so a dashboard renders immediately instead of
// waiting for the next live event.
type ConnectedSnapshot struct {
	Timestamp           time.Time                    `json:"timestamp"`
	ActiveOpportunities []types.ArbitrageOpportunity `json:"active_opportunities"`
	RecentOpportunities []types.ArbitrageOpportunity `json:"recent_opportunities"` // newest first
	RecentTrades        []types.Trade                `json:"recent_trades"`        // newest first
	Markets             []types.CanonicalMarket      `json:"markets"`
	Config              ConfigResponse               `json:"config"`
}

// BuildSnapshot aggregates current engine state into a connected-frame
// payload. Each read is best-effort: a failing store query logs and leaves
// its list empty rather than refusing the connection.
func BuildSnapshot(ctx context.Context, store Store, snap config.Snapshot, autoExecute bool, logger *slog.Logger) ConnectedSnapshot {
	active, err := store.ListActiveOpportunities(ctx)
	if err != nil {
		logger.Warn("snapshot: list active opportunities failed", "error", err)
	}
	recent, err := store.ListOpportunities(ctx, snapshotHistoryLimit)
	if err != nil {
		logger.Warn("snapshot: list opportunities failed", "error", err)
	}
	trades, err := store.ListTrades(ctx, snapshotHistoryLimit)
	if err != nil {
		logger.Warn("snapshot: list trades failed", "error", err)
	}
	markets, err := store.ListCanonicalMarkets(ctx)
	if err != nil {
		logger.Warn("snapshot: list canonical markets failed", "error", err)
	}

	return ConnectedSnapshot{
		Timestamp:           time.Now(),
		ActiveOpportunities: active,
		RecentOpportunities: recent,
		RecentTrades:        trades,
		Markets:             markets,
		Config:              NewConfigResponse(snap, autoExecute),
	}
}
