// Package store is the relational opportunity/trade/canonical-market
// store, backed by Postgres via sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"arb-engine/internal/errs"
	"arb-engine/internal/types"
)

const pqUniqueViolation = "23505"

// schema is applied once at startup. CREATE TABLE IF NOT EXISTS keeps the
// single-binary deploy free of a separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS canonical_markets (
	canonical_id      TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	venue_a_market_id TEXT NOT NULL DEFAULT '',
	venue_b_market_id TEXT NOT NULL DEFAULT '',
	similarity_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence        TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS opportunities (
	id                TEXT PRIMARY KEY,
	canonical_id      TEXT NOT NULL REFERENCES canonical_markets (canonical_id),
	venue_a_market_id TEXT NOT NULL,
	venue_b_market_id TEXT NOT NULL,
	combined_cost     NUMERIC NOT NULL CHECK (combined_cost >= 0 AND combined_cost <= 1),
	profit_potential  NUMERIC NOT NULL,
	venue_a_yes       NUMERIC NOT NULL,
	venue_a_no        NUMERIC NOT NULL,
	venue_b_yes       NUMERIC NOT NULL,
	venue_b_no        NUMERIC NOT NULL,
	leg_a_side        TEXT NOT NULL,
	leg_b_side        TEXT NOT NULL,
	recommended_size  NUMERIC NOT NULL,
	estimated_fees    NUMERIC NOT NULL,
	net_profit        NUMERIC NOT NULL,
	detected_at       TIMESTAMPTZ NOT NULL,
	expires_at        TIMESTAMPTZ,
	status            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities (status);
CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities (detected_at DESC);

CREATE TABLE IF NOT EXISTS trades (
	id              TEXT PRIMARY KEY,
	opportunity_id  TEXT NOT NULL REFERENCES opportunities (id),
	venue           TEXT NOT NULL,
	venue_market_id TEXT NOT NULL,
	side            TEXT NOT NULL,
	amount          NUMERIC NOT NULL CHECK (amount > 0),
	price           NUMERIC NOT NULL CHECK (price >= 0 AND price <= 1),
	order_id        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	executed_at     TIMESTAMPTZ,
	error_message   TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trades_opportunity_id ON trades (opportunity_id);
`

// Store is the Postgres-backed implementation of every persistence
// contract this system needs: resolver.MappingStore, arbitrage.Store,
// execution.Store, plus the read paths internal/api serves.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres and applies the schema. timeout bounds every
// individual query.
func Open(ctx context.Context, databaseURL string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, errs.Wrap(errs.DataStoreError, "connect", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.DataStoreError, "apply schema", err)
	}
	return &Store{db: db, timeout: timeout}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// ————————————————————————————————————————————————————————————————————————
// CanonicalMarket (resolver.MappingStore)
// ————————————————————————————————————————————————————————————————————————

type canonicalMarketRow struct {
	CanonicalID     string    `db:"canonical_id"`
	Title           string    `db:"title"`
	VenueAMarketID  string    `db:"venue_a_market_id"`
	VenueBMarketID  string    `db:"venue_b_market_id"`
	SimilarityScore float64   `db:"similarity_score"`
	Confidence      string    `db:"confidence"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r canonicalMarketRow) toType() types.CanonicalMarket {
	return types.CanonicalMarket{
		CanonicalID:     r.CanonicalID,
		Title:           r.Title,
		VenueAMarketID:  r.VenueAMarketID,
		VenueBMarketID:  r.VenueBMarketID,
		SimilarityScore: r.SimilarityScore,
		Confidence:      types.Confidence(r.Confidence),
		UpdatedAt:       r.UpdatedAt,
	}
}

// GetByCanonicalID implements resolver.MappingStore.
func (s *Store) GetByCanonicalID(ctx context.Context, canonicalID string) (types.CanonicalMarket, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row canonicalMarketRow
	err := s.db.GetContext(ctx, &row, `
		SELECT canonical_id, title, venue_a_market_id, venue_b_market_id, similarity_score, confidence, updated_at
		FROM canonical_markets WHERE canonical_id = $1`, canonicalID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CanonicalMarket{}, false, nil
	}
	if err != nil {
		return types.CanonicalMarket{}, false, errs.Wrap(errs.DataStoreError, "get canonical market", err)
	}
	return row.toType(), true, nil
}

// Upsert implements resolver.MappingStore: title is left unchanged on
// conflict unless the existing title is empty, matching the Resolver's own
// documented merge rule so the store is a faithful mirror of it rather
// than a second place that rule could drift.
func (s *Store) Upsert(ctx context.Context, cm types.CanonicalMarket) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_markets (canonical_id, title, venue_a_market_id, venue_b_market_id, similarity_score, confidence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (canonical_id) DO UPDATE SET
			title             = CASE WHEN canonical_markets.title = '' THEN EXCLUDED.title ELSE canonical_markets.title END,
			venue_a_market_id = EXCLUDED.venue_a_market_id,
			venue_b_market_id = EXCLUDED.venue_b_market_id,
			similarity_score  = EXCLUDED.similarity_score,
			confidence        = EXCLUDED.confidence,
			updated_at        = EXCLUDED.updated_at`,
		cm.CanonicalID, cm.Title, cm.VenueAMarketID, cm.VenueBMarketID, cm.SimilarityScore, string(cm.Confidence), cm.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return errs.Wrap(errs.DataStoreError, "upsert canonical market: duplicate", err)
		}
		return errs.Wrap(errs.DataStoreError, "upsert canonical market", err)
	}
	return nil
}

// ListAll implements resolver.MappingStore.
func (s *Store) ListAll(ctx context.Context) ([]types.CanonicalMarket, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []canonicalMarketRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT canonical_id, title, venue_a_market_id, venue_b_market_id, similarity_score, confidence, updated_at
		FROM canonical_markets`); err != nil {
		return nil, errs.Wrap(errs.DataStoreError, "list canonical markets", err)
	}
	out := make([]types.CanonicalMarket, len(rows))
	for i, r := range rows {
		out[i] = r.toType()
	}
	return out, nil
}

// ListCanonicalMarkets is the read path internal/api serves for GET
// /api/markets; identical to ListAll, named for the caller's intent.
func (s *Store) ListCanonicalMarkets(ctx context.Context) ([]types.CanonicalMarket, error) {
	return s.ListAll(ctx)
}

// ————————————————————————————————————————————————————————————————————————
// ArbitrageOpportunity (arbitrage.Store, execution.Store, API reads)
// ————————————————————————————————————————————————————————————————————————

type opportunityRow struct {
	ID              string          `db:"id"`
	CanonicalID     string          `db:"canonical_id"`
	VenueAMarketID  string          `db:"venue_a_market_id"`
	VenueBMarketID  string          `db:"venue_b_market_id"`
	CombinedCost    decimal.Decimal `db:"combined_cost"`
	ProfitPotential decimal.Decimal `db:"profit_potential"`
	VenueAYes       decimal.Decimal `db:"venue_a_yes"`
	VenueANo        decimal.Decimal `db:"venue_a_no"`
	VenueBYes       decimal.Decimal `db:"venue_b_yes"`
	VenueBNo        decimal.Decimal `db:"venue_b_no"`
	LegASide        string          `db:"leg_a_side"`
	LegBSide        string          `db:"leg_b_side"`
	RecommendedSize decimal.Decimal `db:"recommended_size"`
	EstimatedFees   decimal.Decimal `db:"estimated_fees"`
	NetProfit       decimal.Decimal `db:"net_profit"`
	DetectedAt      time.Time       `db:"detected_at"`
	ExpiresAt       *time.Time      `db:"expires_at"`
	Status          string          `db:"status"`
}

func (r opportunityRow) toType() types.ArbitrageOpportunity {
	return types.ArbitrageOpportunity{
		ID:              r.ID,
		CanonicalID:     r.CanonicalID,
		VenueAMarketID:  r.VenueAMarketID,
		VenueBMarketID:  r.VenueBMarketID,
		CombinedCost:    r.CombinedCost,
		ProfitPotential: r.ProfitPotential,
		VenueAPrices:    types.VenuePrices{Yes: r.VenueAYes, No: r.VenueANo},
		VenueBPrices:    types.VenuePrices{Yes: r.VenueBYes, No: r.VenueBNo},
		LegASide:        types.Outcome(r.LegASide),
		LegBSide:        types.Outcome(r.LegBSide),
		RecommendedSize: r.RecommendedSize,
		EstimatedFees:   r.EstimatedFees,
		NetProfit:       r.NetProfit,
		DetectedAt:      r.DetectedAt,
		ExpiresAt:       r.ExpiresAt,
		Status:          types.OpportunityStatus(r.Status),
	}
}

// InsertOpportunity implements arbitrage.Store.
func (s *Store) InsertOpportunity(ctx context.Context, o types.ArbitrageOpportunity) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (
			id, canonical_id, venue_a_market_id, venue_b_market_id,
			combined_cost, profit_potential, venue_a_yes, venue_a_no, venue_b_yes, venue_b_no,
			leg_a_side, leg_b_side, recommended_size, estimated_fees, net_profit,
			detected_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.CanonicalID, o.VenueAMarketID, o.VenueBMarketID,
		o.CombinedCost, o.ProfitPotential, o.VenueAPrices.Yes, o.VenueAPrices.No, o.VenueBPrices.Yes, o.VenueBPrices.No,
		string(o.LegASide), string(o.LegBSide), o.RecommendedSize, o.EstimatedFees, o.NetProfit,
		o.DetectedAt, o.ExpiresAt, string(o.Status))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return errs.Wrap(errs.DataStoreError, "insert opportunity: duplicate", err)
		}
		return errs.Wrap(errs.DataStoreError, "insert opportunity", err)
	}
	return nil
}

// GetOpportunity implements execution.Store.
func (s *Store) GetOpportunity(ctx context.Context, id string) (types.ArbitrageOpportunity, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var row opportunityRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, canonical_id, venue_a_market_id, venue_b_market_id,
			combined_cost, profit_potential, venue_a_yes, venue_a_no, venue_b_yes, venue_b_no,
			leg_a_side, leg_b_side, recommended_size, estimated_fees, net_profit,
			detected_at, expires_at, status
		FROM opportunities WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ArbitrageOpportunity{}, false, nil
	}
	if err != nil {
		return types.ArbitrageOpportunity{}, false, errs.Wrap(errs.DataStoreError, "get opportunity", err)
	}
	return row.toType(), true, nil
}

// TransitionOpportunity implements execution.Store's guarded status change:
// the UPDATE's WHERE clause carries the guard, so the check-and-set is one
// round trip and races with a concurrent caller resolve to exactly one
// winner.
func (s *Store) TransitionOpportunity(ctx context.Context, id string, from, to types.OpportunityStatus) (bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE opportunities SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, errs.Wrap(errs.DataStoreError, "transition opportunity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.DataStoreError, "transition opportunity: rows affected", err)
	}
	return n == 1, nil
}

// ListOpportunities returns the most recently detected opportunities, newest
// first, bounded to limit — the read path for GET /api/opportunities.
func (s *Store) ListOpportunities(ctx context.Context, limit int) ([]types.ArbitrageOpportunity, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []opportunityRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, canonical_id, venue_a_market_id, venue_b_market_id,
			combined_cost, profit_potential, venue_a_yes, venue_a_no, venue_b_yes, venue_b_no,
			leg_a_side, leg_b_side, recommended_size, estimated_fees, net_profit,
			detected_at, expires_at, status
		FROM opportunities ORDER BY detected_at DESC LIMIT $1`, limit); err != nil {
		return nil, errs.Wrap(errs.DataStoreError, "list opportunities", err)
	}
	return rowsToOpportunities(rows), nil
}

// ListActiveOpportunities returns every opportunity in the detected or
// executing state whose expiry has not passed — GET /api/opportunities/active.
func (s *Store) ListActiveOpportunities(ctx context.Context) ([]types.ArbitrageOpportunity, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []opportunityRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, canonical_id, venue_a_market_id, venue_b_market_id,
			combined_cost, profit_potential, venue_a_yes, venue_a_no, venue_b_yes, venue_b_no,
			leg_a_side, leg_b_side, recommended_size, estimated_fees, net_profit,
			detected_at, expires_at, status
		FROM opportunities
		WHERE status IN ($1, $2) AND (expires_at IS NULL OR expires_at > now())
		ORDER BY detected_at DESC`,
		string(types.StatusDetected), string(types.StatusExecuting)); err != nil {
		return nil, errs.Wrap(errs.DataStoreError, "list active opportunities", err)
	}
	return rowsToOpportunities(rows), nil
}

func rowsToOpportunities(rows []opportunityRow) []types.ArbitrageOpportunity {
	out := make([]types.ArbitrageOpportunity, len(rows))
	for i, r := range rows {
		out[i] = r.toType()
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Trade (execution.Store, API reads)
// ————————————————————————————————————————————————————————————————————————

type tradeRow struct {
	ID            string          `db:"id"`
	OpportunityID string          `db:"opportunity_id"`
	Venue         string          `db:"venue"`
	VenueMarketID string          `db:"venue_market_id"`
	Side          string          `db:"side"`
	Amount        decimal.Decimal `db:"amount"`
	Price         decimal.Decimal `db:"price"`
	OrderID       string          `db:"order_id"`
	Status        string          `db:"status"`
	ExecutedAt    *time.Time      `db:"executed_at"`
	ErrorMessage  string          `db:"error_message"`
}

func (r tradeRow) toType() types.Trade {
	return types.Trade{
		ID:            r.ID,
		OpportunityID: r.OpportunityID,
		Venue:         types.Venue(r.Venue),
		VenueMarketID: r.VenueMarketID,
		Side:          types.Outcome(r.Side),
		Amount:        r.Amount,
		Price:         r.Price,
		OrderID:       r.OrderID,
		Status:        types.TradeStatus(r.Status),
		ExecutedAt:    r.ExecutedAt,
		ErrorMessage:  r.ErrorMessage,
	}
}

// InsertTrade implements execution.Store.
func (s *Store) InsertTrade(ctx context.Context, t types.Trade) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, opportunity_id, venue, venue_market_id, side, amount, price, order_id, status, executed_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.OpportunityID, string(t.Venue), t.VenueMarketID, string(t.Side), t.Amount, t.Price, t.OrderID, string(t.Status), t.ExecutedAt, t.ErrorMessage)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return errs.Wrap(errs.DataStoreError, "insert trade: duplicate", err)
		}
		return errs.Wrap(errs.DataStoreError, "insert trade", err)
	}
	return nil
}

// ListTradesByOpportunity implements execution.Store.
func (s *Store) ListTradesByOpportunity(ctx context.Context, opportunityID string) ([]types.Trade, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []tradeRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, opportunity_id, venue, venue_market_id, side, amount, price, order_id, status, executed_at, error_message
		FROM trades WHERE opportunity_id = $1`, opportunityID); err != nil {
		return nil, errs.Wrap(errs.DataStoreError, "list trades by opportunity", err)
	}
	out := make([]types.Trade, len(rows))
	for i, r := range rows {
		out[i] = r.toType()
	}
	return out, nil
}

// UpdateTradeStatus implements execution.Store.
func (s *Store) UpdateTradeStatus(ctx context.Context, tradeID string, status types.TradeStatus, errorMessage string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var executedAt any
	if status == types.TradeFilled {
		executedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = $1, error_message = $2, executed_at = COALESCE($3, executed_at) WHERE id = $4`,
		string(status), errorMessage, executedAt, tradeID)
	if err != nil {
		return errs.Wrap(errs.DataStoreError, "update trade status", err)
	}
	return nil
}

// ListTrades returns the most recent trades across all opportunities,
// newest first, bounded to limit — the read path for GET /api/trades.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []tradeRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, opportunity_id, venue, venue_market_id, side, amount, price, order_id, status, executed_at, error_message
		FROM trades ORDER BY created_at DESC LIMIT $1`, limit); err != nil {
		return nil, errs.Wrap(errs.DataStoreError, "list trades", err)
	}
	out := make([]types.Trade, len(rows))
	for i, r := range rows {
		out[i] = r.toType()
	}
	return out, nil
}
