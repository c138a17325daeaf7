// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — venue markets,
// canonical identity, order books, opportunities, and trades. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Venues and outcomes
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the two trading venues this engine bridges.
type Venue string

const (
	VenueA Venue = "A"
	VenueB Venue = "B"
)

// Other returns the opposite venue.
func (v Venue) Other() Venue {
	if v == VenueA {
		return VenueB
	}
	return VenueA
}

// Outcome is a binary market's side.
type Outcome string

const (
	YES Outcome = "YES"
	NO  Outcome = "NO"
)

// Confidence buckets a CanonicalMarket's match quality.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"   // similarity >= 0.95
	ConfidenceMedium Confidence = "medium" // similarity >= 0.85
	ConfidenceLow    Confidence = "low"
)

// ConfidenceFor derives the bucket for a similarity score.
func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= 0.95:
		return ConfidenceHigh
	case score >= 0.85:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ————————————————————————————————————————————————————————————————————————
// VenueMarket / CanonicalMarket
// ————————————————————————————————————————————————————————————————————————

// VenueMarket is one binary outcome market on one venue, discovered by
// market-sync. Not mutated once discovered. The Resolver keeps no record of
// markets that vanish from a venue's listing: they are not marked stale,
// and their persisted canonical mappings are not deleted.
type VenueMarket struct {
	Venue         Venue
	VenueMarketID string
	Title         string
	Description   string
}

// CanonicalMarket is an identity cluster linking up to one VenueMarket per
// venue. At least one venue market is present; at most one per venue.
type CanonicalMarket struct {
	CanonicalID     string     `json:"canonical_id"`
	Title           string     `json:"title"`
	VenueAMarketID  string     `json:"venue_a_market_id,omitempty"` // empty if no Venue A match
	VenueBMarketID  string     `json:"venue_b_market_id,omitempty"` // empty if no Venue B match
	SimilarityScore float64    `json:"similarity_score"`
	Confidence      Confidence `json:"confidence"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasVenue reports whether this canonical market has a mapping for v.
func (c CanonicalMarket) HasVenue(v Venue) bool {
	if v == VenueA {
		return c.VenueAMarketID != ""
	}
	return c.VenueBMarketID != ""
}

// VenueMarketIDFor returns the venue market id for v, or "" if absent.
func (c CanonicalMarket) VenueMarketIDFor(v Venue) string {
	if v == VenueA {
		return c.VenueAMarketID
	}
	return c.VenueBMarketID
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level.
type PriceLevel struct {
	Price decimal.Decimal // in [0,1]
	Size  decimal.Decimal // >= 0
}

// OrderBook is the current snapshot for one VenueMarket. Replaced
// atomically per update; no delta-merging at this level.
type OrderBook struct {
	Venue         Venue
	VenueMarketID string
	Bids          []PriceLevel // descending price
	Asks          []PriceLevel // ascending price
	Timestamp     time.Time
}

// BestBid returns the top bid, or zero + false if the book has no bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask, or zero + false if the book has no asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns (bestBid+bestAsk)/2, or false if either side is empty.
func (b OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}

// Depth sums the size across both sides of the book.
func (b OrderBook) Depth() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range b.Bids {
		total = total.Add(lvl.Size)
	}
	for _, lvl := range b.Asks {
		total = total.Add(lvl.Size)
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// Arbitrage opportunity
// ————————————————————————————————————————————————————————————————————————

// OpportunityStatus is the lifecycle state of an ArbitrageOpportunity.
type OpportunityStatus string

const (
	StatusDetected  OpportunityStatus = "detected"
	StatusExecuting OpportunityStatus = "executing"
	StatusExecuted  OpportunityStatus = "executed"
	StatusExpired   OpportunityStatus = "expired"
)

// VenuePrices captures the YES/NO prices observed for one venue at
// detection time.
type VenuePrices struct {
	Yes decimal.Decimal `json:"yes"`
	No  decimal.Decimal `json:"no"`
}

// ArbitrageOpportunity is a detected pricing inefficiency for one canonical
// market at one instant.
type ArbitrageOpportunity struct {
	ID              string            `json:"id"`
	CanonicalID     string            `json:"canonical_id"`
	VenueAMarketID  string            `json:"venue_a_market_id"` // captured at detection time, for order placement
	VenueBMarketID  string            `json:"venue_b_market_id"`
	CombinedCost    decimal.Decimal   `json:"combined_cost"`
	ProfitPotential decimal.Decimal   `json:"profit_potential"` // 1 - CombinedCost
	VenueAPrices    VenuePrices       `json:"venue_a_prices"`
	VenueBPrices    VenuePrices       `json:"venue_b_prices"`
	LegASide        Outcome           `json:"leg_a_side"` // which side was bought on Venue A
	LegBSide        Outcome           `json:"leg_b_side"` // which side was bought on Venue B
	RecommendedSize decimal.Decimal   `json:"recommended_size"`
	EstimatedFees   decimal.Decimal   `json:"estimated_fees"`
	NetProfit       decimal.Decimal   `json:"net_profit"`
	DetectedAt      time.Time         `json:"detected_at"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Status          OpportunityStatus `json:"status"`
}

// ————————————————————————————————————————————————————————————————————————
// Trade
// ————————————————————————————————————————————————————————————————————————

// TradeStatus is the lifecycle state of a Trade.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeCancelled TradeStatus = "cancelled"
	TradeFailed    TradeStatus = "failed"
)

// Trade is one leg of an execution.
type Trade struct {
	ID            string          `json:"id"`
	OpportunityID string          `json:"opportunity_id"` // optional in the data model; always set by the Coordinator
	Venue         Venue           `json:"venue"`
	VenueMarketID string          `json:"venue_market_id"`
	Side          Outcome         `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	OrderID       string          `json:"order_id"` // venue order id, set once placed
	Status        TradeStatus     `json:"status"`
	ExecutedAt    *time.Time      `json:"executed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Events
// ————————————————————————————————————————————————————————————————————————

// OrderBookEvent is emitted by a VenueClient for every book update.
type OrderBookEvent struct {
	Venue         Venue
	VenueMarketID string
	Bids          []PriceLevel
	Asks          []PriceLevel
	Timestamp     time.Time
}

// ConnectionEvent kinds emitted by a VenueClient.
type ConnectionEventKind string

const (
	ConnConnected    ConnectionEventKind = "connected"
	ConnDisconnected ConnectionEventKind = "disconnected"
	ConnError        ConnectionEventKind = "error"
)

// ConnectionEvent reports a VenueClient lifecycle transition.
type ConnectionEvent struct {
	Venue  Venue
	Kind   ConnectionEventKind
	Reason string
}

// ExecutionOutcome is the terminal result of a Coordinator execution.
type ExecutionOutcome string

const (
	ExecutionSuccess ExecutionOutcome = "execution_success"
	ExecutionFailed  ExecutionOutcome = "execution_failed"
)

// ExecutionResult is published by the Coordinator on completion.
type ExecutionResult struct {
	OpportunityID string           `json:"opportunity_id"`
	Outcome       ExecutionOutcome `json:"outcome"`
	Trades        []Trade          `json:"trades,omitempty"`
	Error         string           `json:"error,omitempty"`
}
