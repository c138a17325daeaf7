package api

import (
	"time"

	"arb-engine/internal/config"
)

// HealthResponse is GET /api/health's body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
}

// SyncResponse is POST /api/markets/sync's body.
type SyncResponse struct {
	Message string `json:"message"`
}

// ConfigResponse is GET /api/config's read-only view of the arbitrage
// parameters.
type ConfigResponse struct {
	ArbThreshold        float64 `json:"arb_threshold"`
	MinLiquidity        float64 `json:"min_liquidity"`
	MaxPositionSize     float64 `json:"max_position_size"`
	VenueAFeeRate       float64 `json:"venue_a_fee_rate"`
	VenueBFeeRate       float64 `json:"venue_b_fee_rate"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	AutoExecute         bool    `json:"auto_execute"`
}

// NewConfigResponse builds the read-only config view from the immutable
// snapshot plus the one mutable field.
func NewConfigResponse(snap config.Snapshot, autoExecute bool) ConfigResponse {
	return ConfigResponse{
		ArbThreshold:        snap.ArbThreshold,
		MinLiquidity:        snap.MinLiquidity,
		MaxPositionSize:     snap.MaxPositionSize,
		VenueAFeeRate:       snap.VenueAFeeRate,
		VenueBFeeRate:       snap.VenueBFeeRate,
		SimilarityThreshold: snap.SimilarityThreshold,
		AutoExecute:         autoExecute,
	}
}

// ConfigUpdateRequest is POST /api/config's only accepted body shape;
// any other field is rejected.
type ConfigUpdateRequest struct {
	AutoExecute *bool `json:"auto_execute"`
}

// errorResponse is the JSON body for any failed HTTP request.
type errorResponse struct {
	Error string `json:"error"`
}
