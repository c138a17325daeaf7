package venue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"arb-engine/internal/types"
)

// Venue A requires no post-open handshake; its stream is usable as soon as
// it's open. NewVenueA wires plain REST-key auth (carried on the outbound
// side, not the stream) and a simple envelope decoder.

// wireLevelA is one (price, size) pair as Venue A's feed encodes it.
type wireLevelA struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// wireBookFrameA is the book-update envelope Venue A publishes for one
// market: a full snapshot replacing the prior state.
type wireBookFrameA struct {
	Type      string       `json:"type"`
	MarketID  string       `json:"market_id"`
	Bids      []wireLevelA `json:"bids"`
	Asks      []wireLevelA `json:"asks"`
	Timestamp int64        `json:"timestamp"` // unix millis
}

// NewVenueA constructs the Venue A Client.
func NewVenueA(wsURL string, logger *slog.Logger) *Client {
	return New(types.VenueA, wsURL, decodeVenueA, noAuth{}, buildSubscribeMsgA, logger)
}

func buildSubscribeMsgA(ids []string, subscribe bool) any {
	op := "subscribe"
	if !subscribe {
		op = "unsubscribe"
	}
	return map[string]any{
		"op":         op,
		"channel":    "book",
		"market_ids": ids,
	}
}

func decodeVenueA(raw []byte) (types.OrderBookEvent, bool, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := peekEnvelope(raw, &env); err != nil {
		return types.OrderBookEvent{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != "book" {
		return types.OrderBookEvent{}, false, nil
	}

	var frame wireBookFrameA
	if err := json.Unmarshal(raw, &frame); err != nil {
		return types.OrderBookEvent{}, false, fmt.Errorf("decode book frame: %w", err)
	}
	if frame.MarketID == "" {
		return types.OrderBookEvent{}, false, fmt.Errorf("book frame missing market_id")
	}

	return types.OrderBookEvent{
		Venue:         types.VenueA,
		VenueMarketID: frame.MarketID,
		Bids:          convertLevelsA(frame.Bids),
		Asks:          convertLevelsA(frame.Asks),
		Timestamp:     time.UnixMilli(frame.Timestamp),
	}, true, nil
}

func convertLevelsA(levels []wireLevelA) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.PriceLevel{
			Price: decimal.NewFromFloat(l.Price),
			Size:  decimal.NewFromFloat(l.Size),
		})
	}
	return out
}
