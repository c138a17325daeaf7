// Package outbound implements the venue REST adapters the execution
// coordinator uses to place, cancel, and query orders: a resty-backed HTTP
// client per venue with a fixed connect/request timeout split and
// per-category token-bucket rate limiting.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arb-engine/internal/errs"
	"arb-engine/internal/types"
)

const (
	connectTimeout = 2 * time.Second
	requestTimeout = 10 * time.Second
)

// OrderRequest is one place_order call.
type OrderRequest struct {
	VenueMarketID string
	Side          types.Outcome
	Size          decimal.Decimal
	Price         decimal.Decimal
}

// OrderResponse is a venue's reply to a place_order call.
type OrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// OrderStatus is a venue's reply to a get_order_status call.
type OrderStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // venue-native status string
	Filled  bool   `json:"filled"`
	Pending bool   `json:"pending"`
}

// Client is the REST adapter for one venue.
type Client struct {
	venue  types.Venue
	http   *resty.Client
	rl     *RateLimiter // per-endpoint-category rate limiting
	logger *slog.Logger
}

// New constructs a venue REST adapter. apiKey is sent as a bearer header on
// every request; no per-request signing is done here. Venue B additionally
// authenticates once at the stream layer; Venue A has no stream handshake.
func New(venue types.Venue, baseURL, apiKey string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetTransport(&http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		}).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		venue:  venue,
		http:   httpClient,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "outbound_client", "venue", string(venue)),
	}
}

// PlaceOrder submits one order. Price and size invariants are enforced by
// the caller (the Coordinator); this adapter only transports.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return OrderResponse{}, errs.Wrap(errs.TradingError, "place order: rate limit wait", err)
	}

	var result OrderResponse
	body := map[string]any{
		"market_id": req.VenueMarketID,
		"action":    "BUY",
		"side":      req.Side,
		"size":      req.Size.String(),
		"price":     req.Price.String(),
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		ForceContentType("application/json").
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return OrderResponse{}, errs.Wrap(errs.TradingError, "place order", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return OrderResponse{}, errs.New(errs.TradingError, fmt.Sprintf("place order: status %d: %s", resp.StatusCode(), resp.String()))
	}
	return result, nil
}

// CancelOrder issues a best-effort cancel for a previously placed order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return errs.Wrap(errs.TradingError, "cancel order: rate limit wait", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/orders/" + orderID)
	if err != nil {
		return errs.Wrap(errs.TradingError, "cancel order", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNotFound {
		return errs.New(errs.TradingError, fmt.Sprintf("cancel order: status %d: %s", resp.StatusCode(), resp.String()))
	}
	return nil
}

// GetOrderStatus queries a venue order's current status, used by
// order-status reconciliation.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return OrderStatus{}, errs.Wrap(errs.TradingError, "get order status: rate limit wait", err)
	}

	var result OrderStatus
	resp, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&result).
		Get("/orders/" + orderID)
	if err != nil {
		return OrderStatus{}, errs.Wrap(errs.TradingError, "get order status", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return OrderStatus{}, errs.New(errs.TradingError, fmt.Sprintf("get order status: status %d: %s", resp.StatusCode(), resp.String()))
	}
	return result, nil
}

// wireMarket is one venue market listing page entry. Both venues are
// assumed to expose the same shape for the purposes of this system; a
// production adapter would have one decoder per venue the way venue_a.go
// and venue_b.go have one Decoder each for book frames.
type wireMarket struct {
	MarketID    string `json:"market_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// ListMarkets fetches every active market this venue currently lists, used
// by the resolver's market-sync trigger. Fixed page size, stop once a
// short page comes back.
func (c *Client) ListMarkets(ctx context.Context) ([]types.VenueMarket, error) {
	const pageSize = 100
	var all []types.VenueMarket
	offset := 0

	for {
		if err := c.rl.Query.Wait(ctx); err != nil {
			return nil, errs.Wrap(errs.MatchingError, "list markets: rate limit wait", err)
		}

		var page []wireMarket
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  fmt.Sprintf("%d", pageSize),
				"offset": fmt.Sprintf("%d", offset),
				"active": "true",
			}).
			ForceContentType("application/json").
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, errs.Wrap(errs.MatchingError, "list markets", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, errs.New(errs.MatchingError, fmt.Sprintf("list markets: status %d: %s", resp.StatusCode(), resp.String()))
		}

		for _, m := range page {
			if !m.Active || m.MarketID == "" {
				continue
			}
			all = append(all, types.VenueMarket{
				Venue:         c.venue,
				VenueMarketID: m.MarketID,
				Title:         m.Title,
				Description:   m.Description,
			})
		}

		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	return all, nil
}
