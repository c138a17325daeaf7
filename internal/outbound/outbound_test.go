package outbound

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"arb-engine/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["market_id"] != "mkt-1" {
			t.Errorf("market_id = %v, want mkt-1", body["market_id"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(OrderResponse{OrderID: "order-1", Status: "open"})
	}))
	defer srv.Close()

	c := New(types.VenueA, srv.URL, "test-key", testLogger())
	resp, err := c.PlaceOrder(t.Context(), OrderRequest{
		VenueMarketID: "mkt-1",
		Side:          types.YES,
		Size:          decimal.NewFromFloat(100),
		Price:         decimal.NewFromFloat(0.45),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if resp.OrderID != "order-1" {
		t.Errorf("OrderID = %q, want order-1", resp.OrderID)
	}
}

func TestPlaceOrderNon2xxReturnsTradingError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("insufficient balance"))
	}))
	defer srv.Close()

	c := New(types.VenueA, srv.URL, "test-key", testLogger())
	_, err := c.PlaceOrder(t.Context(), OrderRequest{VenueMarketID: "mkt-1", Side: types.YES, Size: decimal.NewFromFloat(1), Price: decimal.NewFromFloat(0.5)})
	if err == nil {
		t.Fatal("PlaceOrder: want error on non-2xx status")
	}
}

func TestCancelOrderTreatsNotFoundAsSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(types.VenueB, srv.URL, "test-key", testLogger())
	if err := c.CancelOrder(t.Context(), "order-1"); err != nil {
		t.Fatalf("CancelOrder: %v, want nil (404 treated as already-gone)", err)
	}
}

func TestGetOrderStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OrderStatus{OrderID: "order-1", Status: "filled", Filled: true})
	}))
	defer srv.Close()

	c := New(types.VenueA, srv.URL, "test-key", testLogger())
	status, err := c.GetOrderStatus(t.Context(), "order-1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if !status.Filled {
		t.Errorf("Filled = false, want true")
	}
}

func TestListMarketsPaginates(t *testing.T) {
	t.Parallel()
	const pageSize = 100
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset := r.URL.Query().Get("offset")
		var page []wireMarket
		if offset == "0" {
			for i := 0; i < pageSize; i++ {
				page = append(page, wireMarket{MarketID: fmt.Sprintf("m-%d", i), Title: "t", Active: true})
			}
		} else {
			page = []wireMarket{{MarketID: "m-last", Title: "last", Active: true}}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := New(types.VenueA, srv.URL, "test-key", testLogger())
	markets, err := c.ListMarkets(t.Context())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != pageSize+1 {
		t.Fatalf("len(markets) = %d, want %d", len(markets), pageSize+1)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one full page, one short page)", calls)
	}
}

func TestListMarketsSkipsInactiveAndUnidentified(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := []wireMarket{
			{MarketID: "m-1", Title: "active", Active: true},
			{MarketID: "m-2", Title: "inactive", Active: false},
			{MarketID: "", Title: "no id", Active: true},
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := New(types.VenueB, srv.URL, "test-key", testLogger())
	markets, err := c.ListMarkets(t.Context())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 1 || markets[0].VenueMarketID != "m-1" {
		t.Fatalf("markets = %+v, want only m-1", markets)
	}
}
