package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"arb-engine/internal/types"
)

// Venue B requires a post-open auth handshake: immediately after the
// stream opens, send an auth frame carrying the API key, and wait up to 5s
// for a success reply. hmacAuth derives a signing key from the configured
// private key and HMACs a short timestamped message into the frame.
type hmacAuth struct {
	apiKey     string
	signingKey []byte
}

// newHMACAuth derives the HMAC signing key from the venue's configured
// private key. The raw ECDSA key bytes serve as the secret; Venue B has no
// separate derive-API-secret endpoint.
func newHMACAuth(apiKey, privateKeyHex string) (*hmacAuth, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}
	pk, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse venue b private key: %w", err)
	}
	signingKey := crypto.FromECDSA(pk)
	return &hmacAuth{apiKey: apiKey, signingKey: signingKey}, nil
}

func (a *hmacAuth) sign(timestamp string) string {
	mac := hmac.New(sha256.New, a.signingKey)
	mac.Write([]byte(timestamp + a.apiKey))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

type authFrameB struct {
	Op        string `json:"op"`
	APIKey    string `json:"api_key"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

type authReplyB struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// Authenticate sends the auth frame and blocks for the reply, honoring
// ctx's 5s deadline (set by client.go around this call).
func (a *hmacAuth) Authenticate(ctx context.Context, conn *websocket.Conn) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	frame := authFrameB{
		Op:        "auth",
		APIKey:    a.apiKey,
		Timestamp: ts,
		Signature: a.sign(ts),
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("send auth frame: %w", err)
	}

	replyCh := make(chan error, 1)
	go func() {
		deadline, ok := ctx.Deadline()
		if ok {
			conn.SetReadDeadline(deadline)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			replyCh <- fmt.Errorf("read auth reply: %w", err)
			return
		}
		var reply authReplyB
		if err := json.Unmarshal(msg, &reply); err != nil {
			replyCh <- fmt.Errorf("decode auth reply: %w", err)
			return
		}
		if reply.Type != "auth_result" || !reply.Success {
			replyCh <- fmt.Errorf("auth rejected: %s", reply.Reason)
			return
		}
		replyCh <- nil
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("auth timed out: %w", ctx.Err())
	case err := <-replyCh:
		return err
	}
}

// wireLevelB is Venue B's (price, size) encoding.
type wireLevelB struct {
	Px  float64 `json:"px"`
	Qty float64 `json:"qty"`
}

// wireBookFrameB is Venue B's book-update envelope.
type wireBookFrameB struct {
	Event   string       `json:"event"`
	Market  string       `json:"market"`
	Bid     []wireLevelB `json:"bid"`
	Ask     []wireLevelB `json:"ask"`
	TsMilli int64        `json:"ts"`
}

// NewVenueB constructs the Venue B Client, wiring the HMAC auth handshake.
func NewVenueB(wsURL, apiKey, privateKeyHex string, logger *slog.Logger) (*Client, error) {
	auth, err := newHMACAuth(apiKey, privateKeyHex)
	if err != nil {
		return nil, err
	}
	return New(types.VenueB, wsURL, decodeVenueB, auth, buildSubscribeMsgB, logger), nil
}

func buildSubscribeMsgB(ids []string, subscribe bool) any {
	op := "sub"
	if !subscribe {
		op = "unsub"
	}
	return map[string]any{
		"op":      op,
		"channel": "orderbook",
		"markets": ids,
	}
}

func decodeVenueB(raw []byte) (types.OrderBookEvent, bool, error) {
	var env struct {
		Event string `json:"event"`
	}
	if err := peekEnvelope(raw, &env); err != nil {
		return types.OrderBookEvent{}, false, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event != "orderbook" {
		return types.OrderBookEvent{}, false, nil
	}

	var frame wireBookFrameB
	if err := json.Unmarshal(raw, &frame); err != nil {
		return types.OrderBookEvent{}, false, fmt.Errorf("decode book frame: %w", err)
	}
	if frame.Market == "" {
		return types.OrderBookEvent{}, false, fmt.Errorf("book frame missing market")
	}

	return types.OrderBookEvent{
		Venue:         types.VenueB,
		VenueMarketID: frame.Market,
		Bids:          convertLevelsB(frame.Bid),
		Asks:          convertLevelsB(frame.Ask),
		Timestamp:     time.UnixMilli(frame.TsMilli),
	}, true, nil
}

func convertLevelsB(levels []wireLevelB) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, types.PriceLevel{
			Price: decimal.NewFromFloat(l.Px),
			Size:  decimal.NewFromFloat(l.Qty),
		})
	}
	return out
}
