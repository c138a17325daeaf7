// Package venue implements the venue stream clients: one persistent
// streaming connection per venue that normalizes order-book updates and
// re-subscribes on reconnect. The state machine, reconnect policy, and
// subscription tracking are shared (client.go); per-venue message decoding
// and auth differences live in venue_a.go and venue_b.go.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arb-engine/internal/types"
)

// State is the client's connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateAuthPending  State = "auth_pending" // Venue B only
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateReconnecting State = "reconnecting"
)

const (
	heartbeatInterval = 30 * time.Second
	authTimeout       = 5 * time.Second
	writeTimeout      = 10 * time.Second
	eventBufferSize   = 256
)

// Decoder is the per-venue message-normalization hook. It receives one raw
// stream frame and returns a normalized OrderBookEvent, or ok=false if the
// frame isn't a book update (e.g. a heartbeat ack or a trade notification
// this client doesn't forward). A decode error means a malformed message:
// the caller logs and drops it without disturbing the stream.
type Decoder func(raw []byte) (evt types.OrderBookEvent, ok bool, err error)

// Authenticator performs a venue's post-open handshake, if it has one.
// Venue A's implementation is a no-op; Venue B's sends an HMAC-signed auth
// frame and waits for a success reply.
type Authenticator interface {
	// Authenticate runs immediately after the stream opens. ctx is bound to
	// the 5s auth timeout. Returning an error closes the stream and defers
	// to the reconnect policy.
	Authenticate(ctx context.Context, conn *websocket.Conn) error
}

// noAuth is Venue A's Authenticator: the stream is usable immediately.
type noAuth struct{}

func (noAuth) Authenticate(context.Context, *websocket.Conn) error { return nil }

// SubscribeMessage builds the venue-specific wire message for a
// (de)subscription request over the given ids.
type SubscribeMessage func(ids []string, subscribe bool) any

// Client is one venue stream client. Exactly two are constructed at
// startup, one per venue.
type Client struct {
	venue             types.Venue
	url               string
	decode            Decoder
	auth              Authenticator
	buildSubscribeMsg SubscribeMessage

	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
	state  State
	cancel context.CancelFunc

	// desired-subscription set: the client's own state, independent of the
	// live stream, so reconnect can re-issue every subscription without
	// relying on the venue to remember.
	subMu   sync.RWMutex
	desired map[string]bool

	bookCh chan types.OrderBookEvent
	connCh chan types.ConnectionEvent

	backoff *Backoff

	lastPong   time.Time
	lastPongMu sync.Mutex
}

// New constructs a Client for one venue. decode and buildSubscribeMsg
// encapsulate the venue-specific wire format; auth is noAuth{} for Venue A
// and a *hmacAuth for Venue B (see venue_a.go / venue_b.go).
func New(v types.Venue, url string, decode Decoder, auth Authenticator, buildSubscribeMsg SubscribeMessage, logger *slog.Logger) *Client {
	if auth == nil {
		auth = noAuth{}
	}
	return &Client{
		venue:             v,
		url:               url,
		decode:            decode,
		auth:              auth,
		buildSubscribeMsg: buildSubscribeMsg,
		logger:            logger.With("component", "venue_client", "venue", string(v)),
		state:             StateIdle,
		desired:           make(map[string]bool),
		bookCh:            make(chan types.OrderBookEvent, eventBufferSize),
		connCh:            make(chan types.ConnectionEvent, 16),
		backoff:           NewBackoff(),
	}
}

// BookEvents returns the stream of normalized order-book updates. Events
// for one venue_market_id are emitted in arrival order; across markets,
// order is unspecified.
func (c *Client) BookEvents() <-chan types.OrderBookEvent { return c.bookCh }

// ConnectionEvents returns connected/disconnected/error lifecycle events.
func (c *Client) ConnectionEvents() <-chan types.ConnectionEvent { return c.connCh }

// Subscribe adds venueMarketID to the desired-subscription set. Idempotent:
// calling twice has the same observable effect as calling once. If the
// stream is open, the subscription is sent immediately; otherwise it is
// buffered and re-issued on connect.
func (c *Client) Subscribe(venueMarketID string) error {
	c.subMu.Lock()
	alreadyDesired := c.desired[venueMarketID]
	c.desired[venueMarketID] = true
	c.subMu.Unlock()

	if alreadyDesired {
		return nil
	}
	if c.isOpen() {
		return c.sendSubscribe([]string{venueMarketID}, true)
	}
	return nil
}

// Unsubscribe removes venueMarketID from the desired-subscription set.
func (c *Client) Unsubscribe(venueMarketID string) error {
	c.subMu.Lock()
	wasDesired := c.desired[venueMarketID]
	delete(c.desired, venueMarketID)
	c.subMu.Unlock()

	if !wasDesired {
		return nil
	}
	if c.isOpen() {
		return c.sendSubscribe([]string{venueMarketID}, false)
	}
	return nil
}

// Disconnect cancels any pending reconnect, closes the stream, and clears
// the desired-subscription set.
func (c *Client) Disconnect() {
	c.setState(StateClosing)
	c.subMu.Lock()
	c.desired = make(map[string]bool)
	c.subMu.Unlock()

	c.connMu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()
	c.setState(StateIdle)
}

func (c *Client) isOpen() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.state == StateOpen
}

func (c *Client) setState(s State) {
	c.connMu.Lock()
	c.state = s
	c.connMu.Unlock()
}

// Run connects and maintains the stream with auto-reconnect until ctx is
// cancelled or Disconnect is called.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.connMu.Lock()
	c.cancel = cancel
	c.connMu.Unlock()

	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			c.setState(StateIdle)
			return ctx.Err()
		}

		c.emitConn(types.ConnDisconnected, errString(err))

		if c.backoff.Exhausted() {
			c.emitConn(types.ConnError, "max_retries")
			c.setState(StateIdle)
			return fmt.Errorf("venue %s: exhausted reconnect attempts: %w", c.venue, err)
		}

		c.setState(StateReconnecting)
		if waitErr := c.backoff.Wait(ctx); waitErr != nil {
			c.setState(StateIdle)
			return waitErr
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		conn.Close()
		c.conn = nil
		c.connMu.Unlock()
	}()

	if _, isB := c.auth.(*hmacAuth); isB {
		c.setState(StateAuthPending)
		authCtx, cancel := context.WithTimeout(ctx, authTimeout)
		authErr := c.auth.Authenticate(authCtx, conn)
		cancel()
		if authErr != nil {
			return fmt.Errorf("auth: %w", authErr)
		}
	} else if err := c.auth.Authenticate(ctx, conn); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	conn.SetReadDeadline(time.Time{})
	c.setState(StateOpen)
	c.backoff.Reset()
	c.emitConn(types.ConnConnected, "")

	if err := c.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()

	conn.SetPongHandler(func(string) error {
		c.lastPongMu.Lock()
		c.lastPong = time.Now()
		c.lastPongMu.Unlock()
		return nil
	})

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleMessage(msg)
	}
}

// resubscribeAll re-issues every desired subscription on (re)connect,
// exactly once per market.
func (c *Client) resubscribeAll() error {
	c.subMu.RLock()
	ids := make([]string, 0, len(c.desired))
	for id := range c.desired {
		ids = append(ids, id)
	}
	c.subMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return c.sendSubscribe(ids, true)
}

func (c *Client) sendSubscribe(ids []string, subscribe bool) error {
	msg := c.buildSubscribeMsg(ids, subscribe)
	return c.writeJSON(msg)
}

// handleMessage decodes one raw frame. Malformed messages are logged and
// dropped without disturbing the stream.
func (c *Client) handleMessage(raw []byte) {
	evt, ok, err := c.decode(raw)
	if err != nil {
		c.logger.Warn("dropping malformed venue message", "error", err)
		return
	}
	if !ok {
		return
	}
	select {
	case c.bookCh <- evt:
	default:
		c.logger.Warn("book event channel full, dropping event", "venue_market_id", evt.VenueMarketID)
	}
}

// heartbeatLoop sends a ping every 30s while Open; two consecutive missed
// pongs close the stream.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.lastPongMu.Lock()
			since := time.Since(c.lastPong)
			c.lastPongMu.Unlock()

			if since > heartbeatInterval {
				missed++
			} else {
				missed = 0
			}
			if missed >= 2 {
				c.logger.Warn("two consecutive missed pongs, closing stream")
				c.connMu.Lock()
				if c.conn != nil {
					c.conn.Close()
				}
				c.connMu.Unlock()
				return
			}

			if err := c.writePing(); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) writePing() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) emitConn(kind types.ConnectionEventKind, reason string) {
	evt := types.ConnectionEvent{Venue: c.venue, Kind: kind, Reason: reason}
	select {
	case c.connCh <- evt:
	default:
		c.logger.Warn("connection event channel full, dropping event", "kind", kind)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// peekEnvelope unmarshals just enough of a raw frame to read its
// discriminator field before deciding the concrete type to decode into.
func peekEnvelope(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
