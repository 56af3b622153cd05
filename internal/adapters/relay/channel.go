// Package relay implements the client side of the relay signaling
// connection: a durable, auto-reconnecting websocket that exchanges
// named session-lifecycle events between two parties.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/medconnect/callkit/internal/core"
	"github.com/medconnect/callkit/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 2 * time.Second
	writeDeadline      = 5 * time.Second
)

// Options configures one relay channel.
type Options struct {
	// URL is the relay websocket endpoint.
	URL string
	// Identity is announced on every (re)connect so the relay can
	// re-route in-flight events after a drop.
	Identity core.JoinPayload
	// MaxAttempts and RetryDelay bound the reconnect loop.
	MaxAttempts int
	RetryDelay  time.Duration
}

// wsConn is one live websocket with its outbound queue.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) trySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Channel implements core.SignalChannel over gorilla/websocket.
type Channel struct {
	opts Options
	log  zerolog.Logger

	mu        sync.RWMutex
	conn      *wsConn
	ready     bool
	started   bool
	voluntary bool
	handlers  map[core.EventName][]func([]byte)

	onReady  func()
	onError  func(error)
	onClosed func(voluntary bool)
}

func NewChannel(opts Options) *Channel {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Channel{
		opts:     opts,
		log:      log.With().Str("module", "relay.client").Str("party", string(opts.Identity.PartyID)).Logger(),
		handlers: make(map[core.EventName][]func([]byte)),
	}
}

func (ch *Channel) On(event core.EventName, handler func([]byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[event] = append(ch.handlers[event], handler)
}

func (ch *Channel) OnReady(fn func()) { ch.onReady = fn }
func (ch *Channel) OnError(fn func(error)) { ch.onError = fn }
func (ch *Channel) OnClosed(fn func(voluntary bool)) { ch.onClosed = fn }

func (ch *Channel) IsReady() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.ready
}

// Connect is idempotent; the first call starts the manage loop, which
// keeps dialing with bounded retry until told to stop.
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.started {
		ch.mu.Unlock()
		return nil
	}
	ch.started = true
	ch.mu.Unlock()
	go ch.manage(ctx)
	return nil
}

// Send routes a named event to the target party, fire-and-forget.
func (ch *Channel) Send(event core.EventName, payload any, to domain.PartyID) error {
	ch.mu.RLock()
	conn, ready := ch.conn, ch.ready
	ch.mu.RUnlock()
	if !ready || conn == nil {
		return core.ErrChannelNotReady
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := core.Envelope{
		Type:     event,
		To:       to,
		From:     ch.opts.Identity.PartyID,
		FromName: ch.opts.Identity.DisplayName,
		Payload:  raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.trySend(b)
}

// Close is the voluntary local disconnect (explicit logout).
func (ch *Channel) Close() {
	ch.mu.Lock()
	ch.voluntary = true
	conn := ch.conn
	started := ch.started
	ch.mu.Unlock()
	if conn != nil {
		conn.close()
	}
	if !started && ch.onClosed != nil {
		ch.onClosed(true)
	}
}

func (ch *Channel) manage(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil || ch.isVoluntary() {
			ch.finish(ch.isVoluntary(), nil)
			return
		}
		raw, _, err := websocket.DefaultDialer.DialContext(ctx, ch.opts.URL, nil)
		if err != nil {
			attempts++
			ch.log.Warn().Err(err).Int("attempt", attempts).Msg("relay dial failed")
			if attempts >= ch.opts.MaxAttempts {
				ch.finish(false, err)
				return
			}
			select {
			case <-ctx.Done():
			case <-time.After(ch.opts.RetryDelay):
			}
			continue
		}
		attempts = 0
		conn := &wsConn{conn: raw, send: make(chan core.Frame, 32)}

		ch.mu.Lock()
		ch.conn = conn
		ch.ready = true
		ch.mu.Unlock()

		ch.announce()
		if ch.onReady != nil {
			ch.onReady()
		}

		go ch.writePump(conn)
		ch.readPump(conn) // blocks until the connection dies
		conn.close()

		ch.mu.Lock()
		ch.ready = false
		ch.conn = nil
		ch.mu.Unlock()

		if ch.isVoluntary() {
			ch.finish(true, nil)
			return
		}
		ch.log.Warn().Msg("relay connection dropped, reconnecting")
	}
}

// announce re-sends local identity so the relay can route to us.
func (ch *Channel) announce() {
	raw, err := json.Marshal(ch.opts.Identity)
	if err != nil {
		return
	}
	env := core.Envelope{Type: core.EventJoin, From: ch.opts.Identity.PartyID, Payload: raw}
	b, _ := json.Marshal(env)
	ch.mu.RLock()
	conn := ch.conn
	ch.mu.RUnlock()
	if conn != nil {
		if err := conn.trySend(b); err != nil {
			ch.log.Error().Err(err).Msg("join announce failed")
		}
	}
}

func (ch *Channel) finish(voluntary bool, err error) {
	if err != nil && ch.onError != nil {
		ch.onError(err)
	}
	if ch.onClosed != nil {
		ch.onClosed(voluntary)
	}
}

func (ch *Channel) writePump(c *wsConn) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			ch.log.Error().Err(err).Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			ch.log.Error().Err(err).Msg("writePump write error")
			return
		}
	}
}

// readPump dispatches inbound events one at a time, in arrival order.
func (ch *Channel) readPump(c *wsConn) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			ch.log.Warn().Err(err).Msg("readPump read error")
			return
		}
		var env core.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			ch.log.Error().Err(err).Msg("bad envelope")
			continue
		}
		ch.mu.RLock()
		handlers := ch.handlers[env.Type]
		ch.mu.RUnlock()
		if len(handlers) == 0 {
			ch.log.Debug().Str("type", string(env.Type)).Msg("unhandled event")
			continue
		}
		for _, h := range handlers {
			h(env.Payload)
		}
	}
}

func (ch *Channel) isVoluntary() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.voluntary
}
