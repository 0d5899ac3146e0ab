// Package channel maintains the single push connection that delivers
// message-arrival events for the logged-in identity. The connection
// recovers from drops on its own; events missed while reconnecting are
// not replayed and are recovered by the next conversation refetch.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"fanlink-client/internal/models"
	"fanlink-client/internal/observability"
	"fanlink-client/internal/session"
)

// DefaultReconnectDelay matches the source behavior: a flat delay with
// no growth and no retry cap. Callers wanting exponential backoff can
// pass their own policy through WithBackOff.
const DefaultReconnectDelay = 3 * time.Second

// State of the channel lifecycle.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives every arrival event. Delivery order across handlers
// is unspecified.
type Handler func(models.Message)

// DialFunc opens one websocket connection. Tests substitute their own.
type DialFunc func(ctx context.Context, rawURL string) (*websocket.Conn, error)

// Channel is the auto-reconnecting push connection. It owns the
// connection lifecycle only and never buffers application state.
type Channel struct {
	baseURL    string
	sess       *session.Session
	log        *slog.Logger
	newBackOff func() backoff.BackOff
	dial       DialFunc

	mu         sync.Mutex
	state      State
	identityID string
	cancel     context.CancelFunc
	done       chan struct{}

	hmu         sync.RWMutex
	handlers    map[int]Handler
	nextHandler int
}

// Option tweaks channel construction.
type Option func(*Channel)

// WithBackOff replaces the reconnect delay policy. The factory is
// invoked once per Connect; the policy is reset after each successful
// open.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Channel) { c.newBackOff = f }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d DialFunc) Option {
	return func(c *Channel) { c.dial = d }
}

// New builds a channel against baseURL (ws:// or wss://, no trailing
// slash).
func New(baseURL string, sess *session.Session, log *slog.Logger, opts ...Option) *Channel {
	if log == nil {
		log = slog.Default()
	}
	c := &Channel{
		baseURL: baseURL,
		sess:    sess,
		log:     log,
		newBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(DefaultReconnectDelay)
		},
		dial:     defaultDial,
		handlers: make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the connection scoped to the identity. Calling it while
// the channel is already running is a no-op. Transport errors are never
// surfaced to the caller; the channel retries on its own.
func (c *Channel) Connect(identityID string) {
	c.mu.Lock()
	switch c.state {
	case Connecting, Open, Reconnecting:
		c.mu.Unlock()
		c.log.Debug("connect ignored, channel already running", "identity", c.identityID)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.identityID = identityID
	c.state = Connecting
	c.mu.Unlock()

	observability.IncChannelEvent("connect")
	go c.run(ctx, identityID, done)
}

// OnMessageArrived registers a handler for every arrival event and
// returns its unsubscribe func. Handlers survive reconnects.
func (c *Channel) OnMessageArrived(h Handler) func() {
	c.hmu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.handlers[id] = h
	c.hmu.Unlock()
	return func() {
		c.hmu.Lock()
		delete(c.handlers, id)
		c.hmu.Unlock()
	}
}

// Disconnect releases the connection and cancels any pending reconnect
// permanently. Safe to call multiple times.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	wasRunning := c.state == Connecting || c.state == Open || c.state == Reconnecting
	c.cancel = nil
	c.done = nil
	c.state = Closed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if wasRunning {
		observability.IncChannelEvent("disconnect")
	}
}

// State reports the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) run(ctx context.Context, identityID string, done chan struct{}) {
	defer close(done)
	defer observability.SetChannelOpen(false)

	bo := c.newBackOff()
	for {
		c.setState(Connecting)

		dialCtx, span := otel.Tracer("fanlink-client/channel").Start(ctx, "channel.handshake")
		conn, err := c.dial(dialCtx, c.endpoint(identityID))
		span.End()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("channel dial failed", "identity", identityID, "error", err)
			observability.IncChannelEvent("dial_error")
			if !c.waitRetry(ctx, bo) {
				return
			}
			continue
		}

		bo.Reset()
		c.setState(Open)
		observability.SetChannelOpen(true)
		c.log.Info("channel open", "identity", identityID)

		c.readLoop(ctx, conn)
		_ = conn.Close()
		observability.SetChannelOpen(false)

		if ctx.Err() != nil {
			return
		}
		observability.IncChannelEvent("reconnect")
		if !c.waitRetry(ctx, bo) {
			return
		}
	}
}

func (c *Channel) waitRetry(ctx context.Context, bo backoff.BackOff) bool {
	c.setState(Reconnecting)
	d := bo.NextBackOff()
	if d == backoff.Stop {
		c.log.Warn("reconnect policy exhausted, channel giving up")
		return false
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("channel read failed", "error", err)
				observability.IncChannelEvent("read_error")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("channel frame not decodable", "error", err)
			continue
		}
		// Only new-message envelopes are part of the contract.
		if env.Type != models.EnvelopeMessage || env.Message == nil {
			continue
		}
		observability.IncChannelEvent("message")
		c.dispatch(*env.Message)
	}
}

func (c *Channel) dispatch(msg models.Message) {
	c.hmu.RLock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.hmu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}

// setState records a transition unless the channel was explicitly
// closed; Closed is terminal for this run.
func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state != Closed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Channel) endpoint(identityID string) string {
	u := c.baseURL + "/ws/identities/" + url.PathEscape(identityID)
	if tok := c.sess.Token(); tok != "" {
		u += "?token=" + url.QueryEscape(tok)
	}
	return u
}

func defaultDial(ctx context.Context, rawURL string) (*websocket.Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}
