package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/live/protocol"
)

// ErrNotConnected is returned by Send while the transport is down. Callers
// keep their optimistic local state; there is no queueing or replay. A
// reconnecting client re-fetches a full snapshot through the CRUD boundary.
var ErrNotConnected = errors.New("gateway: not connected")

// EnvelopeHandler receives inbound envelopes on the reader goroutine.
type EnvelopeHandler func(protocol.Envelope)

// DisconnectHandler is notified when the transport drops, before any
// reconnect attempt.
type DisconnectHandler func(err error)

// Config holds configuration for a live event client connection.
type Config struct {
	// URL is the hub's WebSocket endpoint, e.g. ws://host:8081/ws/live.
	URL     string
	EventID uuid.UUID
	UserID  string
	Role    protocol.Role

	WriteTimeout     time.Duration
	ReconnectWait    time.Duration // initial backoff between redials
	MaxReconnectWait time.Duration // backoff cap
}

// DefaultConfig returns client connection defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:     10 * time.Second,
		ReconnectWait:    time.Second,
		MaxReconnectWait: 30 * time.Second,
	}
}

// Client is the bidirectional real-time channel for one live event. It sends
// locally-originated envelopes outward and delivers remote envelopes to the
// registered handler, reconnecting automatically when the transport drops.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	onEnvelope   EnvelopeHandler
	onDisconnect DisconnectHandler

	mu       sync.Mutex
	conn     *websocket.Conn
	originID string
	closed   bool

	writeMu sync.Mutex // gorilla allows a single writer per connection
}

// NewClient creates a Client for one event. Handlers must be registered
// before Run.
func NewClient(cfg Config) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = DefaultConfig().ReconnectWait
	}
	if cfg.MaxReconnectWait <= 0 {
		cfg.MaxReconnectWait = DefaultConfig().MaxReconnectWait
	}
	return &Client{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		originID: uuid.New().String(),
	}
}

// OriginID identifies this client in envelope Origin fields.
func (c *Client) OriginID() string {
	return c.originID
}

// OnEnvelope registers the inbound envelope handler.
func (c *Client) OnEnvelope(fn EnvelopeHandler) {
	c.onEnvelope = fn
}

// OnDisconnect registers the transport-drop handler.
func (c *Client) OnDisconnect(fn DisconnectHandler) {
	c.onDisconnect = fn
}

// Run dials the hub and keeps the connection alive until ctx is cancelled or
// Close is called, redialing with capped backoff after each drop.
func (c *Client) Run(ctx context.Context) error {
	wait := c.cfg.ReconnectWait

	for {
		if c.isClosed() {
			return nil
		}

		err := c.connectAndRead(ctx)
		if err == nil || c.isClosed() || ctx.Err() != nil {
			return nil
		}

		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
		log.Warn().
			Err(err).
			Str("event_id", c.cfg.EventID.String()).
			Dur("retry_in", wait).
			Msg("gateway connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait *= 2
		if wait > c.cfg.MaxReconnectWait {
			wait = c.cfg.MaxReconnectWait
		}
	}
}

// connectAndRead dials once and reads until the connection fails. A nil
// return means a clean local shutdown.
func (c *Client) connectAndRead(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.mu.Unlock()

	log.Info().
		Str("event_id", c.cfg.EventID.String()).
		Str("origin", c.originID).
		Str("role", string(c.cfg.Role)).
		Msg("gateway connected")

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if c.isClosed() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read envelope: %w", err)
		}

		// Channel-side scoping: a mismatched event ID is a routing bug
		// upstream and must never reach the session.
		if env.EventID != c.cfg.EventID.String() {
			log.Warn().
				Str("event_id", env.EventID).
				Str("expected", c.cfg.EventID.String()).
				Str("type", string(env.Type)).
				Msg("dropping envelope for mismatched event")
			continue
		}

		if c.onEnvelope != nil {
			c.onEnvelope(env)
		}
	}
}

// Send transmits an envelope, stamping this client as its origin. While
// disconnected it returns ErrNotConnected without queueing. Sends arrive
// concurrently (debouncer timer callbacks race direct sends from the UI
// goroutine), so the deadline and write are serialized under writeMu.
func (c *Client) Send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	env.Origin = c.originID

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}

// Connected reports whether the transport is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close shuts the client down. Run returns after the in-flight read fails.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage, []byte{})
		conn.Close()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse gateway URL: %w", err)
	}
	q := u.Query()
	q.Set("event_id", c.cfg.EventID.String())
	q.Set("user_id", c.cfg.UserID)
	q.Set("role", string(c.cfg.Role))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
