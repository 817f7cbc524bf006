package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"chatsync/pkg/chat"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 1 << 16
)

// Config holds what Conn needs to reach the server.
type Config struct {
	// URL is the full websocket endpoint, e.g. ws://host:port/ws.
	URL string

	// Token is the session JWT presented as a bearer credential.
	Token string

	// ReconnectBase and ReconnectCap bound the exponential backoff
	// between reconnect attempts.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	HandshakeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Conn owns the single persistent logical connection to the server. It
// redials with capped exponential backoff, decodes push frames into tagged
// payloads, and reports lifecycle transitions as events. Consumers read
// Events from a single goroutine.
type Conn struct {
	cfg      Config
	log      zerolog.Logger
	clientID string

	mu    sync.Mutex
	ws    *websocket.Conn
	state State

	events chan any
}

func New(cfg Config, log zerolog.Logger) (*Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("transport: empty server url")
	}
	cfg.applyDefaults()

	clientID, err := nanoid.New(8)
	if err != nil {
		return nil, err
	}

	return &Conn{
		cfg:      cfg,
		log:      log,
		clientID: clientID,
		state:    StateDisconnected,
		events:   make(chan any, 64),
	}, nil
}

// Events delivers StateChange and Inbound events in receipt order. Receipt
// order across a disconnect boundary is not guaranteed relative to
// pre-disconnect events; consumers treat a reconnect as a resync point.
func (c *Conn) Events() <-chan any { return c.events }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ClientID is this connection's instance identifier, presented on dial.
func (c *Conn) ClientID() string { return c.clientID }

// Run dials and pumps the connection until ctx is canceled, redialing after
// every drop. It closes the events channel on return.
func (c *Conn) Run(ctx context.Context) {
	defer close(c.events)

	for {
		if ctx.Err() != nil {
			return
		}

		c.transition(ctx, StateConnecting, nil)
		ws, err := c.dial(ctx)
		if err != nil {
			// Only context cancellation escapes the backoff loop.
			c.transition(ctx, StateDisconnected, err)
			return
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()
		c.transition(ctx, StateConnected, nil)

		readErr := c.pump(ctx, ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
		c.transition(ctx, StateDisconnected, readErr)
	}
}

// Send frames and writes an intent. Returns chat.ErrDisconnected while the
// channel is down; intents are not queued.
func (c *Conn) Send(event string, payload any) error {
	frame, err := chat.EncodeIntent(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.state != StateConnected {
		return chat.ErrDisconnected
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	header.Set("X-Client-ID", c.clientID)

	backoff := retry.WithCappedDuration(c.cfg.ReconnectCap, retry.NewExponential(c.cfg.ReconnectBase))

	var ws *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil {
			c.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("dial failed, backing off")
			return retry.RetryableError(err)
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// pump reads frames until the connection drops or ctx is canceled, decoding
// each into a tagged payload. Unknown and malformed frames are logged and
// dropped, never fatal.
func (c *Conn) pump(ctx context.Context, ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, ws)

	// Unblock the read loop when ctx is canceled; ReadMessage has no
	// context of its own.
	go func() {
		<-pingCtx.Done()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		payload, err := chat.DecodeEvent(data)
		if err != nil {
			if errors.Is(err, chat.ErrUnknownEvent) {
				c.log.Warn().Err(err).Msg("dropping unknown push event")
			} else {
				c.log.Warn().Err(err).Msg("dropping malformed frame")
			}
			continue
		}

		select {
		case c.events <- Inbound{Payload: payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) transition(ctx context.Context, next State, err error) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev == next {
		return
	}

	c.log.Info().Str("from", prev.String()).Str("to", next.String()).Err(err).Msg("connection state changed")

	// Lifecycle transitions must never be lost behind a backlog of inbound
	// frames; block like the frame path does.
	select {
	case c.events <- StateChange{Old: prev, New: next, Err: err}:
	case <-ctx.Done():
	}
}
