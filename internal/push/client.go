// Package push receives server-initiated state updates from the backend's
// Socket.IO endpoint.
//
// Only the websocket transport is spoken: the client opens a websocket with
// EIO=4, reads the open packet, joins the default namespace and then turns
// every event frame into an Event. Reconnection is left to the caller.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/safesim/simdash/internal/model"
)

// DefaultPath is where Flask-SocketIO mounts its endpoint
const DefaultPath = "/socket.io/"

// EventName is the name of a pushed event
type EventName string

const (
	EventSimulationState  EventName = "simulation_state"
	EventPIStarted        EventName = "pi_started"
	EventSprintStarted    EventName = "sprint_started"
	EventStandupCompleted EventName = "standup_completed"
	EventSprintEnded      EventName = "sprint_ended"
	EventPIEnded          EventName = "pi_ended"
	EventChangeProcessed  EventName = "change_processed"
)

// StateEvents returns the events whose snapshot is applied to the store
func StateEvents() []EventName {
	return []EventName{
		EventSimulationState, EventPIStarted, EventSprintStarted,
		EventStandupCompleted, EventSprintEnded, EventPIEnded,
	}
}

// CarriesState reports whether the event's snapshot is applied
func (n EventName) CarriesState() bool {
	for _, e := range StateEvents() {
		if n == e {
			return true
		}
	}
	return false
}

// Event is one decoded push event
type Event struct {
	Name       EventName
	Snapshot   *model.Snapshot // nil when the event is Other or has no state
	Payload    json.RawMessage
	Other      bool
	ReceivedAt time.Time
}

// ErrDisconnected is returned by Run when the server closes the session
var ErrDisconnected = errors.New("push channel disconnected")

// Option configures Dial
type Option func(*dialConfig)

type dialConfig struct {
	path   string
	dialer *websocket.Dialer
	logger *slog.Logger
}

// WithPath overrides DefaultPath
func WithPath(p string) Option {
	return func(c *dialConfig) { c.path = p }
}

// WithDialer replaces the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *dialConfig) { c.dialer = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *dialConfig) { c.logger = l }
}

// Client is one live push session
type Client struct {
	conn      *websocket.Conn
	handshake Handshake
	logger    *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
}

// EndpointURL builds the websocket URL for a backend base URL
func EndpointURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = url.Values{"EIO": {"4"}, "transport": {"websocket"}}.Encode()
	return u.String(), nil
}

// Dial connects to the backend and joins the default namespace.
func Dial(ctx context.Context, baseURL string, opts ...Option) (*Client, error) {
	cfg := dialConfig{path: DefaultPath, dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	endpoint, err := EndpointURL(baseURL, cfg.path)
	if err != nil {
		return nil, err
	}

	conn, resp, err := cfg.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c := &Client{conn: conn, logger: cfg.logger}
	if err := c.handshakeWith(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	c.logger.Info("push channel connected", "sid", c.handshake.SID, "endpoint", endpoint)
	return c, nil
}

func (c *Client) handshakeWith(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
		defer c.conn.SetReadDeadline(time.Time{})
	}

	raw, err := c.read()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	f, err := parseFrame(raw)
	if err != nil || f.kind != packetOpen {
		return fmt.Errorf("expected open packet, got %q", raw)
	}
	if err := json.Unmarshal([]byte(f.body), &c.handshake); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}

	if err := c.write(FrameConnect); err != nil {
		return fmt.Errorf("join namespace: %w", err)
	}
	return nil
}

// SID returns the Engine.IO session id
func (c *Client) SID() string { return c.handshake.SID }

// Run reads frames until the context is cancelled or the connection ends,
// calling fn for every event in arrival order. It answers pings itself.
func (c *Client) Run(ctx context.Context, fn func(Event)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		if idle := c.handshake.idleTimeout(); idle > 0 {
			c.conn.SetReadDeadline(time.Now().Add(idle))
		}
		raw, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}

		f, err := parseFrame(raw)
		if err != nil {
			c.logger.Warn("dropping malformed push frame", "frame", raw, "error", err)
			continue
		}

		switch f.kind {
		case packetPing:
			if err := c.write(FramePong); err != nil {
				return fmt.Errorf("answer ping: %w", err)
			}
		case packetClose:
			return ErrDisconnected
		case packetPong, packetNoop, packetUpgrade, packetOpen:
		case packetMessage:
			if f.namespace != "" {
				c.logger.Debug("ignoring push frame for another namespace", "namespace", f.namespace)
				continue
			}
			switch f.sioKind {
			case sioConnect:
				c.logger.Debug("push namespace joined", "body", f.body)
			case sioDisconnect:
				return ErrDisconnected
			case sioConnectError:
				return fmt.Errorf("namespace connect refused: %s", f.body)
			case sioEvent:
				ev, err := toEvent(f.body)
				if err != nil {
					c.logger.Warn("dropping undecodable push event", "error", err)
					continue
				}
				fn(ev)
			}
		default:
			c.logger.Debug("ignoring push frame", "frame", raw)
		}
	}
}

func toEvent(body string) (Event, error) {
	name, arg, err := decodeEvent(body)
	if err != nil {
		return Event{}, err
	}
	ev := Event{
		Name:       EventName(name),
		Payload:    arg,
		ReceivedAt: time.Now(),
		Other:      !EventName(name).CarriesState(),
	}
	if ev.Other || len(arg) == 0 {
		return ev, nil
	}

	var payload struct {
		State *model.Snapshot `json:"state"`
	}
	if err := json.Unmarshal(arg, &payload); err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", name, err)
	}
	ev.Snapshot = payload.State
	return ev, nil
}

// Close leaves the namespace and closes the websocket. Safe to call twice.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.write(FrameDisconnect)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) read() (string, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *Client) write(frame string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
