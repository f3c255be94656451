// Package transport maintains the realtime channel to the chat backend:
// one websocket connection multiplexing per-room event feeds, with
// subscription lifecycle handling and automatic reconnect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roomsync/internal/models"
)

const (
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdTypingStart = "typing.start"
	cmdTypingStop  = "typing.stop"
	cmdPresence    = "presence.update"

	srvEvent  = "event"
	srvSubAck = "sub.ack"
)

// envelope is the wire frame in both directions.
type envelope struct {
	Type   string                `json:"type"`
	RoomID string                `json:"roomId,omitempty"`
	Status models.PresenceStatus `json:"status,omitempty"`
	Event  *models.Event         `json:"event,omitempty"`
}

type EventHandler func(models.Event)

type Config struct {
	URL   string
	Token string

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	// MaxReconnectAttempts of 0 means retry until the context is cancelled.
	MaxReconnectAttempts int

	Dialer *websocket.Dialer
}

func (c *Config) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Client owns the websocket connection. Run blocks, redialing with
// exponential backoff after transport-level disconnects; the subscription
// manager re-attaches its rooms through the onConnect hook, so callers only
// ever observe a continuous event feed.
type Client struct {
	cfg Config
	log *slog.Logger

	handler   EventHandler
	onAck     func(roomID string)
	onConnect func()

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, log: log}
}

// OnEvent sets the handler for pushed events. Must be called before Run.
func (c *Client) OnEvent(h EventHandler) { c.handler = h }

// Run dials and pumps events until the context is cancelled or the
// reconnect budget is exhausted.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connectedAt := time.Now()
		err := c.runConn(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// A connection that lived a while resets the backoff.
		if time.Since(connectedAt) > time.Minute {
			attempt = 0
		}
		if c.cfg.MaxReconnectAttempts > 0 && attempt >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("realtime transport gave up after %d attempts: %w", attempt, err)
		}

		delay := c.nextDelay(attempt)
		attempt++
		c.log.Warn("realtime disconnected, reconnecting",
			"attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) nextDelay(attempt int) time.Duration {
	base := float64(c.cfg.ReconnectBaseDelay)
	jitter := rand.Float64() * base * 0.5
	delay := math.Min(base*math.Pow(2, float64(attempt))+jitter, float64(c.cfg.ReconnectMaxDelay))
	return time.Duration(delay)
}

func (c *Client) runConn(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("token", c.cfg.Token)
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", c.cfg.URL, resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if c.onConnect != nil {
		c.onConnect()
	}

	// Close the socket when the context dies so ReadJSON unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		c.route(env)
	}
}

func (c *Client) route(env envelope) {
	switch env.Type {
	case srvEvent:
		if env.Event == nil {
			c.log.Warn("event frame without payload")
			return
		}
		if c.handler != nil {
			c.handler(*env.Event)
		}
	case srvSubAck:
		if c.onAck != nil {
			c.onAck(env.RoomID)
		}
	default:
		c.log.Debug("ignoring frame", "type", env.Type)
	}
}

func (c *Client) send(env envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) sendSubscribe(roomID string) error {
	return c.send(envelope{Type: cmdSubscribe, RoomID: roomID})
}

func (c *Client) sendUnsubscribe(roomID string) error {
	return c.send(envelope{Type: cmdUnsubscribe, RoomID: roomID})
}

// SendTyping publishes the local user's typing state for a room.
func (c *Client) SendTyping(roomID string, typing bool) error {
	cmd := cmdTypingStop
	if typing {
		cmd = cmdTypingStart
	}
	return c.send(envelope{Type: cmd, RoomID: roomID})
}

// SendPresence publishes the local user's status. It doubles as the
// presence heartbeat when called periodically with the current status.
func (c *Client) SendPresence(status models.PresenceStatus) error {
	return c.send(envelope{Type: cmdPresence, Status: status})
}

// Connected reports whether a live connection currently exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

var errAckTimeout = errors.New("subscribe ack timeout")
