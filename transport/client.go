// Package transport maintains the persistent websocket connection to the
// agent runtime.
//
// The client delivers decoded frames in arrival order on a channel and
// reconnects with exponential backoff when the connection drops. Frame
// ordering is only guaranteed per connection: after a reconnect the caller
// must reset the stream assembler before trusting new frames, which is why
// connection status changes are surfaced on their own channel.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"agtui/config"
	"agtui/wire"
)

// Config holds transport configuration.
type Config struct {
	// ServerURL is the runtime's websocket URL, e.g. "ws://localhost:8123/ws".
	ServerURL string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the exponential backoff.
	MaxReconnectInterval time.Duration
}

// DefaultConfig returns sane defaults for a local runtime.
func DefaultConfig() Config {
	return Config{
		ServerURL:            "ws://localhost:8123/ws",
		HandshakeTimeout:     10 * time.Second,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}
}

// Status describes a connection state change.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// StatusChange is delivered on the status channel whenever the connection
// state changes. Err is set for disconnects caused by an error.
type StatusChange struct {
	Status Status
	Err    error
}

// Attachment is a user-supplied file sent along with a turn.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"` // base64
}

// turnRequest is the outbound message that starts a turn.
type turnRequest struct {
	Type        string       `json:"type"`
	Content     string       `json:"content"`
	ThreadID    string       `json:"thread_id,omitempty"`
	Agent       string       `json:"agent,omitempty"`
	AgentMode   string       `json:"agent_mode,omitempty"`
	Model       string       `json:"model,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Client is a persistent websocket client for the agent runtime.
type Client struct {
	cfg Config

	frames chan *wire.Frame
	status chan StatusChange

	// writeMu serializes writes; gorilla/websocket does not support
	// concurrent writers.
	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
}

// NewClient creates a client. Run must be called before frames arrive.
func NewClient(cfg Config) *Client {
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultConfig().ServerURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultConfig().ReconnectInterval
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = DefaultConfig().MaxReconnectInterval
	}
	return &Client{
		cfg:    cfg,
		frames: make(chan *wire.Frame, 64),
		status: make(chan StatusChange, 8),
	}
}

// Frames returns the channel of decoded inbound frames, in arrival order.
// Closed when Run returns.
func (c *Client) Frames() <-chan *wire.Frame {
	return c.frames
}

// Status returns the channel of connection state changes.
func (c *Client) Status() <-chan StatusChange {
	return c.status
}

// Run connects and pumps frames until ctx is cancelled, reconnecting with
// exponential backoff on failure. Blocks; run it on its own goroutine.
func (c *Client) Run(ctx context.Context) {
	defer close(c.frames)

	backoff := c.cfg.ReconnectInterval
	for {
		if ctx.Err() != nil {
			return
		}

		c.notify(StatusChange{Status: StatusConnecting})
		conn, err := c.dial(ctx)
		if err != nil {
			c.notify(StatusChange{Status: StatusDisconnected, Err: err})
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > c.cfg.MaxReconnectInterval {
				backoff = c.cfg.MaxReconnectInterval
			}
			continue
		}

		backoff = c.cfg.ReconnectInterval
		c.setConn(conn)
		c.notify(StatusChange{Status: StatusConnected})

		err = c.readLoop(ctx, conn)
		c.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.notify(StatusChange{Status: StatusDisconnected, Err: err})
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, c.cfg.ServerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.ServerURL, err)
	}
	return conn, nil
}

// readLoop decodes inbound messages until the connection fails or ctx is
// cancelled. Messages that fail to decode are logged and dropped — a
// malformed frame never tears down the connection.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frame, err := wire.DecodeFrame(data)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("transport: dropping undecodable frame: %v", err)
			}
			continue
		}

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SendTurn submits a user message to the runtime. The caller must reset its
// stream assembler before calling, so the response frames land in fresh
// accumulator state.
func (c *Client) SendTurn(text, threadID, agentName, agentMode, modelID string, attachments []Attachment) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}

	req := turnRequest{
		Type:        wire.TypeHuman,
		Content:     text,
		ThreadID:    threadID,
		Agent:       agentName,
		AgentMode:   agentMode,
		Model:       modelID,
		Attachments: attachments,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transport: encode turn: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("transport: send turn: %w", err)
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// notify delivers a status change without blocking; if the UI is not
// draining, older changes are dropped in favor of the newest.
func (c *Client) notify(change StatusChange) {
	for {
		select {
		case c.status <- change:
			return
		default:
			select {
			case <-c.status:
			default:
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
