// Package websocket is the gorilla/websocket client used by the websocket
// action. Clients are reusable across records through internal/pool.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned when a client is used before Connect.
var ErrNotConnected = errors.New("not connected")

// Message represents a WebSocket message to send or receive.
type Message struct {
	Type int // websocket.TextMessage or websocket.BinaryMessage
	Data []byte
}

// Text returns a text message.
func Text(s string) Message {
	return Message{Type: websocket.TextMessage, Data: []byte(s)}
}

// Metrics captures per-connection traffic counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Client represents a WebSocket client connection.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	connectTime  time.Time
	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
	errors       int64
}

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // per receive; 0 waits for the context
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// NewClient creates a new WebSocket client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024 // 1MB default
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// Connect establishes a WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		c.errors++
		if resp != nil {
			return &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	c.connectTime = time.Now()
	return nil
}

// HandshakeError reports a rejected upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket dial failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// SendMessage sends a message over the WebSocket connection.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_ = c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(msg.Type, msg.Data); err != nil {
		c.errors++
		return fmt.Errorf("write message: %w", err)
	}

	c.messagesSent++
	c.bytesSent += int64(len(msg.Data))
	return nil
}

// ReceiveMessage reads one message, waiting at most ReadTimeout or until ctx
// ends, whichever comes first.
func (c *Client) ReceiveMessage(ctx context.Context) (Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return Message{}, ErrNotConnected
	}

	_ = conn.SetReadDeadline(deadline(ctx, c.cfg.ReadTimeout))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		c.mu.Lock()
		c.errors++
		c.mu.Unlock()
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	c.mu.Lock()
	c.messagesRecv++
	c.bytesRecv += int64(len(data))
	c.mu.Unlock()

	return Message{Type: msgType, Data: data}, nil
}

// Exchange sends msgs in order. With expectReply it reads one reply after
// each message and returns the replies.
func (c *Client) Exchange(ctx context.Context, msgs []Message, expectReply bool) ([]Message, error) {
	var replies []Message
	for i, msg := range msgs {
		if err := c.SendMessage(ctx, msg); err != nil {
			return replies, fmt.Errorf("message %d: %w", i+1, err)
		}
		if !expectReply {
			continue
		}
		reply, err := c.ReceiveMessage(ctx)
		if err != nil {
			return replies, fmt.Errorf("reply %d: %w", i+1, err)
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// Close closes the WebSocket connection gracefully.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(5*time.Second),
	)

	closeErr := c.conn.Close()
	c.conn = nil

	if err != nil {
		return err
	}
	return closeErr
}

// Metrics returns the current metrics snapshot.
func (c *Client) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var duration time.Duration
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}

	return Metrics{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent,
		MessagesReceived:   c.messagesRecv,
		BytesSent:          c.bytesSent,
		BytesReceived:      c.bytesRecv,
		Errors:             c.errors,
	}
}

// Since returns the traffic counted after prev was taken. ConnectionDuration
// is left as is.
func (m Metrics) Since(prev Metrics) Metrics {
	m.MessagesSent -= prev.MessagesSent
	m.MessagesReceived -= prev.MessagesReceived
	m.BytesSent -= prev.BytesSent
	m.BytesReceived -= prev.BytesReceived
	m.Errors -= prev.Errors
	return m
}

// CloseCode returns the close code carried by err, or 0.
func CloseCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return 0
}

// deadline picks the earlier of ctx's deadline and now+timeout. A zero
// result clears the deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
