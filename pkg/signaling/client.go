// Package signaling keeps the broadcaster's websocket to the signaling
// relay open and turns inbound frames into protocol messages.
package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds one inbound frame (SDP blobs are a few KB)
	maxMessageSize = 256 * 1024

	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReconnectDelay   = time.Second
	DefaultMaxReconnects    = 5
	DefaultSendBuffer       = 64
)

// Handler receives inbound messages in arrival order.
type Handler interface {
	HandleMessage(ctx context.Context, msg *protocol.Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *protocol.Message)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *protocol.Message) { f(ctx, msg) }

// Config configures a Client.
type Config struct {
	URL      string
	DeviceID string
	Handler  Handler

	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
	// MaxReconnects bounds consecutive reconnect attempts; negative retries forever.
	MaxReconnects int
	SendBuffer    int

	OnConnect    func()
	OnDisconnect func(err error)
	// OnMessage observes every parsed inbound message (metrics hook).
	OnMessage func(t protocol.MessageType)

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Client is a persistent signaling connection. Only the write pump writes
// to the socket; the read pump delivers messages to the Handler.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	send      chan []byte
	connected atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a client. Call Connect to dial.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}

	return &Client{
		cfg:    cfg,
		dialer: dialer,
		logger: log.Or(cfg.Logger, "signaling"),
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// Connect dials the relay and starts the pumps. The first dial is
// synchronous so the caller sees its error; later drops reconnect in the
// background.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return ErrNoURL
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go c.run(ctx, conn)
	return nil
}

// Connected reports whether a socket is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send queues msg for the write pump without blocking.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection and stops reconnecting. It waits for the
// pumps to exit.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("signaling: dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.serve(ctx, conn)
		c.connected.Store(false)
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(err)
		}

		if c.stopping(ctx) {
			return
		}
		c.logger.Warn("signaling connection lost", "error", err)

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Client) stopping(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Client) reconnect(ctx context.Context) *websocket.Conn {
	for attempt := 1; c.cfg.MaxReconnects < 0 || attempt <= c.cfg.MaxReconnects; attempt++ {
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-c.done:
			return nil
		case <-ctx.Done():
			return nil
		}

		conn, err := c.dial(ctx)
		if err == nil {
			c.logger.Info("signaling reconnected", "attempt", attempt)
			return conn
		}
		c.logger.Warn("signaling reconnect failed", "attempt", attempt, "error", err)
	}
	c.logger.Error("signaling reconnect attempts exhausted", "attempts", c.cfg.MaxReconnects)
	return nil
}

// serve runs one connection until it fails or the client stops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	if err := c.register(conn); err != nil {
		return err
	}

	// Drop anything queued for a previous connection.
	for drained := false; !drained; {
		select {
		case <-c.send:
		default:
			drained = true
		}
	}

	c.connected.Store(true)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
	c.logger.Info("signaling connected", "url", c.cfg.URL, "device_id", c.cfg.DeviceID)

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(ctx, conn, stop)
	}()

	err := c.readPump(ctx, conn)
	close(stop)
	<-writerDone
	return err
}

func (c *Client) register(conn *websocket.Conn) error {
	msg, err := protocol.NewRegisterMessage(c.cfg.DeviceID)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("dropping malformed signaling message", "error", err)
			continue
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg.Type)
		}

		if msg.Type == protocol.TypePing {
			c.pong(msg)
			continue
		}
		if c.cfg.Handler != nil {
			c.cfg.Handler.HandleMessage(ctx, msg)
		}
	}
}

func (c *Client) pong(ping *protocol.Message) {
	id := ""
	if d, err := ping.GetPingData(); err == nil {
		id = d.ID
	}
	msg, err := protocol.NewPongMessage(id, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	if err := c.Send(msg); err != nil {
		c.logger.Debug("pong not sent", "error", err)
	}
}

// writePump is the only writer on conn.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case <-c.done:
			c.closeConn(conn)
			return

		case <-ctx.Done():
			c.closeConn(conn)
			return

		case data := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("signaling write failed", "error", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) closeConn(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	conn.Close()
}
