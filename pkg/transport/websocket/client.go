package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/errors"
	"github.com/gorilla/websocket"
)

// ClientOptions represents websocket client options
type ClientOptions struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  64,
	}
}

// Client implements the domain.Client interface for WebSocket
type Client struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ClientOptions
	sendChan chan []byte
	handler  domain.MessageHandler

	mu       sync.Mutex
	closed   bool
	closeErr error
}

var _ domain.Client = (*Client)(nil)

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, logger *logging.Logger, options ClientOptions) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"client_id": id}),
		options:  options,
		sendChan: make(chan []byte, options.SendBufferSize),
	}
}

// ID implements domain.Client
func (c *Client) ID() string {
	return c.id
}

// Send implements domain.Client. It never waits for a slow peer: a full
// buffer is reported as an error.
func (c *Client) Send(ctx context.Context, message []byte) error {
	select {
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case c.sendChan <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return domain.ErrConnectionClosed
	default:
		return errors.New(errors.ErrorTypeTransport, "SEND_BUFFER_FULL", "send buffer is full")
	}
}

// Receive implements domain.Client. Must be called before Start.
func (c *Client) Receive(handler domain.MessageHandler) error {
	c.handler = handler
	return nil
}

// Close implements domain.Client
func (c *Client) Close() error {
	return c.closeWithError(nil)
}

// Context implements domain.Client
func (c *Client) Context() context.Context {
	return c.ctx
}

// Err returns the transport error that ended the session, or nil when it was
// closed cleanly by either side.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Start starts the client read and write pumps
func (c *Client) Start() {
	go c.readPump()
	go c.writePump()
}

func (c *Client) closeWithError(cause error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeErr = cause
	c.mu.Unlock()

	c.logger.Debug("closing client connection", "cause", cause)

	c.cancel()

	// let the peer know when we are the side closing
	if cause == nil {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("error closing websocket connection", "error", err)
	}

	return nil
}

// readPump pumps messages from the websocket connection
func (c *Client) readPump() {
	var cause error
	defer func() {
		c.logger.Debug("read pump stopped")
		c.closeWithError(cause)
	}()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.ctx.Done():
				default:
					cause = err
					c.logger.Warn("websocket closed abnormally", "error", err)
				}
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.handler != nil {
			if err := c.handler(message); err != nil {
				c.logger.Error("message handler error", "error", err)
			}
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	defer func() {
		c.logger.Debug("write pump stopped")
	}()

	ticker := time.NewTicker(c.options.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message := <-c.sendChan:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.closeWithError(err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping error", "error", err)
				c.closeWithError(err)
				return
			}
		}
	}
}
