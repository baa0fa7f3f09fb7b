package visitor

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/errors"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/transport/protocol"
	"github.com/HMasataka/visitorhub/pkg/transport/websocket"
	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// ClientOptions represents visitor client options
type ClientOptions struct {
	Logger           *logging.Logger
	Header           http.Header
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	Transport        websocket.ClientOptions
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   5 * time.Second,
		Transport:        websocket.DefaultClientOptions(),
	}
}

// EventHandler receives presence pushes from the server
type EventHandler func(presence.Event)

type countReply struct {
	count int
	err   error
}

// Client connects to a visitor hub and follows the visitor count
type Client struct {
	url     url.URL
	options ClientOptions
	logger  *logging.Logger
	codec   protocol.Codec

	mu      sync.RWMutex
	conn    *websocket.Client
	onEvent EventHandler

	// one count request in flight at a time
	requestMu sync.Mutex
	replies   chan countReply
}

// NewClient creates a new visitor client
func NewClient(serverURL url.URL, options ClientOptions) *Client {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultClientOptions().RequestTimeout
	}
	if options.Transport.SendBufferSize <= 0 {
		options.Transport = websocket.DefaultClientOptions()
	}

	return &Client{
		url:     serverURL,
		options: options,
		logger:  options.Logger,
		codec:   protocol.NewJSONCodec(),
		replies: make(chan countReply, 1),
	}
}

// OnEvent registers the handler for visitor_joined and visitor_left pushes.
// Register it before Connect to observe the join caused by this client.
func (c *Client) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = handler
}

// Connect dials the hub and starts receiving
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New(errors.ErrorTypeTransport, "ALREADY_CONNECTED", "client is already connected")
	}

	dialer := gorillaws.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.options.HandshakeTimeout,
		ReadBufferSize:   c.options.Transport.ReadBufferSize,
		WriteBufferSize:  c.options.Transport.WriteBufferSize,
	}

	c.logger.Info("connecting to visitor hub", "url", c.url.String())

	conn, _, err := dialer.DialContext(ctx, c.url.String(), c.options.Header)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to server")
	}

	// the server assigns the real connection id; this one only tags local logs
	c.conn = websocket.NewClient(xid.New().String(), conn, c.logger, c.options.Transport)
	c.conn.Receive(c.handleMessage)
	c.conn.Start()

	c.logger.Info("connected to visitor hub", "url", c.url.String())

	return nil
}

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} {
	conn := c.connection()
	if conn == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return conn.Context().Done()
}

// Disconnect closes the connection
func (c *Client) Disconnect() error {
	conn := c.connection()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// RequestCount asks the server for the current visitor count
func (c *Client) RequestCount(ctx context.Context) (int, error) {
	conn := c.connection()
	if conn == nil {
		return 0, errors.New(errors.ErrorTypeTransport, "NOT_CONNECTED", "not connected to server")
	}

	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	// drop a reply left over from an abandoned request
	select {
	case <-c.replies:
	default:
	}

	msg, err := protocol.NewMessage(domain.MessageTypeGetVisitorCount, nil)
	if err != nil {
		return 0, err
	}

	data, err := c.codec.Encode(*msg)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.RequestTimeout)
	defer cancel()

	if err := conn.Send(ctx, data); err != nil {
		return 0, err
	}

	select {
	case reply := <-c.replies:
		return reply.count, reply.err
	case <-conn.Context().Done():
		return 0, domain.ErrConnectionClosed
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "REQUEST_TIMEOUT", "no visitor count received")
	}
}

func (c *Client) connection() *websocket.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// handleMessage processes incoming messages
func (c *Client) handleMessage(data []byte) error {
	msg, err := c.codec.Decode(data)
	if err != nil {
		return err
	}

	switch msg.Type {
	case domain.MessageTypeVisitorJoined, domain.MessageTypeVisitorLeft:
		var payload domain.VisitorCount
		if err := protocol.Decode(msg, &payload); err != nil {
			return err
		}

		c.mu.RLock()
		handler := c.onEvent
		c.mu.RUnlock()

		if handler != nil {
			handler(presence.Event{
				Kind:  presence.EventKind(msg.Type),
				Count: payload.Count,
				At:    msg.Timestamp,
			})
		}

	case domain.MessageTypeVisitorCount:
		var payload domain.VisitorCount
		if err := protocol.Decode(msg, &payload); err != nil {
			return err
		}
		c.reply(countReply{count: payload.Count})

	case domain.MessageTypeError:
		var payload domain.ErrorPayload
		if err := protocol.Decode(msg, &payload); err != nil {
			return err
		}
		c.reply(countReply{err: domain.NewRequestError(domain.Code(payload.Code), payload.Message, nil)})

	default:
		c.logger.Warn("no handler for message type", "type", msg.Type)
	}

	return nil
}

func (c *Client) reply(r countReply) {
	select {
	case c.replies <- r:
	default:
		c.logger.Debug("dropping unsolicited reply")
	}
}
