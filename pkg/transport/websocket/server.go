package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/HMasataka/visitorhub/internal/eventbus"
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/errors"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/transport/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// MessageRouter is an interface for routing messages
type MessageRouter interface {
	Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error)
}

// ServerOptions represents websocket server options
type ServerOptions struct {
	CheckOrigin   func(r *http.Request) bool
	Hub           domain.Hub
	Listener      presence.Listener
	Logger        *logging.Logger
	EventBus      eventbus.Bus
	Router        MessageRouter
	ClientOptions ClientOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithHub sets the hub for the server
func WithHub(hub domain.Hub) ServerOption {
	return func(o *ServerOptions) {
		o.Hub = hub
	}
}

// WithListener sets who is told about sessions opening and closing
func WithListener(listener presence.Listener) ServerOption {
	return func(o *ServerOptions) {
		o.Listener = listener
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithRouter sets the message router for the server
func WithRouter(router MessageRouter) ServerOption {
	return func(o *ServerOptions) {
		o.Router = router
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithClientOptions sets the per-connection options
func WithClientOptions(options ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.ClientOptions = options
	}
}

// Server upgrades HTTP requests and drives one session per connection
type Server struct {
	upgrader websocket.Upgrader
	codec    protocol.Codec
	options  ServerOptions
	logger   *logging.Logger
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Logger:        logging.Discard(),
		ClientOptions: DefaultClientOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ClientOptions.ReadBufferSize,
			WriteBufferSize: options.ClientOptions.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		codec:   protocol.NewJSONCodec(),
		options: options,
		logger:  options.Logger,
	}
}

// ServeHTTP implements http.Handler. It returns once the session is over.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	clientID := xid.New().String()
	client := NewClient(clientID, conn, s.logger, s.options.ClientOptions)

	client.Receive(func(message []byte) error {
		return s.handleMessage(client, message)
	})

	if err := s.options.Hub.Register(client); err != nil {
		s.logger.Error("failed to register client",
			"error", err,
			"client_id", clientID,
		)
		s.reject(conn, err)
		client.Close()
		return
	}

	// the hub already knows the client, so its own join is queued before
	// any request it sends is read
	if s.options.Listener != nil {
		s.options.Listener.OnConnect(clientID)
	}

	client.Start()

	s.publish(eventbus.EventClientConnected, clientID, r.RemoteAddr)

	s.logger.Info("client connected",
		"client_id", clientID,
		"remote_addr", r.RemoteAddr,
	)

	<-client.Context().Done()

	cause := client.Err()
	if s.options.Listener != nil {
		s.options.Listener.OnDisconnect(clientID, cause)
	}

	if err := s.options.Hub.Unregister(clientID); err != nil {
		s.logger.Error("failed to unregister client",
			"error", err,
			"client_id", clientID,
		)
	}

	s.publish(eventbus.EventClientDisconnected, clientID, r.RemoteAddr)

	s.logger.Info("client disconnected", "client_id", clientID, "abnormal", cause != nil)
}

func (s *Server) publish(eventType eventbus.EventType, clientID, remoteAddr string) {
	if s.options.EventBus == nil {
		return
	}

	s.options.EventBus.PublishAsync(eventbus.NewEvent(
		eventType,
		"websocket-server",
		map[string]string{
			"client_id":   clientID,
			"remote_addr": remoteAddr,
		},
	))
}

// handleMessage handles incoming messages from clients
func (s *Server) handleMessage(client domain.Client, message []byte) error {
	s.logger.Debug("received message",
		"client_id", client.ID(),
		"size", len(message),
	)

	msg, err := s.codec.Decode(message)
	if err != nil {
		s.reply(client, errorMessage(domain.NewRequestError(domain.CodeMalformedFrame, "malformed message", err)))
		return errors.Wrap(err, errors.ErrorTypeProtocol, string(domain.CodeMalformedFrame), "failed to decode message")
	}

	if s.options.Router == nil {
		s.logger.Warn("no router configured")
		return nil
	}

	ctx := WithClientID(client.Context(), client.ID())

	response, err := s.options.Router.Handle(ctx, msg)
	if err != nil {
		s.reply(client, errorMessage(domain.AsRequestError(err)))
		return err
	}

	if response != nil {
		s.reply(client, response)
	}

	return nil
}

// reply goes through the hub so responses show up in its delivery stats
func (s *Server) reply(client domain.Client, response *domain.Message) {
	if response == nil {
		return
	}

	data, err := s.codec.Encode(*response)
	if err != nil {
		s.logger.Error("failed to encode response", "client_id", client.ID(), "error", err)
		return
	}

	if err := s.options.Hub.SendTo(client.ID(), data); err != nil {
		s.logger.Warn("failed to send response",
			"client_id", client.ID(),
			"response_type", response.Type,
			"error", err,
		)
	}
}

// reject tells the peer why its session was refused before the connection
// is dropped
func (s *Server) reject(conn *websocket.Conn, cause error) {
	reason := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, string(domain.CodeSessionRejected))
	if err := conn.WriteControl(websocket.CloseMessage, reason, time.Now().Add(time.Second)); err != nil {
		s.logger.Debug("failed to send rejection", "cause", cause, "error", err)
	}
}

func errorMessage(reqErr *domain.RequestError) *domain.Message {
	msg, err := protocol.NewMessage(domain.MessageTypeError, reqErr.Payload())
	if err != nil {
		return nil
	}
	return msg
}
