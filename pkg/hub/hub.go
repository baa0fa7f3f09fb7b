package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/errors"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/transport/protocol"
	"github.com/samber/lo"
)

// Options represents hub configuration options
type Options struct {
	// SendTimeout bounds a single enqueue to one client
	SendTimeout time.Duration
}

// DefaultOptions returns default hub options
func DefaultOptions() Options {
	return Options{
		SendTimeout: 5 * time.Second,
	}
}

// Hub implements domain.Hub and presence.Broadcaster
type Hub struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
	started bool
	stopped bool

	codec        protocol.Codec
	errorHandler errors.Handler
	logger       *logging.Logger
	options      Options
	ctx          context.Context
	cancel       context.CancelFunc

	// Statistics
	messagesSent     atomic.Int64
	deliveryFailures atomic.Int64
	broadcasts       atomic.Int64
	startTime        time.Time
}

var (
	_ domain.Hub           = (*Hub)(nil)
	_ presence.Broadcaster = (*Hub)(nil)
)

// New creates a new hub
func New(logger *logging.Logger, options Options) *Hub {
	return &Hub{
		clients:      make(map[string]domain.Client),
		codec:        protocol.NewJSONCodec(),
		errorHandler: errors.NewDefaultHandler(logger.Logger),
		logger:       logger,
		options:      options,
		startTime:    time.Now(),
	}
}

// Start implements domain.Hub
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return domain.ErrHubStopped
	}
	if h.started {
		return nil
	}

	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started = true
	h.startTime = time.Now()
	h.logger.Info("hub started")
	return nil
}

// Stop implements domain.Hub
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.started || h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.cancel()
	clients := lo.Values(h.clients)
	clear(h.clients)
	h.mu.Unlock()

	h.logger.Info("stopping hub", "clients", len(clients))

	for _, client := range clients {
		if err := client.Close(); err != nil {
			h.logger.Debug("close on stop failed", "client_id", client.ID(), "error", err)
		}
	}

	h.logger.Info("hub stopped")
	return nil
}

// Register implements domain.Hub
func (h *Hub) Register(client domain.Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkRunningLocked(); err != nil {
		return err
	}

	clientID := client.ID()
	if _, exists := h.clients[clientID]; exists {
		h.logger.Warn("client already registered", "client_id", clientID)
		return domain.ErrClientAlreadyExists
	}

	h.clients[clientID] = client

	h.logger.Debug("client registered",
		"client_id", clientID,
		"total_clients", len(h.clients),
	)
	return nil
}

// Unregister implements domain.Hub. Unknown IDs are ignored.
func (h *Hub) Unregister(clientID string) error {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return nil
	}

	if err := client.Close(); err != nil {
		h.logger.Debug("close on unregister failed", "client_id", clientID, "error", err)
	}

	h.logger.Debug("client unregistered",
		"client_id", clientID,
		"total_clients", total,
	)
	return nil
}

// SendTo implements domain.Hub
func (h *Hub) SendTo(clientID string, message []byte) error {
	client, ok := h.GetClient(clientID)
	if !ok {
		return domain.ErrClientNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.options.SendTimeout)
	defer cancel()

	if err := client.Send(ctx, message); err != nil {
		h.deliveryFailures.Add(1)
		return errors.Wrap(err, errors.ErrorTypeDelivery, "SEND_FAILED", "failed to send to client").
			WithDetails(clientID)
	}

	h.messagesSent.Add(1)
	return nil
}

// Deliver implements presence.Broadcaster. The event is encoded once and
// queued on every recipient; a recipient that is gone or cannot accept the
// frame is logged and skipped.
func (h *Hub) Deliver(ctx context.Context, event presence.Event, recipients []string) {
	h.broadcasts.Add(1)

	message, err := h.encodeEvent(event)
	if err != nil {
		h.errorHandler.Handle(ctx, errors.Wrap(err, errors.ErrorTypeInternal, "ENCODE_FAILED", "failed to encode presence event"))
		return
	}

	h.mu.RLock()
	if !h.started || h.stopped {
		h.mu.RUnlock()
		h.logger.Debug("broadcast dropped, hub not running", "kind", event.Kind, "count", event.Count)
		return
	}
	targets := make([]domain.Client, 0, len(recipients))
	var missing []string
	for _, id := range recipients {
		if client, ok := h.clients[id]; ok {
			targets = append(targets, client)
		} else {
			missing = append(missing, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range missing {
		h.deliveryFailures.Add(1)
		h.errorHandler.Handle(ctx, errors.New(errors.ErrorTypeNotFound, "RECIPIENT_GONE", "recipient not attached").WithDetails(id))
	}

	var successCount int
	for _, client := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, h.options.SendTimeout)
		err := client.Send(sendCtx, message)
		cancel()

		if err != nil {
			h.deliveryFailures.Add(1)
			h.errorHandler.Handle(ctx, errors.Wrap(err, errors.ErrorTypeDelivery, "SEND_FAILED", "failed to send presence event").WithDetails(client.ID()))
			continue
		}

		successCount++
		h.messagesSent.Add(1)
	}

	h.logger.Debug("broadcast complete",
		"kind", event.Kind,
		"count", event.Count,
		"success_count", successCount,
		"error_count", len(recipients)-successCount,
	)
}

// GetClient implements domain.Hub
func (h *Hub) GetClient(clientID string) (domain.Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	return client, ok
}

// GetClients implements domain.Hub
func (h *Hub) GetClients() []domain.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Values(h.clients)
}

// Count returns the number of attached clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() domain.HubStats {
	h.mu.RLock()
	startTime := h.startTime
	h.mu.RUnlock()

	return domain.HubStats{
		ConnectedClients: h.Count(),
		MessagesSent:     h.messagesSent.Load(),
		DeliveryFailures: h.deliveryFailures.Load(),
		Broadcasts:       h.broadcasts.Load(),
		Uptime:           time.Since(startTime).Seconds(),
	}
}

func (h *Hub) checkRunningLocked() error {
	switch {
	case h.stopped:
		return domain.ErrHubStopped
	case !h.started:
		return domain.ErrHubNotStarted
	default:
		return nil
	}
}

func (h *Hub) encodeEvent(event presence.Event) ([]byte, error) {
	messageType := domain.MessageTypeVisitorJoined
	if event.Kind == presence.KindLeft {
		messageType = domain.MessageTypeVisitorLeft
	}

	msg, err := protocol.NewMessage(messageType, domain.VisitorCount{Count: event.Count})
	if err != nil {
		return nil, err
	}
	msg.Timestamp = event.At

	return h.codec.Encode(*msg)
}
