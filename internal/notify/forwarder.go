// Package notify forwards presence changes to NATS so other services can
// follow the visitor count without holding a websocket.
package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/visitorhub/internal/config"
	"github.com/HMasataka/visitorhub/internal/eventbus"
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn the forwarder needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body published for every presence change
type Message struct {
	Kind         presence.EventKind `json:"kind"`
	Count        int                `json:"count"`
	ConnectionID string             `json:"connection_id"`
	At           time.Time          `json:"at"`
}

// Connect opens a NATS connection for cfg
func Connect(cfg config.NATSConfig, logger *logging.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// Forwarder republishes visitor events from the event bus
type Forwarder struct {
	publisher Publisher
	prefix    string
	logger    *logging.Logger

	mu     sync.Mutex
	bus    eventbus.Bus
	subIDs []string
}

// NewForwarder creates a forwarder publishing under prefix
func NewForwarder(publisher Publisher, prefix string, logger *logging.Logger) *Forwarder {
	return &Forwarder{
		publisher: publisher,
		prefix:    prefix,
		logger:    logger,
	}
}

// Subject returns the subject used for kind
func (f *Forwarder) Subject(kind presence.EventKind) string {
	if kind == presence.KindLeft {
		return f.prefix + ".left"
	}
	return f.prefix + ".joined"
}

// Attach subscribes the forwarder to visitor events on bus
func (f *Forwarder) Attach(bus eventbus.Bus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bus = bus
	f.subIDs = append(f.subIDs,
		bus.Subscribe(eventbus.EventVisitorJoined, f.handle),
		bus.Subscribe(eventbus.EventVisitorLeft, f.handle),
	)
}

// Detach removes the subscriptions made by Attach
func (f *Forwarder) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bus == nil {
		return
	}
	for _, id := range f.subIDs {
		f.bus.Unsubscribe(id)
	}
	f.subIDs = nil
	f.bus = nil
}

func (f *Forwarder) handle(event *eventbus.Event) {
	pe, ok := event.Data.(presence.Event)
	if !ok {
		f.logger.Warn("unexpected event payload", "event_type", event.Type, "event_id", event.ID)
		return
	}

	data, err := json.Marshal(Message{
		Kind:         pe.Kind,
		Count:        pe.Count,
		ConnectionID: pe.ConnectionID,
		At:           pe.At,
	})
	if err != nil {
		f.logger.Error("failed to encode presence event", "error", err)
		return
	}

	subject := f.Subject(pe.Kind)
	if err := f.publisher.Publish(subject, data); err != nil {
		f.logger.Warn("failed to publish presence event",
			"subject", subject,
			"count", pe.Count,
			"error", err,
		)
		return
	}

	f.logger.Debug("presence event forwarded", "subject", subject, "count", pe.Count)
}
