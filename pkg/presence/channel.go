package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HMasataka/visitorhub/internal/eventbus"
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/samber/lo"
)

// Option configures a Channel
type Option func(*Channel)

// WithLogger sets the logger for the channel
func WithLogger(logger *logging.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithEventBus mirrors every announcement onto the bus
func WithEventBus(bus eventbus.Bus) Option {
	return func(c *Channel) {
		c.eventBus = bus
	}
}

// WithClock overrides the time source used for join timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// Channel is the authoritative registry of open sessions.
//
// The mutation, the resulting count and the recipient snapshot are taken
// under one lock so two concurrent changes can never announce the same
// count. Delivery happens after the lock is released.
type Channel struct {
	mu          sync.Mutex
	connections map[string]Connection
	closed      bool

	broadcaster Broadcaster
	eventBus    eventbus.Bus
	logger      *logging.Logger
	now         func() time.Time
}

var (
	_ Listener = (*Channel)(nil)
	_ Counter  = (*Channel)(nil)
)

// NewChannel creates an empty channel announcing through broadcaster
func NewChannel(broadcaster Broadcaster, opts ...Option) *Channel {
	c := &Channel{
		connections: make(map[string]Connection),
		broadcaster: broadcaster,
		logger:      logging.Discard(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// OnConnect registers the session and announces the new count to every
// session, the new one included.
func (c *Channel) OnConnect(connectionID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("connect ignored", "client_id", connectionID, "error", ErrChannelClosed)
		return
	}
	if _, exists := c.connections[connectionID]; exists {
		c.mu.Unlock()
		c.logger.Warn("connect ignored", "client_id", connectionID, "error", ErrDuplicateConnect)
		return
	}

	conn := Connection{ID: connectionID, JoinedAt: c.now()}
	c.connections[connectionID] = conn
	event := Event{
		Kind:         KindJoined,
		Count:        len(c.connections),
		ConnectionID: connectionID,
		At:           conn.JoinedAt,
	}
	recipients := lo.Keys(c.connections)
	c.mu.Unlock()

	c.logger.Info("visitor joined", "client_id", connectionID, "count", event.Count)
	c.announce(event, recipients)
}

// OnDisconnect removes the session and announces the new count to the
// sessions that remain. A clean close and an abnormal one are handled the
// same way.
func (c *Channel) OnDisconnect(connectionID string, cause error) {
	c.mu.Lock()
	if _, exists := c.connections[connectionID]; !exists {
		c.mu.Unlock()
		c.logger.Debug("disconnect ignored", "client_id", connectionID, "error", ErrUnknownConnection)
		return
	}

	delete(c.connections, connectionID)
	event := Event{
		Kind:         KindLeft,
		Count:        len(c.connections),
		ConnectionID: connectionID,
		At:           c.now(),
	}
	recipients := lo.Keys(c.connections)
	c.mu.Unlock()

	if cause != nil {
		c.logger.Info("visitor left", "client_id", connectionID, "count", event.Count, "cause", cause)
	} else {
		c.logger.Info("visitor left", "client_id", connectionID, "count", event.Count)
	}
	c.announce(event, recipients)
}

// GetCurrentCount returns the number of open sessions
func (c *Channel) GetCurrentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connections)
}

// Connections returns the open sessions ordered by join time
func (c *Channel) Connections() []Connection {
	c.mu.Lock()
	conns := lo.Values(c.connections)
	c.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].JoinedAt.Equal(conns[j].JoinedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].JoinedAt.Before(conns[j].JoinedAt)
	})
	return conns
}

// Close clears the registry. Connects arriving afterwards are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	clear(c.connections)
}

func (c *Channel) announce(event Event, recipients []string) {
	if c.broadcaster != nil {
		c.broadcaster.Deliver(context.Background(), event, recipients)
	}

	if c.eventBus == nil {
		return
	}

	eventType := eventbus.EventVisitorJoined
	if event.Kind == KindLeft {
		eventType = eventbus.EventVisitorLeft
	}
	c.eventBus.PublishAsync(
		eventbus.NewEvent(eventType, "presence", event).
			WithMetadata("client_id", event.ConnectionID),
	)
}
