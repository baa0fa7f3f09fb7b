package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/samber/lo"
)

// Handler receives one event. Handlers run on the publishing goroutine, or
// on the bus goroutine for async events, and must not block.
type Handler func(event *Event)

// Bus carries lifecycle and visitor events to side-effect consumers
type Bus interface {
	Publish(event *Event)
	PublishAsync(event *Event)
	Subscribe(eventType EventType, handler Handler) string
	SubscribeAll(handler Handler) string
	Unsubscribe(id string)
	Start(ctx context.Context)
	Stop()
}

// anyType marks a subscription that matches every event type
const anyType EventType = "*"

type route struct {
	id        string
	eventType EventType
	handler   Handler
}

func (r route) matches(eventType EventType) bool {
	return r.eventType == anyType || r.eventType == eventType
}

// InMemoryBus dispatches events to subscribers in subscription order.
// The route list is replaced on every change, so publishing reads a stable
// snapshot and handlers may subscribe or unsubscribe without deadlocking.
type InMemoryBus struct {
	mu     sync.RWMutex
	routes []route

	queue   chan *Event
	dropped atomic.Int64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Bus = (*InMemoryBus)(nil)

// NewInMemoryBus creates a bus whose async queue holds bufferSize events
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	return &InMemoryBus{
		queue: make(chan *Event, bufferSize),
	}
}

// Publish runs every matching handler before returning
func (b *InMemoryBus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	routes := b.routes
	b.mu.RUnlock()

	for _, r := range routes {
		if r.matches(event.Type) {
			r.handler(event)
		}
	}
}

// PublishAsync queues an event for the bus goroutine.
// Events are dropped when the queue is full.
func (b *InMemoryBus) PublishAsync(event *Event) {
	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many async events were discarded on a full queue
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe registers handler for one event type
func (b *InMemoryBus) Subscribe(eventType EventType, handler Handler) string {
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type
func (b *InMemoryBus) SubscribeAll(handler Handler) string {
	return b.add(anyType, handler)
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *InMemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.routes = lo.Reject(b.routes, func(r route, _ int) bool {
		return r.id == id
	})
}

func (b *InMemoryBus) add(eventType EventType, handler Handler) string {
	r := route{id: xid.New().String(), eventType: eventType, handler: handler}

	b.mu.Lock()
	defer b.mu.Unlock()

	routes := make([]route, len(b.routes), len(b.routes)+1)
	copy(routes, b.routes)
	b.routes = append(routes, r)
	return r.id
}

// Start launches the goroutine draining async events. Calling it again
// while running does nothing.
func (b *InMemoryBus) Start(ctx context.Context) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.done != nil {
		return
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.drain(ctx, b.done)
}

// Stop halts the drain goroutine and waits for it. Queued events are
// discarded; the queue stays open so late PublishAsync calls cannot panic.
func (b *InMemoryBus) Stop() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.done == nil {
		return
	}

	b.cancel()
	<-b.done
	b.done = nil
}

func (b *InMemoryBus) drain(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-b.queue:
			b.Publish(event)
		}
	}
}
