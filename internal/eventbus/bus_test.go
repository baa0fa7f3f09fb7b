package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishRoutesByType(t *testing.T) {
	req := require.New(t)
	bus := NewInMemoryBus(10)

	var joined, all []*Event
	bus.Subscribe(EventVisitorJoined, func(e *Event) { joined = append(joined, e) })
	bus.SubscribeAll(func(e *Event) { all = append(all, e) })

	// When one joined and one left event are published
	bus.Publish(NewEvent(EventVisitorJoined, "test", 1))
	bus.Publish(NewEvent(EventVisitorLeft, "test", 0))

	// Then the typed subscriber only sees the joined event
	req.Len(joined, 1)
	req.Equal(1, joined[0].Data)
	req.Len(all, 2)
}

func TestInMemoryBus_Unsubscribe(t *testing.T) {
	req := require.New(t)
	bus := NewInMemoryBus(10)

	calls := 0
	id := bus.Subscribe(EventVisitorLeft, func(*Event) { calls++ })
	allID := bus.SubscribeAll(func(*Event) { calls++ })

	bus.Unsubscribe(id)
	bus.Unsubscribe(allID)
	bus.Publish(NewEvent(EventVisitorLeft, "test", nil))

	req.Zero(calls)
}

func TestInMemoryBus_PublishAsync(t *testing.T) {
	req := require.New(t)
	bus := NewInMemoryBus(10)
	bus.Start(context.Background())
	defer bus.Stop()

	received := make(chan *Event, 1)
	bus.Subscribe(EventClientConnected, func(e *Event) { received <- e })

	bus.PublishAsync(NewEvent(EventClientConnected, "test", "abc").WithMetadata("client_id", "abc"))

	select {
	case e := <-received:
		req.Equal("abc", e.Metadata["client_id"])
		req.NotEmpty(e.ID)
	case <-time.After(time.Second):
		req.Fail("event was not delivered")
	}
}

func TestInMemoryBus_PublishAsyncDropsWhenFull(t *testing.T) {
	req := require.New(t)
	// Given a bus that is never started, with room for one event
	bus := NewInMemoryBus(1)

	bus.PublishAsync(NewEvent(EventVisitorJoined, "test", 1))
	bus.PublishAsync(NewEvent(EventVisitorJoined, "test", 2))

	req.Equal(int64(1), bus.Dropped())

	// Stop on a bus that was never started is safe
	bus.Stop()
}

func TestInMemoryBus_HandlersRunInSubscriptionOrder(t *testing.T) {
	req := require.New(t)
	bus := NewInMemoryBus(1)

	var order []string
	bus.SubscribeAll(func(*Event) { order = append(order, "all") })
	bus.Subscribe(EventVisitorLeft, func(*Event) { order = append(order, "left") })
	bus.Subscribe(EventVisitorJoined, func(*Event) { order = append(order, "joined") })

	bus.Publish(NewEvent(EventVisitorLeft, "test", 0))

	req.Equal([]string{"all", "left"}, order)
}

func TestInMemoryBus_HandlerCanUnsubscribeItself(t *testing.T) {
	req := require.New(t)
	bus := NewInMemoryBus(1)

	// Given a handler that removes its own subscription on first use
	calls := 0
	var id string
	id = bus.Subscribe(EventVisitorJoined, func(*Event) {
		calls++
		bus.Unsubscribe(id)
	})

	// When two events are published
	bus.Publish(NewEvent(EventVisitorJoined, "test", 1))
	bus.Publish(NewEvent(EventVisitorJoined, "test", 2))

	// Then it ran once and publishing did not deadlock
	req.Equal(1, calls)
}

func TestInMemoryBus_StartStopAreIdempotent(t *testing.T) {
	req := require.New(t)
	bus := NewInMemoryBus(4)

	received := make(chan *Event, 1)
	bus.Subscribe(EventVisitorJoined, func(e *Event) { received <- e })

	bus.Start(context.Background())
	bus.Start(context.Background())
	bus.Stop()
	bus.Stop()

	// a stopped bus can be started again
	bus.Start(context.Background())
	defer bus.Stop()

	bus.PublishAsync(NewEvent(EventVisitorJoined, "test", 1))
	select {
	case e := <-received:
		req.Equal(1, e.Data)
	case <-time.After(time.Second):
		req.Fail("event was not delivered after restart")
	}
}
