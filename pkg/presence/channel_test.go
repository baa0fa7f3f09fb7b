package presence

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/visitorhub/internal/eventbus"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	event      Event
	recipients []string
}

type recordingBroadcaster struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (b *recordingBroadcaster) Deliver(_ context.Context, event Event, recipients []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, delivery{event: event, recipients: recipients})
}

func (b *recordingBroadcaster) all() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.deliveries...)
}

func (b *recordingBroadcaster) counts(kind EventKind) []int {
	var counts []int
	for _, d := range b.all() {
		if d.event.Kind == kind {
			counts = append(counts, d.event.Count)
		}
	}
	return counts
}

func TestChannel_JoinLeaveScenario(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)

	// When A connects
	channel.OnConnect("A")
	req.Equal(1, channel.GetCurrentCount())

	// And B connects
	channel.OnConnect("B")
	req.Equal(2, channel.GetCurrentCount())

	// And A drops abnormally
	channel.OnDisconnect("A", errors.New("connection reset by peer"))
	req.Equal(1, channel.GetCurrentCount())

	// And B closes cleanly
	channel.OnDisconnect("B", nil)
	req.Equal(0, channel.GetCurrentCount())

	// Then exactly four announcements were made with the post-change counts
	deliveries := broadcaster.all()
	req.Len(deliveries, 4)

	req.Equal(KindJoined, deliveries[0].event.Kind)
	req.Equal(1, deliveries[0].event.Count)
	req.ElementsMatch([]string{"A"}, deliveries[0].recipients)

	req.Equal(KindJoined, deliveries[1].event.Kind)
	req.Equal(2, deliveries[1].event.Count)
	req.ElementsMatch([]string{"A", "B"}, deliveries[1].recipients)

	req.Equal(KindLeft, deliveries[2].event.Kind)
	req.Equal(1, deliveries[2].event.Count)
	req.Equal("A", deliveries[2].event.ConnectionID)
	req.ElementsMatch([]string{"B"}, deliveries[2].recipients)

	req.Equal(KindLeft, deliveries[3].event.Kind)
	req.Equal(0, deliveries[3].event.Count)
	req.Empty(deliveries[3].recipients)
}

func TestChannel_DisconnectUnknownIsNoop(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)
	channel.OnConnect("A")

	// When a session that never connected goes away
	channel.OnDisconnect("ghost", nil)
	channel.OnDisconnect("ghost", errors.New("eof"))

	// Then nothing changes and nothing is announced
	req.Equal(1, channel.GetCurrentCount())
	req.Len(broadcaster.all(), 1)
}

func TestChannel_DoubleDisconnectIsNoop(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)

	channel.OnConnect("A")
	channel.OnDisconnect("A", nil)
	channel.OnDisconnect("A", nil)

	req.Equal(0, channel.GetCurrentCount())
	req.Equal([]int{0}, broadcaster.counts(KindLeft))
}

func TestChannel_DuplicateConnectIsNoop(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)

	channel.OnConnect("A")
	channel.OnConnect("A")

	req.Equal(1, channel.GetCurrentCount())
	req.Equal([]int{1}, broadcaster.counts(KindJoined))
}

func TestChannel_ConcurrentConnectsAnnounceDistinctCounts(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)
	const sessions = 100

	// When 100 sessions connect at the same time
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			channel.OnConnect(fmt.Sprintf("session-%d", i))
		}(i)
	}
	close(start)
	wg.Wait()

	// Then the count is exact and every count from 1 to 100 was announced once
	req.Equal(sessions, channel.GetCurrentCount())

	expected := make([]int, sessions)
	for i := range expected {
		expected[i] = i + 1
	}
	req.ElementsMatch(expected, broadcaster.counts(KindJoined))
}

func TestChannel_ConcurrentChurnNeverLosesUpdates(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)
	const sessions = 200

	// When every session connects and half of them disconnect concurrently
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			channel.OnConnect(id)
			if i%2 == 0 {
				channel.OnDisconnect(id, nil)
			}
		}(i)
	}
	wg.Wait()

	// Then the count matches connects minus disconnects
	req.Equal(sessions/2, channel.GetCurrentCount())
	req.Len(broadcaster.counts(KindJoined), sessions)
	req.Len(broadcaster.counts(KindLeft), sessions/2)

	for _, count := range append(broadcaster.counts(KindJoined), broadcaster.counts(KindLeft)...) {
		req.GreaterOrEqual(count, 0)
		req.LessOrEqual(count, sessions)
	}
}

func TestChannel_RandomSequencesTrackCount(t *testing.T) {
	req := require.New(t)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		broadcaster := &recordingBroadcaster{}
		channel := NewChannel(broadcaster)
		open := map[string]bool{}
		connects, disconnects := 0, 0

		for step := 0; step < 100; step++ {
			id := fmt.Sprintf("c%d", rng.Intn(20))
			if open[id] {
				channel.OnDisconnect(id, nil)
				delete(open, id)
				disconnects++
			} else if rng.Intn(4) == 0 {
				// disconnect of something never seen
				channel.OnDisconnect("unknown-"+id, nil)
			} else {
				channel.OnConnect(id)
				open[id] = true
				connects++
			}

			req.Equal(connects-disconnects, channel.GetCurrentCount())
		}

		req.Len(broadcaster.all(), connects+disconnects)
	}
}

func TestChannel_ConnectionsSnapshot(t *testing.T) {
	req := require.New(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	channel := NewChannel(nil, WithClock(clock))

	channel.OnConnect("second")
	channel.OnConnect("first")

	conns := channel.Connections()
	req.Len(conns, 2)
	req.Equal("second", conns[0].ID)
	req.Equal(base.Add(time.Second), conns[0].JoinedAt)
	req.Equal("first", conns[1].ID)
}

func TestChannel_CloseClearsRegistry(t *testing.T) {
	req := require.New(t)
	broadcaster := &recordingBroadcaster{}
	channel := NewChannel(broadcaster)
	channel.OnConnect("A")
	channel.OnConnect("B")

	// When the channel is torn down
	channel.Close()

	// Then it is empty and ignores late connects
	req.Zero(channel.GetCurrentCount())
	channel.OnConnect("C")
	req.Zero(channel.GetCurrentCount())

	// And late disconnects of cleared sessions are no-ops
	channel.OnDisconnect("A", nil)
	req.Len(broadcaster.all(), 2)
}

func TestChannel_PublishesOnEventBus(t *testing.T) {
	req := require.New(t)
	bus := eventbus.NewInMemoryBus(10)
	bus.Start(context.Background())
	defer bus.Stop()

	received := make(chan *eventbus.Event, 2)
	bus.SubscribeAll(func(e *eventbus.Event) { received <- e })

	channel := NewChannel(BroadcasterFunc(func(context.Context, Event, []string) {}), WithEventBus(bus))
	channel.OnConnect("A")
	channel.OnDisconnect("A", nil)

	var types []eventbus.EventType
	for range 2 {
		select {
		case e := <-received:
			types = append(types, e.Type)
			req.Equal("A", e.Metadata["client_id"])
		case <-time.After(time.Second):
			req.FailNow("event bus did not receive presence events")
		}
	}
	req.ElementsMatch([]eventbus.EventType{eventbus.EventVisitorJoined, eventbus.EventVisitorLeft}, types)
}
