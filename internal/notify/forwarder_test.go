package notify

import (
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/visitorhub/internal/eventbus"
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestForwarder_PublishesPresenceChanges(t *testing.T) {
	// Given a forwarder attached to a bus fed by a presence channel
	bus := eventbus.NewInMemoryBus(16)
	pub := &fakePublisher{}
	fwd := NewForwarder(pub, "site.visitors", logging.Discard())
	fwd.Attach(bus)

	channel := presence.NewChannel(nil, presence.WithEventBus(bus))

	// When a visitor joins and leaves
	channel.OnConnect("a")
	channel.OnDisconnect("a", nil)

	// Then both changes reach NATS in order once the bus drains
	bus.Start(t.Context())
	t.Cleanup(bus.Stop)

	require.Eventually(t, func() bool { return len(pub.all()) == 2 }, 2*time.Second, 10*time.Millisecond)

	msgs := pub.all()
	require.Equal(t, "site.visitors.joined", msgs[0].subject)
	require.Equal(t, "site.visitors.left", msgs[1].subject)

	var left Message
	require.NoError(t, json.Unmarshal(msgs[1].data, &left))
	require.Equal(t, presence.KindLeft, left.Kind)
	require.Equal(t, 0, left.Count)
	require.Equal(t, "a", left.ConnectionID)
}

func TestForwarder_IgnoresOtherPayloads(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewForwarder(pub, "p", logging.Discard())

	fwd.handle(eventbus.NewEvent(eventbus.EventVisitorJoined, "test", "not a presence event"))

	require.Empty(t, pub.all())
}

func TestForwarder_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: stderrors.New("nats: connection closed")}
	fwd := NewForwarder(pub, "p", logging.Discard())

	require.NotPanics(t, func() {
		fwd.handle(eventbus.NewEvent(eventbus.EventVisitorJoined, "test", presence.Event{Kind: presence.KindJoined, Count: 1}))
	})
}

func TestForwarder_Detach(t *testing.T) {
	bus := eventbus.NewInMemoryBus(4)
	pub := &fakePublisher{}
	fwd := NewForwarder(pub, "p", logging.Discard())
	fwd.Attach(bus)

	fwd.Detach()
	bus.Publish(eventbus.NewEvent(eventbus.EventVisitorJoined, "test", presence.Event{Kind: presence.KindJoined, Count: 1}))

	require.Empty(t, pub.all())
	require.NotPanics(t, fwd.Detach)
}

func TestForwarder_Subject(t *testing.T) {
	fwd := NewForwarder(nil, "visitorhub.presence", logging.Discard())

	require.Equal(t, "visitorhub.presence.joined", fwd.Subject(presence.KindJoined))
	require.Equal(t, "visitorhub.presence.left", fwd.Subject(presence.KindLeft))
}
