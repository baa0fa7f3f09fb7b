// Package presence keeps the set of sessions attached to the visitor hub and
// announces every membership change to all of them.
package presence

import (
	"context"
	"time"
)

// Connection is one open session on the hub.
type Connection struct {
	ID       string    `json:"id"`
	JoinedAt time.Time `json:"joined_at"`
}

// EventKind distinguishes join and leave announcements.
type EventKind string

const (
	KindJoined EventKind = "visitor_joined"
	KindLeft   EventKind = "visitor_left"
)

// Event is the announcement produced by a membership change. Count is the
// number of open sessions right after the change.
type Event struct {
	Kind         EventKind `json:"kind"`
	Count        int       `json:"count"`
	ConnectionID string    `json:"connection_id"`
	At           time.Time `json:"at"`
}

// Broadcaster delivers an event to a set of sessions. Delivery is best effort
// per recipient: implementations swallow individual failures and never block
// on a slow peer.
type Broadcaster interface {
	Deliver(ctx context.Context, event Event, recipients []string)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(ctx context.Context, event Event, recipients []string)

// Deliver implements Broadcaster
func (f BroadcasterFunc) Deliver(ctx context.Context, event Event, recipients []string) {
	f(ctx, event, recipients)
}

// Listener is what the transport calls as sessions open and close.
type Listener interface {
	// OnConnect is called once per new session.
	OnConnect(connectionID string)

	// OnDisconnect is called once per terminated session. cause is the
	// transport error for an abnormal close and nil otherwise.
	OnDisconnect(connectionID string, cause error)
}

// Counter answers on-demand count queries.
type Counter interface {
	GetCurrentCount() int
}
