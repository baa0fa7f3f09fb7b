package domain

import (
	"context"
)

// Client represents a connected client interface
type Client interface {
	// ID returns the unique identifier of the client
	ID() string

	// Send queues a message for the client without waiting for the write
	Send(ctx context.Context, message []byte) error

	// Receive sets up a message handler for incoming messages
	Receive(handler MessageHandler) error

	// Close closes the client connection
	Close() error

	// Context returns the client's context
	Context() context.Context
}

// MessageHandler is a function that handles incoming messages
type MessageHandler func(message []byte) error
