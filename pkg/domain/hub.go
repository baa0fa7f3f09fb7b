package domain

import (
	"context"
)

// Hub tracks the clients attached to this process and writes to them.
type Hub interface {
	// Start starts the hub
	Start(ctx context.Context) error

	// Stop stops the hub gracefully
	Stop() error

	// Register registers a new client
	Register(client Client) error

	// Unregister removes a client
	Unregister(clientID string) error

	// SendTo sends a message to a specific client
	SendTo(clientID string, message []byte) error

	// GetClient retrieves a client by ID
	GetClient(clientID string) (Client, bool)

	// GetClients returns all connected clients
	GetClients() []Client
}

// HubStats provides statistics about the hub
type HubStats struct {
	ConnectedClients int     `json:"connected_clients"`
	MessagesSent     int64   `json:"messages_sent"`
	DeliveryFailures int64   `json:"delivery_failures"`
	Broadcasts       int64   `json:"broadcasts"`
	Uptime           float64 `json:"uptime_seconds"`
}
