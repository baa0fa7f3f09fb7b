package websocket

import "context"

type contextKey string

const clientIDKey contextKey = "client_id"

// WithClientID stores the id of the client a message came from
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext returns the id stored by WithClientID
func ClientIDFromContext(ctx context.Context) (string, bool) {
	clientID, ok := ctx.Value(clientIDKey).(string)
	if !ok || clientID == "" {
		return "", false
	}

	return clientID, true
}
