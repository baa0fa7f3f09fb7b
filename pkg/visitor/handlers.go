// Package visitor exposes the visitor count over the message protocol and
// provides a small client for the presence endpoint.
package visitor

import (
	"context"

	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/transport/protocol"
	"github.com/HMasataka/visitorhub/pkg/transport/websocket"
)

// CountHandler answers get_visitor_count requests with the current count
type CountHandler struct {
	counter presence.Counter
	logger  *logging.Logger
}

var _ protocol.Handler = (*CountHandler)(nil)

// NewCountHandler creates a new count handler
func NewCountHandler(counter presence.Counter, logger *logging.Logger) *CountHandler {
	return &CountHandler{
		counter: counter,
		logger:  logger,
	}
}

// Handle implements protocol.Handler
func (h *CountHandler) Handle(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	count := h.counter.GetCurrentCount()

	clientID, _ := websocket.ClientIDFromContext(ctx)
	h.logger.Debug("visitor count requested", "client_id", clientID, "count", count)

	return protocol.NewMessage(domain.MessageTypeVisitorCount, domain.VisitorCount{Count: count})
}

// CanHandle implements protocol.Handler
func (h *CountHandler) CanHandle(messageType domain.MessageType) bool {
	return messageType == domain.MessageTypeGetVisitorCount
}
