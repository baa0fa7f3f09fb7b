package visitor

import (
	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/presence"
	"github.com/HMasataka/visitorhub/pkg/transport/protocol"
)

// NewRouter returns the request router served on the presence endpoint
func NewRouter(counter presence.Counter, logger *logging.Logger) *protocol.DefaultHandlerRegistry {
	registry := protocol.NewHandlerRegistry()
	registry.Register(domain.MessageTypeGetVisitorCount, NewCountHandler(counter, logger))
	return registry
}
