package visitor

import (
	"context"
	"testing"

	"github.com/HMasataka/visitorhub/internal/logging"
	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/HMasataka/visitorhub/pkg/transport/protocol"
	"github.com/HMasataka/visitorhub/pkg/transport/websocket"
	"github.com/stretchr/testify/require"
)

type fixedCounter int

func (c fixedCounter) GetCurrentCount() int { return int(c) }

func TestCountHandler(t *testing.T) {
	handler := NewCountHandler(fixedCounter(7), logging.Discard())
	request, err := protocol.NewMessage(domain.MessageTypeGetVisitorCount, nil)
	require.NoError(t, err)

	reply, err := handler.Handle(websocket.WithClientID(context.Background(), "c1"), request)

	require.NoError(t, err)
	require.Equal(t, domain.MessageTypeVisitorCount, reply.Type)

	var payload domain.VisitorCount
	require.NoError(t, protocol.Decode(reply, &payload))
	require.Equal(t, 7, payload.Count)
}

func TestCountHandler_CanHandle(t *testing.T) {
	handler := NewCountHandler(fixedCounter(0), logging.Discard())

	require.True(t, handler.CanHandle(domain.MessageTypeGetVisitorCount))
	require.False(t, handler.CanHandle(domain.MessageTypeVisitorJoined))
}

func TestRouter(t *testing.T) {
	router := NewRouter(fixedCounter(3), logging.Discard())

	t.Run("count request", func(t *testing.T) {
		request, err := protocol.NewMessage(domain.MessageTypeGetVisitorCount, nil)
		require.NoError(t, err)

		reply, err := router.Handle(context.Background(), request)

		require.NoError(t, err)
		require.Equal(t, domain.MessageTypeVisitorCount, reply.Type)
	})

	t.Run("push types are not requests", func(t *testing.T) {
		request, err := protocol.NewMessage(domain.MessageTypeVisitorJoined, domain.VisitorCount{Count: 1})
		require.NoError(t, err)

		_, err = router.Handle(context.Background(), request)

		var reqErr *domain.RequestError
		require.ErrorAs(t, err, &reqErr)
		require.Equal(t, domain.CodeUnknownRequest, reqErr.Code)
	})
}
