package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_RejectsUntypedFrames(t *testing.T) {
	req := require.New(t)
	codec := NewJSONCodec()

	_, err := codec.Decode([]byte(`{"id":"1"}`))
	req.ErrorIs(err, domain.ErrInvalidMessage)

	_, err = codec.Decode([]byte(`not json`))
	req.Error(err)

	msg, err := codec.Decode([]byte(`{"type":"get_visitor_count"}`))
	req.NoError(err)
	req.Equal(domain.MessageTypeGetVisitorCount, msg.Type)
}

func TestNewMessage_CarriesPayload(t *testing.T) {
	req := require.New(t)

	msg, err := NewMessage(domain.MessageTypeVisitorJoined, domain.VisitorCount{Count: 3})
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.False(msg.Timestamp.IsZero())
	req.JSONEq(`{"count":3}`, string(msg.Data))

	var payload domain.VisitorCount
	req.NoError(Decode(msg, &payload))
	req.Equal(3, payload.Count)
}

func TestHandlerRegistry_Routes(t *testing.T) {
	req := require.New(t)
	registry := NewHandlerRegistry()
	registry.Register(domain.MessageTypeGetVisitorCount, HandlerFunc(
		func(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
			return NewMessage(domain.MessageTypeVisitorCount, domain.VisitorCount{Count: 7})
		}))

	res, err := registry.Handle(context.Background(), &domain.Message{Type: domain.MessageTypeGetVisitorCount})
	req.NoError(err)
	req.Equal(domain.MessageTypeVisitorCount, res.Type)

	_, err = registry.Handle(context.Background(), &domain.Message{Type: "unknown"})
	var reqErr *domain.RequestError
	req.True(errors.As(err, &reqErr))
	req.Equal(domain.CodeUnknownRequest, reqErr.Code)
}
