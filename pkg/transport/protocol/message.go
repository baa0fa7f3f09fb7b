package protocol

import (
	"encoding/json"
	"time"

	"github.com/HMasataka/visitorhub/pkg/domain"
	"github.com/rs/xid"
)

// NewMessage builds an envelope around payload
func NewMessage(messageType domain.MessageType, payload any) (*domain.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &domain.Message{
		ID:        xid.New().String(),
		Type:      messageType,
		Timestamp: time.Now(),
		Data:      data,
	}, nil
}

// Decode decodes the message payload into v
func Decode(msg *domain.Message, v any) error {
	return json.Unmarshal(msg.Data, v)
}

// Codec defines the interface for message encoding/decoding
type Codec interface {
	// Encode encodes a domain message to bytes
	Encode(msg domain.Message) ([]byte, error)

	// Decode decodes bytes to a domain message
	Decode(data []byte) (*domain.Message, error)
}

// JSONCodec implements Codec using JSON
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements the Codec interface
func (c *JSONCodec) Encode(msg domain.Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode implements the Codec interface
func (c *JSONCodec) Decode(data []byte) (*domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, domain.ErrInvalidMessage
	}
	return &msg, nil
}
