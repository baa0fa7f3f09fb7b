package domain

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of a frame exchanged on the visitor hub
type MessageType string

const (
	MessageTypeVisitorJoined   MessageType = "visitor_joined"
	MessageTypeVisitorLeft     MessageType = "visitor_left"
	MessageTypeGetVisitorCount MessageType = "get_visitor_count"
	MessageTypeVisitorCount    MessageType = "visitor_count"
	MessageTypeError           MessageType = "error"
)

// Message is the envelope of every frame
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// VisitorCount is the payload of visitor_joined, visitor_left and visitor_count
type VisitorCount struct {
	Count int `json:"count"`
}

// ErrorPayload is sent back when a request could not be handled
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
