package presence

import "errors"

var (
	ErrChannelClosed     = errors.New("presence channel closed")
	ErrDuplicateConnect  = errors.New("connection already present")
	ErrUnknownConnection = errors.New("connection not present")
)
