package signaling

import "errors"

var (
	ErrClosed         = errors.New("signaling: client closed")
	ErrNotConnected   = errors.New("signaling: not connected")
	ErrSendBufferFull = errors.New("signaling: send buffer full")
	ErrNoURL          = errors.New("signaling: url required")
)
