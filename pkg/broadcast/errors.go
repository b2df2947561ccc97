package broadcast

import "errors"

var (
	ErrNotStarted     = errors.New("broadcast: not started")
	ErrAlreadyStarted = errors.New("broadcast: already started")
	ErrSessionClosed  = errors.New("broadcast: session closed")
	ErrWrongViewer    = errors.New("broadcast: message addressed to another viewer")
	ErrUnroutable     = errors.New("broadcast: message type not routable to a session")
	ErrRegistryClosed = errors.New("broadcast: registry closed")
	ErrPeerFailed     = errors.New("broadcast: peer connection failed")
)
