package protocol

import "errors"

var (
	ErrMalformed        = errors.New("protocol: malformed message")
	ErrMissingType      = errors.New("protocol: missing message type")
	ErrEmptyData        = errors.New("protocol: missing data")
	ErrUnexpectedType   = errors.New("protocol: unexpected message type")
	ErrMissingDevice    = errors.New("protocol: missing deviceId")
	ErrMissingViewer    = errors.New("protocol: missing viewer id")
	ErrMissingSender    = errors.New("protocol: missing sender")
	ErrMissingTarget    = errors.New("protocol: missing target")
	ErrMissingSDP       = errors.New("protocol: missing sdp")
	ErrMissingCandidate = errors.New("protocol: missing candidate")
)
