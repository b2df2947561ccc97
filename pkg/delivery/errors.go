package delivery

import "errors"

// Sentinel errors for whole-round failures. Per-destination failures are
// reported as State values, never as errors.
var (
	// ErrNoConnectivity is returned when the round was skipped because the
	// connectivity oracle reported no network.
	ErrNoConnectivity = errors.New("delivery: no network connectivity")

	// ErrRoundFailed is returned when every destination in the round failed.
	ErrRoundFailed = errors.New("delivery: all destinations failed")

	// ErrPayloadTooLarge is returned by UDP sends above MaxDatagramSize.
	ErrPayloadTooLarge = errors.New("delivery: payload exceeds datagram ceiling")

	// ErrShortWrite is returned when a TCP write does not accept the full payload.
	ErrShortWrite = errors.New("delivery: short write")

	// ErrNoTargets is returned when a dispatcher has nothing to send to.
	ErrNoTargets = errors.New("delivery: no targets configured")
)
