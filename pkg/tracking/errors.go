package tracking

import "errors"

var (
	ErrLocationPermission   = errors.New("tracking: location permission not granted")
	ErrBackgroundPermission = errors.New("tracking: background permission not granted")
	ErrNoNetwork            = errors.New("tracking: network unreachable")
	ErrAlreadyTracking      = errors.New("tracking: already tracking")
	ErrNotTracking          = errors.New("tracking: not tracking")
	ErrProviderStart        = errors.New("tracking: location provider failed to start")
)
