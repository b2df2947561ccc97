package location

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by Validator.Validate.
var (
	ErrZeroCoordinate      = errors.New("location: zero coordinate")
	ErrLatitudeOutOfRange  = errors.New("location: latitude out of range")
	ErrLongitudeOutOfRange = errors.New("location: longitude out of range")
	ErrStaleFix            = errors.New("location: fix too old")
	ErrFutureFix           = errors.New("location: fix time ahead of clock")
	ErrMissingDevice       = errors.New("location: device id required")
)

// Default freshness window around the local clock.
const (
	DefaultMaxAge  = 5 * time.Minute
	DefaultMaxSkew = 1 * time.Minute
)

// Validator checks geographic and temporal sanity of a sample.
type Validator struct {
	// MaxAge is how far in the past a fix time may be.
	MaxAge time.Duration
	// MaxSkew is how far in the future a fix time may be (device clock drift).
	MaxSkew time.Duration
}

// DefaultValidator returns the validator used when none is configured.
func DefaultValidator() Validator {
	return Validator{MaxAge: DefaultMaxAge, MaxSkew: DefaultMaxSkew}
}

// Validate returns nil when s is usable at time now.
func (v Validator) Validate(s Sample, now time.Time) error {
	if s.DeviceID == "" {
		return ErrMissingDevice
	}
	if s.Latitude == 0 || s.Longitude == 0 {
		return ErrZeroCoordinate
	}
	// NaN fails both comparisons, so test the accepted range instead.
	if !(s.Latitude >= -90 && s.Latitude <= 90) {
		return fmt.Errorf("%w: %v", ErrLatitudeOutOfRange, s.Latitude)
	}
	if !(s.Longitude >= -180 && s.Longitude <= 180) {
		return fmt.Errorf("%w: %v", ErrLongitudeOutOfRange, s.Longitude)
	}

	fix := time.UnixMilli(s.FixTime)
	if s.FixTime <= 0 || now.Sub(fix) > v.MaxAge {
		return fmt.Errorf("%w: %s old", ErrStaleFix, now.Sub(fix).Round(time.Second))
	}
	if fix.Sub(now) > v.MaxSkew {
		return fmt.Errorf("%w: %s ahead", ErrFutureFix, fix.Sub(now).Round(time.Second))
	}
	return nil
}
