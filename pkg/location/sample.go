// Package location models GPS position samples: validation, the wire
// encoding sent to tracking servers, and providers that deliver raw fixes.
package location

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fix is one raw reading from a location source, before it is bound to a
// device and stamped with the local receipt time.
type Fix struct {
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	Time      int64    `json:"time"` // Unix milliseconds reported by the source
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Provider  string   `json:"provider,omitempty"`
}

// Sample is a position fix bound to a device. Treat it as immutable once
// built; it is passed by value through the dispatcher and retry queue.
type Sample struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	FixTime     int64   `json:"fix_time"`     // Unix ms reported by the location source
	CaptureTime int64   `json:"capture_time"` // Unix ms when this process received the fix
	DeviceID    string  `json:"device_id"`

	Accuracy *float64 `json:"accuracy,omitempty"`
	Altitude *float64 `json:"altitude,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Provider string   `json:"provider,omitempty"`
}

// FromFix binds a raw fix to deviceID. A non-positive source time falls
// back to now.
func FromFix(f Fix, deviceID string, now time.Time) Sample {
	captured := now.UnixMilli()
	fixTime := f.Time
	if fixTime <= 0 {
		fixTime = captured
	}
	return Sample{
		Latitude:    f.Latitude,
		Longitude:   f.Longitude,
		FixTime:     fixTime,
		CaptureTime: captured,
		DeviceID:    deviceID,
		Accuracy:    f.Accuracy,
		Altitude:    f.Altitude,
		Speed:       f.Speed,
		Provider:    f.Provider,
	}
}

// wirePayload fixes the key order of the encoded sample.
type wirePayload struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Time     int64   `json:"time"`
	DeviceID string  `json:"deviceId"`
}

// Encode returns the compact JSON payload sent to every destination:
//
//	{"lat":4.123456,"lon":-74.123456,"time":1700000000000,"deviceId":"dev1"}
func (s Sample) Encode() ([]byte, error) {
	data, err := json.Marshal(wirePayload{
		Lat:      s.Latitude,
		Lon:      s.Longitude,
		Time:     s.FixTime,
		DeviceID: s.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("location: encode sample: %w", err)
	}
	return data, nil
}

// FixTimeUTC returns the source timestamp as a time.Time.
func (s Sample) FixTimeUTC() time.Time {
	return time.UnixMilli(s.FixTime).UTC()
}

// FormatCoordinates renders the sample for status lines.
func (s Sample) FormatCoordinates() string {
	return fmt.Sprintf("LAT: %.6f, LON: %.6f", s.Latitude, s.Longitude)
}

// IsValid reports whether the sample passes DefaultValidator at the current time.
func (s Sample) IsValid() bool {
	return DefaultValidator().Validate(s, time.Now()) == nil
}
