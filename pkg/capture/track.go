package capture

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// MimeType maps a codec name ("h264", "vp8") to its RTP mime type.
func MimeType(codec string) (string, error) {
	switch strings.ToLower(codec) {
	case "", "h264":
		return webrtc.MimeTypeH264, nil
	case "vp8":
		return webrtc.MimeTypeVP8, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
}

// NewTrack creates the outbound video track every viewer session shares.
// Each call gets a fresh stream id.
func NewTrack(codec string) (*webrtc.TrackLocalStaticRTP, error) {
	mime, err := MimeType(codec)
	if err != nil {
		return nil, err
	}
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000},
		"video",
		"pantera-"+uuid.NewString(),
	)
}

// TrackFactory builds the shared track on first use.
type TrackFactory func() (*webrtc.TrackLocalStaticRTP, error)

// CodecTrack returns a TrackFactory for codec.
func CodecTrack(codec string) TrackFactory {
	return func() (*webrtc.TrackLocalStaticRTP, error) { return NewTrack(codec) }
}
