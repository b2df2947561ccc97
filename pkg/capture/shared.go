// Package capture owns the single outbound video track shared by every
// viewer session and the pipeline that feeds it.
package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-pantera/internal/log"
)

// Pipeline feeds encoded media into a track. The camera and encoder live
// outside this process; implementations only move packets.
type Pipeline interface {
	Start(track *webrtc.TrackLocalStaticRTP) error
	Stop() error
}

// Shared is a reference-counted handle on the track and its pipeline.
// The first Acquire initializes both; the last Release, or Close, tears
// them down. Teardown runs once per initialization.
type Shared struct {
	newTrack TrackFactory
	pipeline Pipeline
	logger   *slog.Logger

	mu       sync.Mutex
	track    *webrtc.TrackLocalStaticRTP
	refs     int
	inits    int
	releases int
	closed   bool
}

// NewShared creates an uninitialized shared resource. pipeline may be nil
// when something else writes into the track.
func NewShared(newTrack TrackFactory, pipeline Pipeline, logger *slog.Logger) *Shared {
	if newTrack == nil {
		newTrack = CodecTrack("h264")
	}
	return &Shared{
		newTrack: newTrack,
		pipeline: pipeline,
		logger:   log.Or(logger, "capture"),
	}
}

// Acquire returns the shared track, initializing it on first use.
func (s *Shared) Acquire() (*webrtc.TrackLocalStaticRTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if s.track == nil {
		track, err := s.newTrack()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPipelineStart, err)
		}
		if s.pipeline != nil {
			if err := s.pipeline.Start(track); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrPipelineStart, err)
			}
		}
		s.track = track
		s.inits++
		s.logger.Info("video capture initialized", "stream_id", track.StreamID(), "codec", track.Codec().MimeType)
	}

	s.refs++
	return s.track, nil
}

// Release drops one reference. Releasing the last reference tears the
// pipeline down; extra releases are ignored.
func (s *Shared) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 {
		s.teardownLocked()
	}
}

// Close tears down regardless of outstanding references and refuses
// further Acquires.
func (s *Shared) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.refs = 0
	s.teardownLocked()
}

func (s *Shared) teardownLocked() {
	if s.track == nil {
		return
	}
	if s.pipeline != nil {
		if err := s.pipeline.Stop(); err != nil {
			s.logger.Warn("video pipeline stop failed", "error", err)
		}
	}
	s.track = nil
	s.releases++
	s.logger.Info("video capture released")
}

// Refs returns the number of outstanding references.
func (s *Shared) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Active reports whether the track is initialized.
func (s *Shared) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track != nil
}

// Inits returns how many times the resource was initialized.
func (s *Shared) Inits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

// Releases returns how many times the resource was torn down.
func (s *Shared) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}
