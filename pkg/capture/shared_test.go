package capture

import (
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

type fakePipeline struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (p *fakePipeline) Start(*webrtc.TrackLocalStaticRTP) error {
	p.starts.Add(1)
	return p.startErr
}

func (p *fakePipeline) Stop() error {
	p.stops.Add(1)
	return nil
}

func TestSharedLazyInitAndRelease(t *testing.T) {
	p := &fakePipeline{}
	s := NewShared(CodecTrack("h264"), p, nil)

	if s.Active() {
		t.Fatal("nothing should be initialized before Acquire")
	}

	a, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := s.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if a != b {
		t.Error("every session must get the same track")
	}
	if p.starts.Load() != 1 || s.Inits() != 1 {
		t.Errorf("starts = %d inits = %d, want 1", p.starts.Load(), s.Inits())
	}

	// One viewer leaves, the other keeps the track alive.
	s.Release()
	if !s.Active() || p.stops.Load() != 0 {
		t.Fatal("resource released while a session still holds it")
	}

	s.Release()
	if s.Active() {
		t.Error("last release should tear down")
	}
	s.Release()
	s.Close()
	if p.stops.Load() != 1 || s.Releases() != 1 {
		t.Errorf("stops = %d releases = %d, want exactly 1", p.stops.Load(), s.Releases())
	}
}

func TestSharedCloseWithReferences(t *testing.T) {
	p := &fakePipeline{}
	s := NewShared(nil, p, nil)

	for i := 0; i < 3; i++ {
		if _, err := s.Acquire(); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	s.Close()
	for i := 0; i < 3; i++ {
		s.Release()
	}
	s.Close()

	if p.stops.Load() != 1 {
		t.Errorf("stops = %d, want 1", p.stops.Load())
	}
	if _, err := s.Acquire(); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire() after Close = %v, want ErrClosed", err)
	}
}

func TestSharedPipelineFailure(t *testing.T) {
	p := &fakePipeline{startErr: errors.New("no encoder")}
	s := NewShared(nil, p, nil)

	if _, err := s.Acquire(); !errors.Is(err, ErrPipelineStart) {
		t.Fatalf("Acquire() error = %v, want ErrPipelineStart", err)
	}
	if s.Active() || s.Refs() != 0 {
		t.Error("failed init must leave nothing behind")
	}

	p.startErr = nil
	if _, err := s.Acquire(); err != nil {
		t.Fatalf("retry Acquire() error = %v", err)
	}
	if s.Inits() != 1 {
		t.Errorf("Inits() = %d, want 1", s.Inits())
	}
}

func TestSharedReinitAfterLastRelease(t *testing.T) {
	p := &fakePipeline{}
	s := NewShared(nil, p, nil)

	first, _ := s.Acquire()
	s.Release()
	second, _ := s.Acquire()
	s.Release()

	if first == second {
		t.Error("a new viewer after teardown should get a fresh track")
	}
	if s.Inits() != 2 || s.Releases() != 2 {
		t.Errorf("inits = %d releases = %d", s.Inits(), s.Releases())
	}
}

func TestMimeType(t *testing.T) {
	tests := []struct {
		codec   string
		want    string
		wantErr bool
	}{
		{"h264", webrtc.MimeTypeH264, false},
		{"VP8", webrtc.MimeTypeVP8, false},
		{"", webrtc.MimeTypeH264, false},
		{"av1", "", true},
	}
	for _, tt := range tests {
		got, err := MimeType(tt.codec)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("MimeType(%q) = %q, %v", tt.codec, got, err)
		}
	}
}

func TestRTPIngest(t *testing.T) {
	track, err := NewTrack("h264")
	if err != nil {
		t.Fatalf("NewTrack() error = %v", err)
	}

	ing := NewRTPIngest("127.0.0.1:0", nil)
	if err := ing.Start(track); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ing.Stop()

	conn, err := net.Dial("udp", ing.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, Timestamp: 3000, SSRC: 42},
		Payload: []byte{0x65, 0x88, 0x84},
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	conn.Write([]byte{0x01})
	conn.Write(raw)

	deadline := time.Now().Add(2 * time.Second)
	for ing.Packets() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ing.Packets() != 1 {
		t.Errorf("Packets() = %d, want 1", ing.Packets())
	}
	if ing.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", ing.Dropped())
	}

	if err := ing.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if ing.Addr() != nil {
		t.Error("Addr() should be nil after Stop")
	}
}
