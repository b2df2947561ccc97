// Package broadcast serves the device camera to many viewers at once. Each
// viewer gets its own peer connection and negotiation session; all of them
// share one outbound video track.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/capture"
	"github.com/teslashibe/go-pantera/pkg/detection"
	"github.com/teslashibe/go-pantera/pkg/protocol"
	"github.com/teslashibe/go-pantera/pkg/signaling"
)

// Transport is the signaling channel to the relay.
type Transport interface {
	Connect(ctx context.Context) error
	Send(msg *protocol.Message) error
	Close() error
}

// TransportFactory builds a transport from a signaling config.
type TransportFactory func(cfg signaling.Config) Transport

// Config configures a Broadcaster.
type Config struct {
	DeviceID     string
	SignalingURL string

	// NewPeer defaults to PionFactory with no ICE servers.
	NewPeer PeerFactory
	// Codec selects the shared track's codec when NewTrack is nil.
	Codec    string
	NewTrack capture.TrackFactory
	Pipeline capture.Pipeline

	Detection *detection.Monitor

	NewTransport TransportFactory
	Signaling    signaling.Config

	// OnSessions receives the session count after every change.
	OnSessions func(count int)
	// OnSignal observes inbound signaling message types.
	OnSignal func(t protocol.MessageType)

	Logger *slog.Logger
}

// Broadcaster owns the signaling connection, the session registry and the
// shared capture resource.
type Broadcaster struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	running   bool
	transport Transport
	registry  *Registry
	shared    *capture.Shared
}

// New creates a broadcaster. Call Start to connect.
func New(cfg Config) *Broadcaster {
	if cfg.NewPeer == nil {
		cfg.NewPeer = PionFactory(nil)
	}
	if cfg.NewTransport == nil {
		cfg.NewTransport = func(c signaling.Config) Transport { return signaling.NewClient(c) }
	}
	return &Broadcaster{
		cfg:    cfg,
		logger: log.Or(cfg.Logger, "broadcast"),
	}
}

// Start connects to the signaling relay. Viewers may join once it returns.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return ErrAlreadyStarted
	}

	newTrack := b.cfg.NewTrack
	if newTrack == nil {
		if _, err := capture.MimeType(b.cfg.Codec); err != nil {
			return err
		}
		newTrack = capture.CodecTrack(b.cfg.Codec)
	}

	shared := capture.NewShared(newTrack, b.cfg.Pipeline, b.logger)
	registry := NewRegistry(b.sessionFactory(shared), b.cfg.OnSessions, b.logger)

	sc := b.cfg.Signaling
	sc.URL = b.cfg.SignalingURL
	sc.DeviceID = b.cfg.DeviceID
	sc.Handler = b
	sc.Logger = b.logger
	sc.OnMessage = b.cfg.OnSignal
	if mon := b.cfg.Detection; mon != nil {
		userConnect, userDisconnect := sc.OnConnect, sc.OnDisconnect
		sc.OnConnect = func() {
			mon.Connected()
			if userConnect != nil {
				userConnect()
			}
		}
		sc.OnDisconnect = func(err error) {
			mon.Disconnected()
			if userDisconnect != nil {
				userDisconnect(err)
			}
		}
	}

	transport := b.cfg.NewTransport(sc)

	// Handler callbacks read these fields, so set them before connecting.
	b.shared = shared
	b.registry = registry
	b.transport = transport

	if err := transport.Connect(ctx); err != nil {
		b.shared, b.registry, b.transport = nil, nil, nil
		shared.Close()
		return fmt.Errorf("signaling connect: %w", err)
	}

	b.running = true
	b.logger.Info("broadcaster started", "device_id", b.cfg.DeviceID, "url", b.cfg.SignalingURL)
	return nil
}

// Stop closes every session, releases capture and drops the signaling
// connection. Stop on a stopped broadcaster is a no-op.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	registry, shared, transport := b.registry, b.shared, b.transport
	b.mu.Unlock()

	// Closing the transport joins its read pump, so no viewer-joined can
	// race the registry teardown below.
	err := transport.Close()
	registry.CloseAll()
	shared.Close()
	if b.cfg.Detection != nil {
		b.cfg.Detection.Disconnected()
	}
	b.logger.Info("broadcaster stopped")
	return err
}

// Running reports whether Start succeeded and Stop has not been called.
func (b *Broadcaster) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// SessionCount returns the number of live viewer sessions.
func (b *Broadcaster) SessionCount() int {
	r := b.currentRegistry()
	if r == nil {
		return 0
	}
	return r.Count()
}

// Sessions lists live viewer sessions.
func (b *Broadcaster) Sessions() []SessionInfo {
	r := b.currentRegistry()
	if r == nil {
		return []SessionInfo{}
	}
	return r.List()
}

// CaptureActive reports whether the shared video track is initialized.
func (b *Broadcaster) CaptureActive() bool {
	b.mu.Lock()
	s := b.shared
	b.mu.Unlock()
	return s != nil && s.Active()
}

// HandleMessage implements signaling.Handler. It runs on the signaling
// read goroutine, so messages are handled in arrival order.
func (b *Broadcaster) HandleMessage(_ context.Context, msg *protocol.Message) {
	r := b.currentRegistry()
	if r == nil {
		return
	}

	switch msg.Type {
	case protocol.TypeViewerJoined:
		d, err := msg.GetViewerJoined()
		if err != nil {
			b.logger.Warn("invalid viewer-joined", "error", err)
			return
		}
		_ = r.OnViewerJoined(d.SocketID)

	case protocol.TypeAnswer, protocol.TypeICECandidate:
		id, err := msg.ViewerID()
		if err != nil {
			b.logger.Warn("unaddressed message dropped", "type", msg.Type, "error", err)
			return
		}
		r.OnMessage(id, msg)

	case protocol.TypeViewerDisconnected:
		d, err := msg.GetViewerDisconnected()
		if err != nil {
			b.logger.Warn("invalid viewer-disconnected", "error", err)
			return
		}
		r.OnViewerLeft(d.ViewerID)

	case protocol.TypeDetectionUpdate:
		if b.cfg.Detection == nil {
			return
		}
		if _, err := b.cfg.Detection.Handle(msg); err != nil {
			b.logger.Warn("invalid detection-update", "error", err)
		}

	default:
		b.logger.Debug("signaling message ignored", "type", msg.Type)
	}
}

func (b *Broadcaster) currentRegistry() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry
}

func (b *Broadcaster) send(msg *protocol.Message) error {
	b.mu.Lock()
	t := b.transport
	b.mu.Unlock()
	if t == nil {
		return ErrNotStarted
	}
	return t.Send(msg)
}

func (b *Broadcaster) sessionFactory(shared *capture.Shared) SessionFactory {
	return func(viewerID string) (*Session, error) {
		track, err := shared.Acquire()
		if err != nil {
			return nil, err
		}

		peer, err := b.cfg.NewPeer()
		if err != nil {
			shared.Release()
			return nil, err
		}
		if err := peer.AddSendOnlyTrack(track); err != nil {
			_ = peer.Close()
			shared.Release()
			return nil, fmt.Errorf("add track: %w", err)
		}

		return NewSession(SessionConfig{
			ViewerID:  viewerID,
			Peer:      peer,
			Out:       senderFunc(b.send),
			Logger:    b.logger,
			OnRelease: shared.Release,
		}), nil
	}
}

type senderFunc func(*protocol.Message) error

func (f senderFunc) Send(msg *protocol.Message) error { return f(msg) }
