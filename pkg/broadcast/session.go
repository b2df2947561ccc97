package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

// State is the negotiation state of one viewer session.
type State int32

const (
	StateCreated State = iota
	StateOfferSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOfferSent:
		return "offer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sender delivers outbound signaling messages.
type Sender interface {
	Send(msg *protocol.Message) error
}

// inboxSize bounds queued events per session; posting blocks when full.
const inboxSize = 32

type eventKind int

const (
	evOffer eventKind = iota
	evAnswer
	evRemoteCandidate
	evLocalCandidate
	evFailure
)

type event struct {
	kind      eventKind
	sdp       string
	candidate webrtc.ICECandidateInit
	reason    string
}

// SessionConfig configures a Session.
type SessionConfig struct {
	ViewerID string
	Peer     Peer
	Out      Sender
	Logger   *slog.Logger

	// OnRelease is called exactly once when the session tears down.
	OnRelease func()
}

// Session negotiates one viewer's connection. All state transitions run
// on the session's own goroutine, in the order events were posted.
type Session struct {
	viewerID  string
	peer      Peer
	out       Sender
	onRelease func()
	logger    *slog.Logger

	state atomic.Int32

	inbox     chan event
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once

	// onFailed is set by the registry before Start.
	onFailed func(viewerID string, s *Session)

	// Owned by the loop goroutine.
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	applied atomic.Int32
}

// NewSession wires callbacks on cfg.Peer. The shared track must already be
// attached to the peer. Call Start to send the offer.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		viewerID:  cfg.ViewerID,
		peer:      cfg.Peer,
		out:       cfg.Out,
		onRelease: cfg.OnRelease,
		logger:    log.Or(cfg.Logger, "broadcast").With("viewer_id", cfg.ViewerID),
		inbox:     make(chan event, inboxSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.peer.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			s.logger.Debug("ice gathering complete")
			return
		}
		s.post(event{kind: evLocalCandidate, candidate: *c})
	})
	s.peer.OnFailure(func(reason string) {
		s.post(event{kind: evFailure, reason: reason})
	})
	return s
}

// ViewerID returns the viewer this session serves.
func (s *Session) ViewerID() string { return s.viewerID }

// State returns the current negotiation state.
func (s *Session) State() State { return State(s.state.Load()) }

// AppliedCandidates returns how many remote candidates reached the peer.
func (s *Session) AppliedCandidates() int { return int(s.applied.Load()) }

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start launches the session loop and queues the offer.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.loop()
		s.post(event{kind: evOffer})
	})
}

// Deliver queues an inbound answer or ice-candidate. Messages carrying
// another viewer's id are rejected.
func (s *Session) Deliver(msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeAnswer:
		d, err := msg.GetAnswer()
		if err != nil {
			return err
		}
		if d.Sender != s.viewerID {
			return fmt.Errorf("%w: %q", ErrWrongViewer, d.Sender)
		}
		if !s.post(event{kind: evAnswer, sdp: d.SDP.SDP}) {
			return ErrSessionClosed
		}
		return nil

	case protocol.TypeICECandidate:
		d, err := msg.GetICECandidate()
		if err != nil {
			return err
		}
		if d.Sender != s.viewerID {
			return fmt.Errorf("%w: %q", ErrWrongViewer, d.Sender)
		}
		init := webrtc.ICECandidateInit{
			Candidate:     d.Candidate.Candidate,
			SDPMid:        d.Candidate.SDPMid,
			SDPMLineIndex: d.Candidate.SDPMLineIndex,
		}
		if !s.post(event{kind: evRemoteCandidate, candidate: init}) {
			return ErrSessionClosed
		}
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnroutable, msg.Type)
	}
}

// Close tears the session down and waits for its loop to finish.
// It must not be called from the session's own callbacks.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	s.startOnce.Do(func() { go s.loop() })
	<-s.done
}

func (s *Session) post(ev event) bool {
	select {
	case <-s.closing:
		return false
	default:
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Session) loop() {
	failed := false
	defer func() {
		s.closeOnce.Do(func() { close(s.closing) })
		s.teardown()
		close(s.done)
		if failed && s.onFailed != nil {
			s.onFailed(s.viewerID, s)
		}
	}()

	for {
		select {
		case <-s.closing:
			return
		case ev := <-s.inbox:
			if err := s.handle(ev); err != nil {
				s.logger.Warn("viewer session failed", "error", err, "state", s.State().String())
				failed = true
				return
			}
		}
	}
}

// handle applies one event. A returned error ends the session and evicts
// it from the registry.
func (s *Session) handle(ev event) error {
	switch ev.kind {
	case evFailure:
		return fmt.Errorf("%w: %s", ErrPeerFailed, ev.reason)
	case evOffer:
		return s.sendOffer()
	case evAnswer:
		s.applyAnswer(ev.sdp)
	case evRemoteCandidate:
		s.applyCandidate(ev.candidate)
	case evLocalCandidate:
		s.sendCandidate(ev.candidate)
	}
	return nil
}

func (s *Session) sendOffer() error {
	if s.State() != StateCreated {
		return nil
	}

	offer, err := s.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	msg, err := protocol.NewOfferMessage(s.viewerID, offer.SDP)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	s.state.Store(int32(StateOfferSent))
	if err := s.out.Send(msg); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	s.logger.Info("offer sent")
	return nil
}

func (s *Session) applyAnswer(sdp string) {
	if s.State() != StateOfferSent {
		s.logger.Warn("answer ignored", "state", s.State().String())
		return
	}

	err := s.peer.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		s.logger.Warn("answer rejected", "error", err)
		return
	}
	s.remoteSet = true
	s.state.Store(int32(StateConnected))
	s.logger.Info("answer applied", "buffered_candidates", len(s.pending))

	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		s.applyCandidate(c)
	}
}

func (s *Session) applyCandidate(c webrtc.ICECandidateInit) {
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		return
	}
	if err := s.peer.AddICECandidate(c); err != nil {
		s.logger.Warn("remote candidate rejected", "error", err)
		return
	}
	s.applied.Add(1)
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	msg, err := protocol.NewCandidateMessage(s.viewerID, protocol.Candidate{
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
		Candidate:     c.Candidate,
	})
	if err != nil {
		return
	}
	if err := s.out.Send(msg); err != nil {
		s.logger.Debug("local candidate not sent", "error", err)
	}
}

func (s *Session) teardown() {
	s.state.Store(int32(StateClosed))
	if err := s.peer.Close(); err != nil {
		s.logger.Debug("peer close failed", "error", err)
	}
	if s.onRelease != nil {
		s.onRelease()
	}
	s.logger.Info("session closed")
}
