package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

// SessionFactory builds an unstarted session for a viewer.
type SessionFactory func(viewerID string) (*Session, error)

// Registry maps viewer ids to their sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	newSession SessionFactory
	onChange   func(count int)
	logger     *slog.Logger
}

// NewRegistry creates a registry. onChange, if set, receives the session
// count after every add or remove.
func NewRegistry(factory SessionFactory, onChange func(int), logger *slog.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		newSession: factory,
		onChange:   onChange,
		logger:     log.Or(logger, "broadcast"),
	}
}

// OnViewerJoined creates a session for viewerID and starts negotiation.
// An existing session for the same viewer is closed first. After CloseAll
// every join is refused with ErrRegistryClosed.
func (r *Registry) OnViewerJoined(viewerID string) error {
	if r.isClosed() {
		r.logger.Debug("join after close ignored", "viewer_id", viewerID)
		return ErrRegistryClosed
	}

	s, err := r.newSession(viewerID)
	if err != nil {
		r.logger.Error("create session failed", "viewer_id", viewerID, "error", err)
		return err
	}
	s.onFailed = r.evictFailed

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		// Never started: Close runs teardown, which releases the track.
		s.Close()
		r.logger.Debug("join after close ignored", "viewer_id", viewerID)
		return ErrRegistryClosed
	}
	prev := r.sessions[viewerID]
	r.sessions[viewerID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("viewer rejoined, replacing session", "viewer_id", viewerID)
		prev.Close()
	}
	r.changed(n)

	s.Start()
	r.logger.Info("viewer joined", "viewer_id", viewerID, "sessions", n)
	return nil
}

// OnMessage routes an answer or ice-candidate to the session it names.
// It reports whether a session accepted the message.
func (r *Registry) OnMessage(viewerID string, msg *protocol.Message) bool {
	r.mu.Lock()
	s := r.sessions[viewerID]
	r.mu.Unlock()

	if s == nil {
		r.logger.Debug("message for unknown viewer dropped", "viewer_id", viewerID, "type", msg.Type)
		return false
	}
	if err := s.Deliver(msg); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrSessionClosed) {
			level = slog.LevelDebug
		}
		r.logger.Log(context.Background(), level, "message rejected", "viewer_id", viewerID, "type", msg.Type, "error", err)
		return false
	}
	return true
}

// OnViewerLeft closes and removes a viewer's session.
func (r *Registry) OnViewerLeft(viewerID string) {
	r.mu.Lock()
	s := r.sessions[viewerID]
	delete(r.sessions, viewerID)
	n := len(r.sessions)
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.Close()
	r.changed(n)
	r.logger.Info("viewer left", "viewer_id", viewerID, "sessions", n)
}

// evictFailed runs on a failed session's goroutine after teardown. A
// replacement registered under the same id is left alone.
func (r *Registry) evictFailed(viewerID string, s *Session) {
	r.mu.Lock()
	cur, ok := r.sessions[viewerID]
	if !ok || cur != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, viewerID)
	n := len(r.sessions)
	r.mu.Unlock()

	r.changed(n)
	r.logger.Info("failed session evicted", "viewer_id", viewerID, "sessions", n)
}

// Get returns the session for viewerID, or nil.
func (r *Registry) Get(viewerID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[viewerID]
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionInfo is a point-in-time view of one session.
type SessionInfo struct {
	ViewerID string `json:"viewer_id"`
	State    State  `json:"state"`
}

// List returns registered sessions ordered by viewer id.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, SessionInfo{ViewerID: id, State: s.State()})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ViewerID < out[j].ViewerID })
	return out
}

// CloseAll closes every session and empties the registry. The registry
// accepts no new viewers afterwards.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	if len(all) > 0 {
		r.changed(0)
		r.logger.Info("all sessions closed", "count", len(all))
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) changed(n int) {
	if r.onChange != nil {
		r.onChange(n)
	}
}
