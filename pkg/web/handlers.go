package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pantera/pkg/broadcast"
	"github.com/teslashibe/go-pantera/pkg/tracking"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{"status": "ok"}
	if s.cfg.Tracker != nil {
		st := s.cfg.Tracker.State()
		resp["tracking"] = st.Tracking
		resp["sessions"] = st.Sessions
	}
	return c.JSON(resp)
}

// handleStatus returns the full AppState
func (s *Server) handleStatus(c *fiber.Ctx) error {
	if s.cfg.Tracker == nil {
		return fiber.ErrServiceUnavailable
	}
	return c.JSON(s.cfg.Tracker.Refresh())
}

func (s *Server) handleDelivery(c *fiber.Ctx) error {
	if s.cfg.Tracker == nil {
		return fiber.ErrServiceUnavailable
	}
	snap := s.cfg.Tracker.Refresh().Delivery
	return c.JSON(fiber.Map{
		"summary":      snap.Summary(),
		"active":       snap.ActiveCount(),
		"entries":      snap.Entries,
		"last_update":  snap.LastUpdate,
		"last_success": snap.LastSuccess,
		"total_sent":   snap.TotalSent,
		"total_failed": snap.TotalFailed,
	})
}

func (s *Server) handleQueue(c *fiber.Ctx) error {
	q := s.cfg.Queue
	if q == nil {
		return fiber.ErrServiceUnavailable
	}
	resp := fiber.Map{
		"depth":    q.Len(),
		"capacity": q.Capacity(),
		"evicted":  q.Evicted(),
	}
	if c.QueryBool("items") {
		resp["items"] = q.Items()
	}
	return c.JSON(resp)
}

func (s *Server) handleSessions(c *fiber.Ctx) error {
	sessions := []broadcast.SessionInfo{}
	if s.cfg.Sessions != nil {
		sessions = s.cfg.Sessions.Sessions()
	}
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleDetection(c *fiber.Ctx) error {
	if s.cfg.Detection == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(s.cfg.Detection.State())
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if s.cfg.Tracker == nil {
		return fiber.ErrServiceUnavailable
	}
	if err := s.cfg.Tracker.Start(c.UserContext()); err != nil {
		status, code := startFailure(err)
		st := s.cfg.Tracker.State()
		msg := st.ErrorMessage
		if msg == "" {
			msg = fallbackMessages[code]
		}
		s.logger.Warn("tracking start refused", "code", code, "error", err)
		return c.Status(status).JSON(fiber.Map{
			"message": msg,
			"code":    code,
			"state":   st,
		})
	}
	return c.JSON(s.cfg.Tracker.State())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if s.cfg.Tracker == nil {
		return fiber.ErrServiceUnavailable
	}
	if err := s.cfg.Tracker.Stop(); err != nil {
		status, code := fiber.StatusInternalServerError, "internal"
		if errors.Is(err, tracking.ErrNotTracking) {
			status, code = fiber.StatusConflict, "not_tracking"
		}
		s.logger.Warn("tracking stop refused", "code", code, "error", err)
		return c.Status(status).JSON(fiber.Map{
			"message": fallbackMessages[code],
			"code":    code,
		})
	}
	return c.JSON(s.cfg.Tracker.State())
}

func (s *Server) handleDismiss(c *fiber.Ctx) error {
	if s.cfg.Tracker == nil {
		return fiber.ErrServiceUnavailable
	}
	s.cfg.Tracker.DismissError()
	return c.JSON(s.cfg.Tracker.State())
}

// handleStatusWS sends the current state, then every change
func (s *Server) handleStatusWS(c *websocket.Conn) {
	initial, err := s.currentState()
	if err != nil {
		s.logger.Warn("encode status failed", "error", err)
	}
	s.statusHub.Serve(c, initial)
}

// fallbackMessages are shown when the tracker left no error message.
var fallbackMessages = map[string]string{
	"already_tracking":      "tracking is already running",
	"not_tracking":          "tracking is not running",
	"location_permission":   "location permission required",
	"background_permission": "background location permission required",
	"no_network":            "no network connection",
	"provider_start":        "location source unavailable",
	"internal":              "tracking could not be changed",
}

// startFailure maps a Start error to an HTTP status and a stable code.
func startFailure(err error) (int, string) {
	switch {
	case errors.Is(err, tracking.ErrAlreadyTracking):
		return fiber.StatusConflict, "already_tracking"
	case errors.Is(err, tracking.ErrLocationPermission):
		return fiber.StatusForbidden, "location_permission"
	case errors.Is(err, tracking.ErrBackgroundPermission):
		return fiber.StatusForbidden, "background_permission"
	case errors.Is(err, tracking.ErrNoNetwork):
		return fiber.StatusServiceUnavailable, "no_network"
	case errors.Is(err, tracking.ErrProviderStart):
		return fiber.StatusInternalServerError, "provider_start"
	default:
		return fiber.StatusInternalServerError, "internal"
	}
}
