// Package web serves the tracking dashboard API: status snapshots over
// REST, live AppState over a websocket, and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/broadcast"
	"github.com/teslashibe/go-pantera/pkg/detection"
	"github.com/teslashibe/go-pantera/pkg/hub"
	"github.com/teslashibe/go-pantera/pkg/location"
	"github.com/teslashibe/go-pantera/pkg/metrics"
	"github.com/teslashibe/go-pantera/pkg/tracking"
)

// Tracker is the coordinator surface the dashboard drives.
type Tracker interface {
	State() tracking.AppState
	Refresh() tracking.AppState
	Start(ctx context.Context) error
	Stop() error
	DismissError()
	Subscribe(fn func(tracking.AppState)) func()
}

// QueueView exposes the retry queue read-only.
type QueueView interface {
	Len() int
	Capacity() int
	Evicted() uint64
	Items() []location.Sample
}

// SessionLister lists live viewer sessions.
type SessionLister interface {
	Sessions() []broadcast.SessionInfo
}

// Config configures a Server.
type Config struct {
	Port      int
	Tracker   Tracker
	Queue     QueueView
	Sessions  SessionLister
	Detection *detection.Monitor
	Metrics   *metrics.Metrics
	// UpdateGauges runs before each metrics scrape.
	UpdateGauges func()
	Logger       *slog.Logger
}

// Server is the dashboard HTTP server
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	statusHub *hub.Hub

	mu     sync.Mutex
	unsub  func()
	cancel context.CancelFunc
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config) *Server {
	logger := log.Or(cfg.Logger, "web")
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		statusHub: hub.New("status", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "pantera",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.Metrics != nil {
		app.Use(cfg.Metrics.Middleware())
	}

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/delivery", s.handleDelivery)
	api.Get("/queue", s.handleQueue)
	api.Get("/sessions", s.handleSessions)
	api.Get("/detection", s.handleDetection)
	api.Post("/tracking/start", s.handleStart)
	api.Post("/tracking/stop", s.handleStop)
	api.Post("/error/dismiss", s.handleDismiss)

	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler(cfg.UpdateGauges)))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// run starts the status hub and forwards AppState changes to websocket
// clients until Shutdown.
func (s *Server) run() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
	go s.statusHub.Run(ctx)
	if s.cfg.Tracker != nil {
		s.unsub = s.cfg.Tracker.Subscribe(func(st tracking.AppState) {
			if err := s.statusHub.BroadcastJSON(st); err != nil {
				s.logger.Warn("encode status failed", "error", err)
			}
		})
	}
}

// Start listens on the configured port. It blocks until Shutdown.
func (s *Server) Start() error {
	s.run()
	s.logger.Info("dashboard listening", "url", fmt.Sprintf("http://localhost:%d", s.cfg.Port))
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// Serve runs on an existing listener. It blocks until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.run()
	return s.app.Listener(ln)
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown stops the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	unsub, cancel := s.unsub, s.cancel
	s.unsub, s.cancel = nil, nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	return s.app.ShutdownWithContext(ctx)
}

// StatusClients returns the number of live status websocket clients.
func (s *Server) StatusClients() int {
	return s.statusHub.ClientCount()
}

func (s *Server) currentState() ([]byte, error) {
	if s.cfg.Tracker == nil {
		return nil, nil
	}
	return json.Marshal(s.cfg.Tracker.Refresh())
}
