// Package app wires the tracking client together: fan-out delivery, the
// retry queue, connectivity watching, the video broadcaster and the
// dashboard.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/teslashibe/go-pantera/internal/config"
	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/broadcast"
	"github.com/teslashibe/go-pantera/pkg/capture"
	"github.com/teslashibe/go-pantera/pkg/delivery"
	"github.com/teslashibe/go-pantera/pkg/detection"
	"github.com/teslashibe/go-pantera/pkg/location"
	"github.com/teslashibe/go-pantera/pkg/metrics"
	"github.com/teslashibe/go-pantera/pkg/netcheck"
	"github.com/teslashibe/go-pantera/pkg/retry"
	"github.com/teslashibe/go-pantera/pkg/tracking"
	"github.com/teslashibe/go-pantera/pkg/web"
)

const shutdownTimeout = 5 * time.Second

// App is the tracking client orchestrator.
// It owns every component and their lifecycle.
type App struct {
	config config.Config
	logger *slog.Logger

	metrics     *metrics.Metrics
	probe       netcheck.Checker
	dispatcher  *delivery.Dispatcher
	queue       *retry.Queue
	monitor     *detection.Monitor
	ingest      *capture.RTPIngest
	broadcaster *broadcast.Broadcaster
	coordinator *tracking.Coordinator
	webServer   *web.Server

	source io.ReadCloser
}

// New validates cfg and creates an application. Call Init before Run.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Init(cfg.LogLevel, cfg.LogFormat)
	return &App{
		config: cfg,
		logger: log.Component("app"),
	}, nil
}

// Init builds all components. Nothing touches the network yet.
func (a *App) Init() error {
	cfg := a.config

	src, err := openSource(cfg.LocationSource)
	if err != nil {
		return fmt.Errorf("location source: %w", err)
	}
	a.source = src

	a.metrics = metrics.New()
	a.probe = netcheck.NewHTTPProbe(cfg.ProbeURL)

	a.dispatcher = delivery.NewDispatcher(delivery.Config{
		Targets:      cfg.Targets(),
		Timeout:      cfg.NetworkTimeout,
		Connectivity: a.probe,
		Observer:     a.metrics,
	})

	a.queue = retry.NewQueue(cfg.QueueCapacity)
	a.queue.OnEvict = func(location.Sample) { a.metrics.IncEvictions() }

	a.monitor = detection.NewMonitor(cfg.DeviceID, nil)
	a.ingest = capture.NewRTPIngest(cfg.RTPIngestAddr, nil)

	a.broadcaster = broadcast.New(broadcast.Config{
		DeviceID:     cfg.DeviceID,
		SignalingURL: cfg.SignalingURL,
		NewPeer:      broadcast.PionFactory(cfg.STUNURLs),
		Codec:        cfg.VideoCodec,
		Pipeline:     a.ingest,
		Detection:    a.monitor,
		OnSessions:   a.metrics.SetSessions,
		OnSignal:     a.metrics.IncSignaling,
	})

	a.coordinator = tracking.New(tracking.Config{
		DeviceID: cfg.DeviceID,
		Provider: location.NewLineProvider(src, cfg.ReplayInterval, nil),
		Permissions: tracking.StaticPermissions{
			Location:   cfg.LocationPermission,
			Background: cfg.BackgroundPermission,
		},
		Network:    a.probe,
		Dispatcher: a.dispatcher,
		Queue:      a.queue,
		DrainDelay: cfg.DrainDelay,
		Validator:  location.Validator{MaxAge: cfg.MaxFixAge, MaxSkew: cfg.MaxClockSkew},
		Video:      a.broadcaster,
		Detection:  a.monitor,
		OnDrained:  func(location.Sample) { a.metrics.IncDrained() },
	})

	a.webServer = web.NewServer(web.Config{
		Port:         cfg.WebPort,
		Tracker:      a.coordinator,
		Queue:        a.queue,
		Sessions:     a.broadcaster,
		Detection:    a.monitor,
		Metrics:      a.metrics,
		UpdateGauges: func() { a.metrics.SetQueueDepth(a.queue.Len()) },
	})

	a.logger.Info("initialized",
		"device_id", cfg.DeviceID,
		"targets", len(cfg.Targets()),
		"signaling", cfg.SignalingURL,
		"queue_capacity", cfg.QueueCapacity,
	)
	return nil
}

// Run starts background work and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.webServer.StartAsync()
	go netcheck.Watch(ctx, a.probe, a.config.ProbeInterval, a.coordinator.ConnectivityRestored)

	if a.config.AutoStart {
		if err := a.coordinator.Start(ctx); err != nil {
			// The dashboard can retry via POST /api/tracking/start.
			a.logger.Error("tracking did not start", "error", err)
		}
	}

	<-ctx.Done()
	return nil
}

// Shutdown stops tracking and the dashboard. Queued samples are dropped
// with the process.
func (a *App) Shutdown() {
	if a.coordinator != nil {
		a.coordinator.Close()
		if n := a.queue.Len(); n > 0 {
			a.logger.Warn("exiting with undelivered samples", "queued", n)
		}
	}
	if a.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.webServer.Shutdown(ctx); err != nil {
			a.logger.Warn("dashboard shutdown failed", "error", err)
		}
	}
	if a.source != nil {
		a.source.Close()
	}
	a.logger.Info("goodbye")
}

// Coordinator returns the tracking coordinator.
func (a *App) Coordinator() *tracking.Coordinator { return a.coordinator }

// Broadcaster returns the video broadcaster.
func (a *App) Broadcaster() *broadcast.Broadcaster { return a.broadcaster }

// Dispatcher returns the fan-out dispatcher.
func (a *App) Dispatcher() *delivery.Dispatcher { return a.dispatcher }

// Web returns the dashboard server.
func (a *App) Web() *web.Server { return a.webServer }

func openSource(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
