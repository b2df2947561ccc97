// Package tracking owns the tracking lifecycle: it turns location fixes
// into fan-out rounds, queues failed samples for retry and keeps the
// aggregate AppState that display layers read.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/delivery"
	"github.com/teslashibe/go-pantera/pkg/detection"
	"github.com/teslashibe/go-pantera/pkg/location"
	"github.com/teslashibe/go-pantera/pkg/netcheck"
	"github.com/teslashibe/go-pantera/pkg/retry"
)

// User-visible status texts.
const (
	msgIdle           = "tracking stopped"
	msgTracking       = "tracking active"
	msgQueuedOffline  = "no network, location queued"
	msgQueuedFailed   = "all servers unreachable, location queued"
	msgVideoFailed    = "video failed, GPS tracking continues"
	msgNoLocationPerm = "location permission required"
	msgNoBackground   = "background location permission required"
	msgNoNetwork      = "no network connection"
	msgProviderFailed = "location source unavailable"
)

// Config wires a Coordinator.
type Config struct {
	DeviceID    string
	Provider    location.Provider
	Permissions Permissions
	Network     netcheck.Checker
	Dispatcher  Dispatcher
	Queue       *retry.Queue
	DrainDelay  time.Duration
	Validator   location.Validator

	// Optional
	Video     Video
	Detection *detection.Monitor
	Logger    *slog.Logger
	Now       func() time.Time

	// OnDrained is forwarded to the drainer (metrics hook).
	OnDrained func(location.Sample)
}

// Coordinator moves between Idle and Tracking and runs the fix pipeline.
type Coordinator struct {
	cfg     Config
	queue   *retry.Queue
	drainer *retry.Drainer
	logger  *slog.Logger
	now     func() time.Time

	// life bounds background work (drains) that outlives a tracking run.
	life     context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	tracking bool
	cancel   context.CancelFunc

	stateMu sync.RWMutex
	state   AppState
	subs    map[int]func(AppState)
	nextSub int

	unsubDetection func()
}

// New creates a coordinator in the Idle state.
func New(cfg Config) *Coordinator {
	if cfg.Queue == nil {
		cfg.Queue = retry.NewQueue(retry.DefaultCapacity)
	}
	if cfg.Validator == (location.Validator{}) {
		cfg.Validator = location.DefaultValidator()
	}
	if cfg.Permissions == nil {
		cfg.Permissions = StaticPermissions{Location: true, Background: true}
	}
	if cfg.Network == nil {
		cfg.Network = netcheck.NewStatic(true)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	life, shutdown := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		queue:    cfg.Queue,
		logger:   log.Or(cfg.Logger, "tracking"),
		now:      cfg.Now,
		life:     life,
		shutdown: shutdown,
		subs:     make(map[int]func(AppState)),
	}

	c.drainer = retry.NewDrainer(retry.DrainerConfig{
		Queue:     c.queue,
		Dispatch:  c.redispatch,
		Online:    cfg.Network.Online,
		Delay:     cfg.DrainDelay,
		Logger:    c.logger,
		OnDrained: c.drained,
	})

	c.state = AppState{
		LocationPermission:   cfg.Permissions.LocationGranted(),
		BackgroundPermission: cfg.Permissions.BackgroundGranted(),
		Delivery:             cfg.Dispatcher.Status(),
		StatusMessage:        msgIdle,
		UpdatedAt:            c.now(),
	}

	if cfg.Detection != nil {
		c.state.Detection = cfg.Detection.State()
		c.unsubDetection = cfg.Detection.Subscribe(func(d detection.State) {
			c.update(func(s *AppState) { s.Detection = d })
		})
	}
	return c
}

// Queue returns the retry queue.
func (c *Coordinator) Queue() *retry.Queue { return c.queue }

// Drainer returns the retry drainer.
func (c *Coordinator) Drainer() *retry.Drainer { return c.drainer }

// Tracking reports whether the coordinator is in the Tracking state.
func (c *Coordinator) Tracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracking
}

// Start moves Idle to Tracking. The provider and pipeline outlive ctx;
// they run until Stop. Video is started best-effort: its failure is
// reported in AppState but does not fail Start.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tracking {
		return ErrAlreadyTracking
	}

	locOK := c.cfg.Permissions.LocationGranted()
	bgOK := c.cfg.Permissions.BackgroundGranted()
	c.update(func(s *AppState) {
		s.LocationPermission = locOK
		s.BackgroundPermission = bgOK
	})
	if !locOK {
		c.showError(msgNoLocationPerm)
		return ErrLocationPermission
	}
	if !bgOK {
		c.showError(msgNoBackground)
		return ErrBackgroundPermission
	}
	if !c.cfg.Network.Online(ctx) {
		c.showError(msgNoNetwork)
		return ErrNoNetwork
	}

	runCtx, cancel := context.WithCancel(c.life)
	fixes, err := c.cfg.Provider.Start(runCtx)
	if err != nil {
		cancel()
		c.showError(msgProviderFailed)
		return fmt.Errorf("%w: %v", ErrProviderStart, err)
	}

	c.tracking = true
	c.cancel = cancel
	go c.pipeline(runCtx, fixes)

	c.update(func(s *AppState) {
		s.Tracking = true
		s.StatusMessage = msgTracking
		s.ErrorMessage = ""
		s.ShowingError = false
	})
	c.logger.Info("tracking started", "device_id", c.cfg.DeviceID)

	if c.cfg.Video != nil {
		if err := c.cfg.Video.Start(runCtx); err != nil {
			c.logger.Error("video broadcast failed to start", "error", err)
			c.showError(msgVideoFailed)
		} else {
			c.update(func(s *AppState) { s.VideoActive = true })
		}
	}
	return nil
}

// Stop moves Tracking to Idle. In-flight rounds are not awaited and the
// retry queue is left as is.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tracking {
		return ErrNotTracking
	}
	c.tracking = false
	c.cancel()
	c.cancel = nil

	if c.cfg.Video != nil {
		if err := c.cfg.Video.Stop(); err != nil {
			c.logger.Warn("video broadcast stop failed", "error", err)
		}
	}

	c.update(func(s *AppState) {
		s.Tracking = false
		s.VideoActive = false
		s.CurrentSample = nil
		s.StatusMessage = msgIdle
		s.QueueDepth = c.queue.Len()
	})
	c.logger.Info("tracking stopped", "queued", c.queue.Len())
	return nil
}

// Close stops tracking if needed and cancels background drains.
func (c *Coordinator) Close() {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotTracking) {
		c.logger.Warn("stop on close failed", "error", err)
	}
	c.shutdown()
	if c.unsubDetection != nil {
		c.unsubDetection()
	}
}

func (c *Coordinator) pipeline(ctx context.Context, fixes <-chan location.Fix) {
	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-fixes:
			if !ok {
				c.logger.Warn("location provider closed")
				return
			}
			// Rounds are bounded by send timeouts; a stop does not cut them short.
			_ = c.HandleFix(context.WithoutCancel(ctx), fix)
		}
	}
}

// HandleFix validates one fix and runs it through a fan-out round. An
// invalid fix is dropped and its validation error returned. A failed round
// queues the sample and triggers a drain.
func (c *Coordinator) HandleFix(ctx context.Context, fix location.Fix) error {
	now := c.now()
	sample := location.FromFix(fix, c.cfg.DeviceID, now)
	if err := c.cfg.Validator.Validate(sample, now); err != nil {
		c.logger.Debug("fix rejected", "error", err, "coordinates", sample.FormatCoordinates())
		return err
	}

	c.update(func(s *AppState) {
		s.CurrentSample = &sample
		s.LastKnownSample = &sample
	})

	round, err := c.cfg.Dispatcher.Dispatch(ctx, sample)
	switch {
	case err == nil:
		c.update(func(s *AppState) {
			s.Delivery = c.cfg.Dispatcher.Status()
			s.QueueDepth = c.queue.Len()
			s.StatusMessage = fmt.Sprintf("location sent, %s", round.Snapshot.Summary())
		})
		// The network works; flush any backlog.
		c.drainer.Trigger(c.life)
		return nil

	case errors.Is(err, delivery.ErrNoConnectivity), errors.Is(err, delivery.ErrRoundFailed):
		if c.queue.Enqueue(sample) {
			c.logger.Warn("retry queue full, oldest sample dropped", "capacity", c.queue.Capacity())
		}
		msg := msgQueuedFailed
		if round.Skipped {
			msg = msgQueuedOffline
		}
		c.update(func(s *AppState) {
			s.Delivery = c.cfg.Dispatcher.Status()
			s.QueueDepth = c.queue.Len()
			s.StatusMessage = msg
		})
		c.logger.Info("sample queued for retry", "reason", err, "queued", c.queue.Len())
		c.drainer.Trigger(c.life)
		return err

	default:
		c.logger.Error("dispatch failed", "error", err)
		return err
	}
}

// ConnectivityRestored triggers a drain of the retry queue. Draining does
// not depend on the tracking state.
func (c *Coordinator) ConnectivityRestored(context.Context) {
	c.drainer.Trigger(c.life)
}

func (c *Coordinator) redispatch(ctx context.Context, sample location.Sample) error {
	round, err := c.cfg.Dispatcher.Dispatch(ctx, sample)
	if len(round.Snapshot.Entries) > 0 {
		// Rounds from the live pipeline and the drain commit concurrently;
		// the table holds the newest, the round copy may be stale.
		c.update(func(s *AppState) { s.Delivery = c.cfg.Dispatcher.Status() })
	}
	return err
}

func (c *Coordinator) drained(sample location.Sample) {
	c.update(func(s *AppState) { s.QueueDepth = c.queue.Len() })
	if c.cfg.OnDrained != nil {
		c.cfg.OnDrained(sample)
	}
}

// State returns a copy of the current AppState.
func (c *Coordinator) State() AppState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Refresh recomputes the values owned by other components (queue depth,
// drain activity, session count, delivery status) and notifies subscribers.
func (c *Coordinator) Refresh() AppState {
	sessions := 0
	if c.cfg.Video != nil {
		sessions = c.cfg.Video.SessionCount()
	}
	return c.update(func(s *AppState) {
		s.QueueDepth = c.queue.Len()
		s.Draining = c.drainer.Active()
		s.Sessions = sessions
		s.Delivery = c.cfg.Dispatcher.Status()
	})
}

// Subscribe registers fn to receive every new AppState. The returned func
// unsubscribes.
func (c *Coordinator) Subscribe(fn func(AppState)) func() {
	c.stateMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.stateMu.Unlock()

	return func() {
		c.stateMu.Lock()
		delete(c.subs, id)
		c.stateMu.Unlock()
	}
}

// DismissError clears the displayed error.
func (c *Coordinator) DismissError() {
	c.update(func(s *AppState) {
		s.ErrorMessage = ""
		s.ShowingError = false
	})
}

func (c *Coordinator) showError(msg string) {
	c.update(func(s *AppState) {
		s.ErrorMessage = msg
		s.ShowingError = true
	})
}

// update applies fn to the state and notifies subscribers outside the lock.
func (c *Coordinator) update(fn func(*AppState)) AppState {
	c.stateMu.Lock()
	fn(&c.state)
	c.state.UpdatedAt = c.now()
	next := c.state
	subs := make([]func(AppState), 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.stateMu.Unlock()

	for _, s := range subs {
		s(next)
	}
	return next
}
