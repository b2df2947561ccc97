package retry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/location"
)

// DefaultDelay spaces successful drains so a backlog does not saturate links.
const DefaultDelay = 500 * time.Millisecond

// DispatchFunc runs one full fan-out round. A non-nil error means the
// round failed as a whole.
type DispatchFunc func(ctx context.Context, s location.Sample) error

// OnlineFunc reports current connectivity.
type OnlineFunc func(ctx context.Context) bool

// DrainerConfig configures a Drainer.
type DrainerConfig struct {
	Queue    *Queue
	Dispatch DispatchFunc
	Online   OnlineFunc
	Delay    time.Duration
	Logger   *slog.Logger

	// OnDrained is called after each successfully re-sent sample.
	OnDrained func(location.Sample)
}

// Drainer re-sends queued samples. At most one drain loop runs at a time.
type Drainer struct {
	cfg    DrainerConfig
	active atomic.Bool
	logger *slog.Logger
}

// NewDrainer creates a drainer. A zero Delay selects DefaultDelay; a
// negative Delay disables the pause.
func NewDrainer(cfg DrainerConfig) *Drainer {
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	return &Drainer{
		cfg:    cfg,
		logger: log.Or(cfg.Logger, "retry"),
	}
}

// Active reports whether a drain loop is running.
func (d *Drainer) Active() bool {
	return d.active.Load()
}

// Trigger starts a background drain unless one is already running or the
// queue is empty. Concurrent triggers are no-ops.
func (d *Drainer) Trigger(ctx context.Context) {
	if d.cfg.Queue.Len() == 0 {
		return
	}
	if !d.active.CompareAndSwap(false, true) {
		return
	}
	go d.run(ctx)
}

// Drain runs the drain loop on the calling goroutine. It returns false
// without doing anything if another drain is active.
func (d *Drainer) Drain(ctx context.Context) bool {
	if !d.active.CompareAndSwap(false, true) {
		return false
	}
	d.run(ctx)
	return true
}

func (d *Drainer) run(ctx context.Context) {
	emptied := d.loop(ctx)
	d.active.Store(false)

	// An enqueue may have raced the final emptiness check; its trigger saw
	// the loop as active and backed off.
	if emptied && d.cfg.Queue.Len() > 0 && ctx.Err() == nil {
		d.Trigger(ctx)
	}
}

// loop returns true when it stopped because the queue was empty.
func (d *Drainer) loop(ctx context.Context) bool {
	drained := 0
	defer func() {
		if drained > 0 {
			d.logger.Info("drained queued samples", "count", drained, "remaining", d.cfg.Queue.Len())
		}
	}()

	for {
		if ctx.Err() != nil {
			return false
		}
		if d.cfg.Online != nil && !d.cfg.Online(ctx) {
			d.logger.Debug("drain paused, offline", "queued", d.cfg.Queue.Len())
			return false
		}

		s, ok := d.cfg.Queue.PopFront()
		if !ok {
			return true
		}

		if err := d.cfg.Dispatch(ctx, s); err != nil {
			d.cfg.Queue.PushFront(s)
			d.logger.Debug("drain stopped, round failed", "error", err, "queued", d.cfg.Queue.Len())
			return false
		}

		drained++
		if d.cfg.OnDrained != nil {
			d.cfg.OnDrained(s)
		}

		if d.cfg.Delay > 0 && d.cfg.Queue.Len() > 0 {
			select {
			case <-time.After(d.cfg.Delay):
			case <-ctx.Done():
				return false
			}
		}
	}
}
