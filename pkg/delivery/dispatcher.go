package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/location"
)

// Connectivity reports whether the device currently has a usable network.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Observer receives per-send and per-round measurements.
type Observer interface {
	ObserveSend(target Target, state State, elapsed time.Duration)
	ObserveRound(success, skipped bool)
}

// Outcome is the result of one send within a round.
type Outcome struct {
	Target  Target        `json:"target"`
	State   State         `json:"state"`
	Elapsed time.Duration `json:"elapsed"`
}

// Round is the result of one fan-out round.
type Round struct {
	Outcomes []Outcome
	Success  bool
	Skipped  bool // no connectivity, no sockets were opened
	Snapshot Snapshot
}

// Config configures a Dispatcher.
type Config struct {
	Targets      []Target
	Timeout      time.Duration
	Connectivity Connectivity
	Observer     Observer
	Logger       *slog.Logger

	// Senders overrides the per-transport senders (tests inject fakes).
	Senders map[Transport]Sender
}

// Dispatcher sends one encoded sample to every target concurrently and
// commits the results to its StatusTable.
type Dispatcher struct {
	targets  []Target
	senders  map[Transport]Sender
	net      Connectivity
	observer Observer
	status   *StatusTable
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher with TCP and UDP senders using cfg.Timeout.
func NewDispatcher(cfg Config) *Dispatcher {
	logger := log.Or(cfg.Logger, "delivery")

	senders := cfg.Senders
	if senders == nil {
		onError := func(e *SendError) {
			logger.Debug("send failed", "target", e.Target.String(), "state", e.State.String(), "error", e.Err)
		}
		senders = map[Transport]Sender{
			TCP: &TCPSender{Timeout: cfg.Timeout, OnError: onError},
			UDP: &UDPSender{Timeout: cfg.Timeout, OnError: onError},
		}
	}

	return &Dispatcher{
		targets:  append([]Target(nil), cfg.Targets...),
		senders:  senders,
		net:      cfg.Connectivity,
		observer: cfg.Observer,
		status:   NewStatusTable(cfg.Targets),
		logger:   logger,
	}
}

// Targets returns the configured destinations.
func (d *Dispatcher) Targets() []Target {
	return append([]Target(nil), d.targets...)
}

// Status returns the current status table snapshot.
func (d *Dispatcher) Status() Snapshot {
	return d.status.Snapshot()
}

// Dispatch runs one fan-out round for sample. Every send is started before
// any result is awaited and the round completes only when all have
// reported. It returns ErrNoConnectivity when the round was skipped and
// ErrRoundFailed when no destination accepted the payload.
func (d *Dispatcher) Dispatch(ctx context.Context, sample location.Sample) (Round, error) {
	if len(d.targets) == 0 {
		return Round{}, ErrNoTargets
	}

	if d.net != nil && !d.net.Online(ctx) {
		snap := d.status.Commit(nil, false, time.Now())
		d.observeRound(false, true)
		d.logger.Warn("no network connectivity, skipping round")
		return Round{Skipped: true, Snapshot: snap}, ErrNoConnectivity
	}

	payload, err := sample.Encode()
	if err != nil {
		return Round{}, err
	}

	d.status.MarkConnecting(d.targets)

	outcomes := make([]Outcome, len(d.targets))
	var wg sync.WaitGroup
	for i, target := range d.targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			outcomes[i] = d.sendOne(ctx, target, payload)
		}(i, target)
	}
	wg.Wait()

	connected := 0
	for _, o := range outcomes {
		if o.State == Connected {
			connected++
		}
	}
	success := connected > 0

	snap := d.status.Commit(outcomes, success, time.Now())
	d.observeRound(success, false)

	round := Round{Outcomes: outcomes, Success: success, Snapshot: snap}
	d.logger.Debug("round finished",
		"connected", connected,
		"targets", len(d.targets),
		"coordinates", sample.FormatCoordinates(),
	)

	if !success {
		return round, fmt.Errorf("%w (%d targets)", ErrRoundFailed, len(d.targets))
	}
	return round, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, target Target, payload []byte) Outcome {
	start := time.Now()
	state := Error

	if s, ok := d.senders[target.Transport]; ok {
		state = s.Send(ctx, target, payload)
	} else {
		d.logger.Error("no sender for transport", "target", target.String())
	}

	elapsed := time.Since(start)
	if d.observer != nil {
		d.observer.ObserveSend(target, state, elapsed)
	}
	return Outcome{Target: target, State: state, Elapsed: elapsed}
}

func (d *Dispatcher) observeRound(success, skipped bool) {
	if d.observer != nil {
		d.observer.ObserveRound(success, skipped)
	}
}
