// Package detection tracks the person-detection status reported for this
// device over the signaling channel.
package detection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-pantera/internal/log"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

// Status texts
const (
	StatusConnecting   = "connecting"
	StatusWaiting      = "connected - waiting for detections"
	StatusReconnected  = "reconnected - waiting for detections"
	StatusDisconnected = "disconnected"
	StatusNoPeople     = "no people detected"
)

// State is the latest detection result.
type State struct {
	PersonCount int       `json:"person_count"`
	Status      string    `json:"status"`
	Timestamp   string    `json:"timestamp,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Monitor holds the detection state for one device.
type Monitor struct {
	deviceID string
	logger   *slog.Logger

	mu        sync.RWMutex
	state     State
	connected bool
	subs      map[int]func(State)
	nextSub   int
}

// NewMonitor creates a monitor for deviceID.
func NewMonitor(deviceID string, logger *slog.Logger) *Monitor {
	return &Monitor{
		deviceID: deviceID,
		logger:   log.Or(logger, "detection"),
		state:    State{Status: StatusConnecting, UpdatedAt: time.Now()},
		subs:     make(map[int]func(State)),
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers fn for state changes. The returned func unsubscribes.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Connected records a (re)connection of the signaling channel.
func (m *Monitor) Connected() {
	m.mu.RLock()
	again := m.connected
	m.mu.RUnlock()

	status := StatusWaiting
	if again {
		status = StatusReconnected
	}
	m.set(State{Status: status}, true)
}

// Disconnected records loss of the signaling channel.
func (m *Monitor) Disconnected() {
	m.set(State{Status: StatusDisconnected}, false)
}

// Handle applies a detection-update message. Updates for other devices
// are ignored; it reports whether the state changed.
func (m *Monitor) Handle(msg *protocol.Message) (bool, error) {
	d, err := msg.GetDetectionUpdate()
	if err != nil {
		return false, err
	}
	if d.DeviceID != m.deviceID {
		m.logger.Debug("detection for other device ignored", "device_id", d.DeviceID)
		return false, nil
	}

	count := d.PersonCount
	if count < 0 {
		count = 0
	}
	m.set(State{PersonCount: count, Status: StatusText(count), Timestamp: d.Timestamp}, true)
	return true, nil
}

func (m *Monitor) set(s State, connected bool) {
	s.UpdatedAt = time.Now()

	m.mu.Lock()
	m.state = s
	m.connected = m.connected || connected
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// StatusText renders a person count for display.
func StatusText(count int) string {
	switch {
	case count <= 0:
		return StatusNoPeople
	case count == 1:
		return "detected: 1 person"
	default:
		return fmt.Sprintf("detected: %d people", count)
	}
}
