package delivery

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one destination and its latest state.
type Entry struct {
	Target Target `json:"target"`
	State  State  `json:"state"`
}

// Snapshot is an immutable copy of the status table.
type Snapshot struct {
	Entries     []Entry   `json:"entries"`
	LastUpdate  time.Time `json:"last_update"`
	LastSuccess time.Time `json:"last_success"`
	TotalSent   int       `json:"total_sent"`
	TotalFailed int       `json:"total_failed"`
}

// ActiveCount returns how many destinations are CONNECTED.
func (s Snapshot) ActiveCount() int {
	n := 0
	for _, e := range s.Entries {
		if e.State == Connected {
			n++
		}
	}
	return n
}

// HasAnyConnection reports whether at least one destination is CONNECTED.
func (s Snapshot) HasAnyConnection() bool {
	return s.ActiveCount() > 0
}

// StateOf returns the recorded state for t.
func (s Snapshot) StateOf(t Target) (State, bool) {
	for _, e := range s.Entries {
		if e.Target == t {
			return e.State, true
		}
	}
	return Disconnected, false
}

// Summary renders "N of M connected".
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%d of %d connected", s.ActiveCount(), len(s.Entries))
}

// StatusTable is the per-destination connection ledger plus aggregate
// counters. Rounds commit their results here once every send has finished.
type StatusTable struct {
	mu          sync.RWMutex
	order       []Target
	states      map[Target]State
	lastUpdate  time.Time
	lastSuccess time.Time
	totalSent   int
	totalFailed int
}

// NewStatusTable creates a table with every target DISCONNECTED.
func NewStatusTable(targets []Target) *StatusTable {
	t := &StatusTable{
		order:  append([]Target(nil), targets...),
		states: make(map[Target]State, len(targets)),
	}
	for _, tg := range targets {
		t.states[tg] = Disconnected
	}
	return t
}

// MarkConnecting flags the given targets as in flight.
func (t *StatusTable) MarkConnecting(targets []Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tg := range targets {
		t.set(tg, Connecting)
	}
}

// Commit records a finished round. success increments TotalSent, otherwise
// TotalFailed is incremented.
func (t *StatusTable) Commit(outcomes []Outcome, success bool, at time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, o := range outcomes {
		t.set(o.Target, o.State)
	}
	t.lastUpdate = at
	if success {
		t.totalSent++
		t.lastSuccess = at
	} else {
		t.totalFailed++
	}
	return t.snapshotLocked()
}

// Snapshot returns a copy of the current table.
func (t *StatusTable) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *StatusTable) set(tg Target, s State) {
	if _, ok := t.states[tg]; !ok {
		t.order = append(t.order, tg)
	}
	t.states[tg] = s
}

func (t *StatusTable) snapshotLocked() Snapshot {
	entries := make([]Entry, 0, len(t.order))
	for _, tg := range t.order {
		entries = append(entries, Entry{Target: tg, State: t.states[tg]})
	}
	return Snapshot{
		Entries:     entries,
		LastUpdate:  t.lastUpdate,
		LastSuccess: t.lastSuccess,
		TotalSent:   t.totalSent,
		TotalFailed: t.totalFailed,
	}
}
