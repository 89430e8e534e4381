// Package status provides the thread-safe watering status tracker shared by
// the poll loop (single writer) and the HTTP handlers (many readers).
package status

import (
	"sync"
	"time"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Timezone     string
	PollSchedule string
	HeartbeatMs  int64
	Broker       string
	Listen       string
	StoreDriver  string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and stays valid after the lock is released.
type Snapshot struct {
	Session       logic.Session
	Counts        logic.Counts
	LastTick      time.Time
	StoreHealthy  bool
	LastError     string
	ValveOpen     bool
	MQTTConnected bool
	StartTime     time.Time
	Now           time.Time
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Watering reports whether a session covers Now. A session whose deadline
// has passed reads as idle even before the poll loop records completion.
func (s Snapshot) Watering() bool {
	return s.Session.Active && s.Now.Before(s.Session.EndsAt)
}

// Remaining returns the time left in the session at Now.
func (s Snapshot) Remaining() time.Duration {
	return s.Session.Remaining(s.Now)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu    sync.RWMutex
	snap  Snapshot
	clock logic.Clock
}

// NewTracker creates a Tracker. Snapshots are stamped with clock; a nil clock
// means time.Now.
func NewTracker(startTime time.Time, cfg Config, clock logic.Clock) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		snap: Snapshot{
			StartTime:    startTime,
			Config:       cfg,
			StoreHealthy: true,
		},
		clock: clock,
	}
}

// Update records the controller state after a poll cycle at tick.
func (t *Tracker) Update(session logic.Session, counts logic.Counts, tick time.Time) {
	t.mu.Lock()
	t.snap.Session = session
	t.snap.Counts = counts
	t.snap.LastTick = tick
	t.mu.Unlock()
}

// SetStoreHealth records the outcome of the last store read.
func (t *Tracker) SetStoreHealth(err error) {
	t.mu.Lock()
	t.snap.StoreHealthy = err == nil
	if err != nil {
		t.snap.LastError = err.Error()
	} else {
		t.snap.LastError = ""
	}
	t.mu.Unlock()
}

// SetValveOpen records the last commanded valve position.
func (t *Tracker) SetValveOpen(open bool) {
	t.mu.Lock()
	t.snap.ValveOpen = open
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state with Now set
// from the tracker clock.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.clock()
	return s
}
