package logic

import "time"

// Controller is the watering session state machine.
//
// It is not safe for concurrent use: a single driver goroutine owns it and
// copies its state into a status tracker for readers.
type Controller struct {
	session       Session
	counts        Counts
	startTime     time.Time
	lastHeartbeat time.Time

	// minute of the last start; at most one session starts per minute, so
	// coinciding entries never run back to back after a short session
	triggered  bool
	lastMinute time.Time
}

// Status is the public read view of the controller.
type Status struct {
	Active     bool
	Duration   time.Duration
	SourceTime string
	Timestamp  time.Time
}

// NewController creates an idle controller. The startTime is used for
// calculating uptime in heartbeat events.
func NewController(startTime time.Time) *Controller {
	return &Controller{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Advance completes the active session once now reaches its deadline.
// It returns the stop event, if any.
func (c *Controller) Advance(now time.Time) []Event {
	if !c.session.Active || now.Before(c.session.EndsAt) {
		return nil
	}

	ev := Event{
		Timestamp: now,
		Type:      EventWateringStop,
		EntryID:   c.session.EntryID,
		EntryTime: c.session.EntryTime,
		Duration:  c.session.Duration,
	}

	c.session.Active = false
	c.session.EntryID = ""
	c.session.CompletedAt = now
	c.session.Completed = true
	c.counts.Completed++

	return []Event{ev}
}

// Trigger reports a matcher hit for e at now. An idle controller starts a
// session; an active one ignores the hit.
func (c *Controller) Trigger(now time.Time, e Entry) []Event {
	if c.session.Active {
		c.counts.Suppressed++
		return nil
	}
	if e.Duration <= 0 {
		return nil
	}

	minute := now.Truncate(time.Minute)
	if c.triggered && minute.Equal(c.lastMinute) {
		c.counts.Suppressed++
		return nil
	}
	c.triggered = true
	c.lastMinute = minute

	c.session = Session{
		Active:    true,
		EntryID:   e.ID,
		EntryTime: e.Time,
		Duration:  e.Duration,
		StartedAt: now,
		EndsAt:    now.Add(e.Duration),
	}
	c.counts.Started++

	return []Event{{
		Timestamp: now,
		Type:      EventWateringStart,
		EntryID:   e.ID,
		EntryTime: e.Time,
		Duration:  e.Duration,
	}}
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	return c.session.Active
}

// State returns IDLE or ACTIVE.
func (c *Controller) State() State {
	if c.session.Active {
		return StateActive
	}
	return StateIdle
}

// Session returns a copy of the current (or last) session.
func (c *Controller) Session() Session {
	return c.session
}

// Deadline returns the end of the active session.
func (c *Controller) Deadline() (time.Time, bool) {
	if !c.session.Active {
		return time.Time{}, false
	}
	return c.session.EndsAt, true
}

// Counts returns a copy of the transition counters.
func (c *Controller) Counts() Counts {
	return c.counts
}

// Status returns the read view at now. A session past its deadline is
// reported inactive even if Advance has not run yet.
func (c *Controller) Status(now time.Time) Status {
	st := Status{Timestamp: now}
	if c.session.Active && now.Before(c.session.EndsAt) {
		st.Active = true
		st.Duration = c.session.Duration
		st.SourceTime = c.session.EntryTime.String()
	}
	return st
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}

	c.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(c.startTime),
		Counts:    c.counts,
		Session:   c.session,
	}
}
