// Package poller runs one scheduling cycle per tick: expire a finished
// session, and when idle read the schedule and start a matching session.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/gpio"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/metrics"
	"github.com/sweeney/irrigation-scheduler/internal/mqtt"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

// Options wire a Poller. Reader and Tracker are required; the rest may be nil.
type Options struct {
	Reader    store.EntryReader
	Tracker   *status.Tracker
	Publisher mqtt.Publisher
	Valve     gpio.Valve
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Poller owns the session controller. It is driven from a single goroutine.
type Poller struct {
	ctrl    *logic.Controller
	reader  store.EntryReader
	tracker *status.Tracker
	pub     mqtt.Publisher
	valve   gpio.Valve
	m       *metrics.Metrics
	log     *zap.Logger
}

// New creates an idle Poller. start is the daemon start time.
func New(start time.Time, o Options) *Poller {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Valve == nil {
		o.Valve = gpio.NoopValve{}
	}
	return &Poller{
		ctrl:    logic.NewController(start),
		reader:  o.Reader,
		tracker: o.Tracker,
		pub:     o.Publisher,
		valve:   o.Valve,
		m:       o.Metrics,
		log:     o.Logger,
	}
}

// Tick runs one cycle at now and returns the transitions it caused.
func (p *Poller) Tick(ctx context.Context, now time.Time) []logic.Event {
	events := p.ctrl.Advance(now)
	suppressed := p.ctrl.Counts().Suppressed

	if !p.ctrl.Active() {
		entries, err := p.reader.ActiveEntries(ctx)
		p.tracker.SetStoreHealth(err)
		if err != nil {
			// Keep state; the next tick retries.
			p.log.Warn("schedule read failed", zap.Time("tick", now), zap.Error(err))
			if p.m != nil {
				p.m.StoreErrors.Inc()
			}
		} else {
			if p.m != nil {
				p.m.EnabledEntries.Set(float64(len(entries)))
			}
			if e, ok := logic.Match(now, entries); ok {
				events = append(events, p.ctrl.Trigger(now, e)...)
			}
		}
	}

	p.apply(events)

	if p.m != nil {
		p.m.Ticks.Inc()
		p.m.TriggersSuppressed.Add(float64(p.ctrl.Counts().Suppressed - suppressed))
	}
	p.tracker.Update(p.ctrl.Session(), p.ctrl.Counts(), now)
	return events
}

// apply drives the valve and publishes each transition. Failures are logged
// and counted but never undo the transition.
func (p *Poller) apply(events []logic.Event) {
	for _, ev := range events {
		p.log.Info("watering transition",
			zap.String("event", string(ev.Type)),
			zap.String("entry_id", ev.EntryID),
			zap.String("entry_time", ev.EntryTime.String()),
			zap.Duration("duration", ev.Duration),
			zap.Time("at", ev.Timestamp))

		open := ev.Type == logic.EventWateringStart
		if err := p.valve.Set(open); err != nil {
			p.log.Error("valve command failed", zap.Bool("open", open), zap.Error(err))
			if p.m != nil {
				p.m.ValveErrors.Inc()
			}
		} else {
			p.tracker.SetValveOpen(open)
		}

		if p.pub != nil {
			if err := p.pub.Publish(ev); err != nil {
				p.log.Warn("publish failed", zap.String("event", string(ev.Type)), zap.Error(err))
				if p.m != nil {
					p.m.PublishErrors.Inc()
				}
			}
		}
	}
	if p.m != nil {
		p.m.ObserveEvents(events)
	}
}

// Deadline returns the end of the active session, if any.
func (p *Poller) Deadline() (time.Time, bool) {
	return p.ctrl.Deadline()
}

// Heartbeat returns heartbeat data once interval has elapsed since the last one.
func (p *Poller) Heartbeat(now time.Time, interval time.Duration) *logic.HeartbeatData {
	return p.ctrl.CheckHeartbeat(now, interval)
}

// Session returns the current (or last) session.
func (p *Poller) Session() logic.Session {
	return p.ctrl.Session()
}
