// Package device runs on the valve controller. It polls the scheduler's
// /status endpoint and mirrors the answer onto a local valve.
package device

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/gpio"
	"github.com/sweeney/irrigation-scheduler/internal/status"
)

// StatusSource returns the scheduler's device view.
type StatusSource interface {
	Status(ctx context.Context) (status.DeviceStatus, error)
}

// Follower keeps the valve in step with the scheduler. Once open, the valve
// closes at the reported deadline even if the scheduler stops answering.
type Follower struct {
	src      StatusSource
	valve    gpio.Valve
	log      *zap.Logger
	open     bool
	deadline time.Time
}

// NewFollower creates a Follower with the valve assumed closed.
func NewFollower(src StatusSource, valve gpio.Valve, log *zap.Logger) *Follower {
	if log == nil {
		log = zap.NewNop()
	}
	return &Follower{src: src, valve: valve, log: log}
}

// Open reports the last commanded valve position.
func (f *Follower) Open() bool { return f.open }

// Deadline returns when an open valve will be closed locally.
func (f *Follower) Deadline() time.Time { return f.deadline }

// Step polls once at now. A fetch error is returned after the local
// deadline has been enforced.
func (f *Follower) Step(ctx context.Context, now time.Time) error {
	ds, err := f.src.Status(ctx)
	if err != nil {
		f.log.Warn("status poll failed", zap.Error(err), zap.Bool("valve_open", f.open))
		if f.open && !now.Before(f.deadline) {
			f.set(false, "deadline reached while offline")
		}
		return err
	}

	if ds.Regar && ds.Restante > 0 {
		f.deadline = now.Add(time.Duration(ds.Restante) * time.Second)
		if !f.open {
			f.log.Info("watering started",
				zap.Int("duracao", ds.Duracao),
				zap.Int("restante", ds.Restante),
				zap.String("inicio", ds.Inicio))
			f.set(true, "scheduler")
		}
		return nil
	}
	if f.open {
		f.set(false, "scheduler")
	}
	return nil
}

// Run polls every interval until ctx is cancelled, then closes the valve.
func (f *Follower) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	f.Step(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			if f.open {
				f.set(false, "shutdown")
			}
			return
		case now := <-t.C:
			f.Step(ctx, now)
		}
	}
}

func (f *Follower) set(open bool, reason string) {
	if err := f.valve.Set(open); err != nil {
		f.log.Error("valve command failed", zap.Bool("open", open), zap.Error(err))
		return
	}
	f.open = open
	if !open {
		f.deadline = time.Time{}
	}
	f.log.Info("valve", zap.Bool("open", open), zap.String("reason", reason))
}
