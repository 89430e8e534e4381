package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/irrigation-scheduler/internal/config"
	"github.com/sweeney/irrigation-scheduler/internal/gpio"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/mqtt"
	"github.com/sweeney/irrigation-scheduler/internal/poller"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

var brt = time.FixedZone("BRT", -3*60*60)

// 2026-01-05 is a Monday.
func at(hour, minute int) time.Time {
	return time.Date(2026, 1, 5, hour, minute, 0, 0, brt)
}

// sequence returns a clock yielding times in order, repeating the last one.
// Only called from the loop goroutine.
func sequence(times ...time.Time) logic.Clock {
	n := 0
	return func() time.Time {
		t := times[n]
		if n < len(times)-1 {
			n++
		}
		return t
	}
}

type fixture struct {
	loop     *loop
	pub      *mqtt.FakePublisher
	valve    *gpio.FakeValve
	deadline chan time.Time
	afters   []time.Duration
}

func newFixture(t *testing.T, heartbeat time.Duration, clock logic.Clock, entries ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory(nil)
	u, err := st.CreateUser(ctx, store.User{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	for _, hhmm := range entries {
		tod, _ := logic.ParseTimeOfDay(hhmm)
		set, _ := logic.ParseWeekdaySet("Seg")
		if _, err := st.CreateEntry(ctx, logic.Entry{
			OwnerID: u.ID, Time: tod, Duration: 10 * time.Minute, Weekdays: set, Enabled: true,
		}); err != nil {
			t.Fatalf("CreateEntry: %v", err)
		}
	}

	f := &fixture{
		pub:      mqtt.NewFakePublisher(),
		valve:    gpio.NewFakeValve(),
		deadline: make(chan time.Time),
	}
	tracker := status.NewTracker(at(5, 59), status.Config{}, func() time.Time { return at(5, 59) })
	p := poller.New(at(5, 59), poller.Options{
		Reader:    st,
		Tracker:   tracker,
		Publisher: f.pub,
		Valve:     f.valve,
	})
	f.loop = &loop{
		poller:     p,
		publisher:  f.pub,
		mqttStatus: f.pub,
		tracker:    tracker,
		heartbeat:  heartbeat,
		now:        clock,
		after: func(d time.Duration) <-chan time.Time {
			f.afters = append(f.afters, d)
			return f.deadline
		},
		log: zap.NewNop(),
	}
	return f
}

// drive runs the loop, feeds it the given wake-ups ("tick" or "deadline")
// and then sig.
func (f *fixture) drive(t *testing.T, wakeups []string, sig os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.loop.run(context.Background(), tick, sigCh)
	}()

	for _, w := range wakeups {
		switch w {
		case "tick":
			tick <- time.Time{}
		case "deadline":
			f.deadline <- time.Time{}
		}
	}
	sigCh <- sig
	return <-errCh
}

func systemEvents(pub *mqtt.FakePublisher) []string {
	var out []string
	for _, se := range pub.SystemEvents {
		out = append(out, se.Event)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunLoopStartupAndShutdown(t *testing.T) {
	f := newFixture(t, 0, sequence(at(6, 0)))

	if err := f.drive(t, nil, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if got, want := systemEvents(f.pub), []string{"STARTUP", "SHUTDOWN"}; !equalStrings(got, want) {
		t.Errorf("system events: got %v, want %v", got, want)
	}
	if got := f.pub.SystemEvents[1].Reason; got != "SIGTERM" {
		t.Errorf("shutdown reason: got %q, want SIGTERM", got)
	}
	if !f.pub.SystemEvents[0].Retained {
		t.Error("STARTUP should be retained")
	}
}

func TestRunLoopSessionEndsOnDeadline(t *testing.T) {
	f := newFixture(t, 0, sequence(at(6, 0), at(6, 10), at(6, 11)), "06:00")

	err := f.drive(t, []string{"tick", "deadline", "tick"}, syscall.SIGINT)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(f.pub.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(f.pub.Events))
	}
	if f.pub.Events[0].Type != logic.EventWateringStart || f.pub.Events[1].Type != logic.EventWateringStop {
		t.Errorf("events: got %s, %s", f.pub.Events[0].Type, f.pub.Events[1].Type)
	}
	if !f.pub.Events[1].Timestamp.Equal(at(6, 10)) {
		t.Errorf("stop at: got %v, want 06:10", f.pub.Events[1].Timestamp)
	}
	if len(f.afters) != 1 || f.afters[0] != 10*time.Minute {
		t.Errorf("deadline timers: got %v, want [10m]", f.afters)
	}
	if f.valve.IsOpen() {
		t.Error("valve should be closed after the session")
	}
	if got := f.pub.SystemEvents[len(f.pub.SystemEvents)-1].Reason; got != "SIGINT" {
		t.Errorf("shutdown reason: got %q, want SIGINT", got)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Controller starts at 05:59; the second tick is 16 minutes later.
	f := newFixture(t, 15*time.Minute, sequence(at(6, 0), at(6, 15)))

	if err := f.drive(t, []string{"tick", "tick"}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	want := []string{"STARTUP", "HEARTBEAT", "SHUTDOWN"}
	if got := systemEvents(f.pub); !equalStrings(got, want) {
		t.Errorf("system events: got %v, want %v", got, want)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	f := newFixture(t, 0, sequence(at(6, 0)), "06:00")
	f.pub.PublishError = errors.New("broker unavailable")

	if err := f.drive(t, []string{"tick"}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(f.pub.Events) != 0 {
		t.Errorf("expected 0 recorded events (publish failed), got %d", len(f.pub.Events))
	}
	if !f.valve.IsOpen() {
		t.Error("valve should open despite the publish failure")
	}
	if got := systemEvents(f.pub); len(got) == 0 || got[len(got)-1] != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN system event, got %v", got)
	}
}

func TestRunLoopWithoutMQTT(t *testing.T) {
	f := newFixture(t, time.Minute, sequence(at(6, 0)), "06:00")
	f.loop.publisher = nil
	f.loop.mqttStatus = nil

	if err := f.drive(t, []string{"tick"}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if !f.valve.IsOpen() {
		t.Error("valve should open without a broker")
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "irrigation.yaml")
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CODIGO_CONVITE=JARDIM\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", "memory://")
	t.Cleanup(func() { os.Unsetenv("CODIGO_CONVITE") })

	cfg, err := loadConfig(cfgPath, envPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Errorf("default config not written: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen: got %q, want :8080", cfg.Listen)
	}
	if cfg.Store.Driver != config.DriverMemory {
		t.Errorf("Store.Driver: got %q, want memory", cfg.Store.Driver)
	}
	if cfg.Auth.InviteCode != "JARDIM" {
		t.Errorf("InviteCode: got %q, want JARDIM", cfg.Auth.InviteCode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
