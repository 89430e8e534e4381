package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"github.com/sweeney/irrigation-scheduler/internal/gpio"
	"github.com/sweeney/irrigation-scheduler/internal/logic"
	"github.com/sweeney/irrigation-scheduler/internal/metrics"
	"github.com/sweeney/irrigation-scheduler/internal/mqtt"
	"github.com/sweeney/irrigation-scheduler/internal/status"
	"github.com/sweeney/irrigation-scheduler/internal/store"
)

var brt = time.FixedZone("BRT", -3*60*60)

// 2026-01-05 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2026, 1, day, hour, minute, 0, 0, brt)
}

type harness struct {
	st      *store.Memory
	owner   string
	tracker *status.Tracker
	pub     *mqtt.FakePublisher
	valve   *gpio.FakeValve
	m       *metrics.Metrics
	p       *Poller
}

func newHarness(t *testing.T, reader store.EntryReader) *harness {
	t.Helper()
	st := store.NewMemory(nil)
	u, err := st.CreateUser(context.Background(), store.User{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if reader == nil {
		reader = st
	}
	h := &harness{
		st:      st,
		owner:   u.ID,
		tracker: status.NewTracker(at(5, 0, 0), status.Config{}, nil),
		pub:     mqtt.NewFakePublisher(),
		valve:   gpio.NewFakeValve(),
		m:       metrics.New(),
	}
	h.p = New(at(5, 0, 0), Options{
		Reader:    reader,
		Tracker:   h.tracker,
		Publisher: h.pub,
		Valve:     h.valve,
		Metrics:   h.m,
	})
	return h
}

func (h *harness) add(t *testing.T, hhmm string, dur time.Duration, days string) logic.Entry {
	t.Helper()
	tod, _ := logic.ParseTimeOfDay(hhmm)
	set, _ := logic.ParseWeekdaySet(days)
	e, err := h.st.CreateEntry(context.Background(), logic.Entry{
		OwnerID: h.owner, Time: tod, Duration: dur, Weekdays: set, Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	return e
}

func eventTypes(events []logic.Event) []logic.EventType {
	out := make([]logic.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestTick_MondayScenario(t *testing.T) {
	h := newHarness(t, nil)
	e := h.add(t, "06:00", 10*time.Minute, "Seg,Sex")
	ctx := context.Background()

	if got := h.p.Tick(ctx, at(5, 5, 59)); len(got) != 0 {
		t.Errorf("05:59: got %v, want no events", eventTypes(got))
	}

	got := h.p.Tick(ctx, at(5, 6, 0))
	if len(got) != 1 || got[0].Type != logic.EventWateringStart || got[0].EntryID != e.ID {
		t.Fatalf("06:00: got %+v, want one start for %s", got, e.ID)
	}
	if !h.valve.IsOpen() {
		t.Error("06:00: valve closed, want open")
	}
	snap := h.tracker.Snapshot()
	if !snap.Session.Active || snap.Session.Duration != 10*time.Minute {
		t.Errorf("06:00 session: got %+v", snap.Session)
	}
	if !snap.ValveOpen {
		t.Error("06:00: tracker valve closed, want open")
	}

	if got := h.p.Tick(ctx, at(5, 6, 9)); len(got) != 0 {
		t.Errorf("06:09: got %v, want no events", eventTypes(got))
	}

	got = h.p.Tick(ctx, at(5, 6, 10))
	if len(got) != 1 || got[0].Type != logic.EventWateringStop {
		t.Fatalf("06:10: got %v, want one stop", eventTypes(got))
	}
	if h.valve.IsOpen() {
		t.Error("06:10: valve open, want closed")
	}

	if want := []logic.EventType{logic.EventWateringStart, logic.EventWateringStop}; !equalTypes(h.pub.EventTypes(), want) {
		t.Errorf("published: got %v, want %v", h.pub.EventTypes(), want)
	}
	if v := testutil.ToFloat64(h.m.SessionsStarted); v != 1 {
		t.Errorf("sessions started: got %v, want 1", v)
	}
	if v := testutil.ToFloat64(h.m.SessionsCompleted); v != 1 {
		t.Errorf("sessions completed: got %v, want 1", v)
	}
	if v := testutil.ToFloat64(h.m.Watering); v != 0 {
		t.Errorf("watering gauge: got %v, want 0", v)
	}
	if v := testutil.ToFloat64(h.m.Ticks); v != 4 {
		t.Errorf("ticks: got %v, want 4", v)
	}
}

func TestTick_TuesdayNoMatch(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "06:00", 10*time.Minute, "Seg,Sex")
	if got := h.p.Tick(context.Background(), at(6, 6, 0)); len(got) != 0 {
		t.Errorf("tuesday: got %v, want no events", eventTypes(got))
	}
	if h.tracker.Snapshot().Session.Active {
		t.Error("tuesday: session active")
	}
}

func TestTick_CoincidingEntriesFirstWins(t *testing.T) {
	h := newHarness(t, nil)
	first := h.add(t, "06:00", 10*time.Minute, "Seg")
	h.add(t, "06:00", 20*time.Minute, "Seg")

	got := h.p.Tick(context.Background(), at(5, 6, 0))
	if len(got) != 1 || got[0].EntryID != first.ID {
		t.Fatalf("got %+v, want one start for %s", got, first.ID)
	}
	if d := h.tracker.Snapshot().Session.Duration; d != 10*time.Minute {
		t.Errorf("duration: got %v, want 10m", d)
	}
}

func TestTick_DoubleTickSameMinute(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "06:00", 10*time.Minute, "Seg")
	ctx := context.Background()

	h.p.Tick(ctx, at(5, 6, 0))
	if got := h.p.Tick(ctx, at(5, 6, 0).Add(30*time.Second)); len(got) != 0 {
		t.Errorf("second tick: got %v, want no events", eventTypes(got))
	}
	if c := h.tracker.Snapshot().Counts.Started; c != 1 {
		t.Errorf("started: got %d, want 1", c)
	}
}

func TestTick_ShortSessionDoesNotRestartInSameMinute(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "06:00", 20*time.Second, "Seg")
	ctx := context.Background()

	h.p.Tick(ctx, at(5, 6, 0))
	got := h.p.Tick(ctx, at(5, 6, 0).Add(30*time.Second))
	if want := []logic.EventType{logic.EventWateringStop}; !equalTypes(eventTypes(got), want) {
		t.Errorf("got %v, want %v", eventTypes(got), want)
	}
	if v := testutil.ToFloat64(h.m.TriggersSuppressed); v != 1 {
		t.Errorf("suppressed: got %v, want 1", v)
	}
}

type failingReader struct{ err error }

func (f failingReader) ActiveEntries(context.Context) ([]logic.Entry, error) {
	return nil, f.err
}

func TestTick_StoreOutageWhileIdle(t *testing.T) {
	h := newHarness(t, failingReader{err: errors.New("connection refused")})
	got := h.p.Tick(context.Background(), at(5, 6, 0))
	if len(got) != 0 {
		t.Errorf("got %v, want no events", eventTypes(got))
	}
	snap := h.tracker.Snapshot()
	if snap.StoreHealthy {
		t.Error("store healthy: got true, want false")
	}
	if snap.LastError == "" {
		t.Error("last error: got empty")
	}
	if snap.Session.Active {
		t.Error("session active after outage")
	}
	if v := testutil.ToFloat64(h.m.StoreErrors); v != 1 {
		t.Errorf("store errors: got %v, want 1", v)
	}
}

func TestTick_OpenBreakerTreatedAsOutage(t *testing.T) {
	br := store.NewBreaker(failingReader{err: errors.New("down")}, store.BreakerSettings{Failures: 1, Open: time.Hour}, nil)
	h := newHarness(t, br)
	ctx := context.Background()

	h.p.Tick(ctx, at(5, 5, 58))
	if br.State() != gobreaker.StateOpen {
		t.Fatalf("breaker: got %v, want open", br.State())
	}
	if got := h.p.Tick(ctx, at(5, 5, 59)); len(got) != 0 {
		t.Errorf("got %v, want no events", eventTypes(got))
	}
	if v := testutil.ToFloat64(h.m.StoreErrors); v != 2 {
		t.Errorf("store errors: got %v, want 2", v)
	}
}

func TestTick_ActiveSessionSkipsStore(t *testing.T) {
	h := newHarness(t, nil)
	e := h.add(t, "06:00", 10*time.Minute, "Seg")
	ctx := context.Background()

	h.p.Tick(ctx, at(5, 6, 0))
	if err := h.st.DeleteEntry(ctx, h.owner, e.ID); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if got := h.p.Tick(ctx, at(5, 6, 5)); len(got) != 0 {
		t.Errorf("06:05: got %v, want no events", eventTypes(got))
	}
	if got := h.p.Tick(ctx, at(5, 6, 10)); len(got) != 1 || got[0].Type != logic.EventWateringStop {
		t.Errorf("06:10: got %v, want one stop", eventTypes(got))
	}
}

func TestTick_ActuatorAndPublishFailuresKeepState(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "06:00", 10*time.Minute, "Seg")
	h.valve.SetError = errors.New("line busy")
	h.pub.PublishError = errors.New("broker down")

	got := h.p.Tick(context.Background(), at(5, 6, 0))
	if len(got) != 1 {
		t.Fatalf("got %v, want one start", eventTypes(got))
	}
	if !h.tracker.Snapshot().Session.Active {
		t.Error("session inactive after actuator failure")
	}
	if v := testutil.ToFloat64(h.m.ValveErrors); v != 1 {
		t.Errorf("valve errors: got %v, want 1", v)
	}
	if v := testutil.ToFloat64(h.m.PublishErrors); v != 1 {
		t.Errorf("publish errors: got %v, want 1", v)
	}
}

func TestDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.add(t, "06:00", 10*time.Minute, "Seg")
	if _, ok := h.p.Deadline(); ok {
		t.Error("idle: got a deadline")
	}
	h.p.Tick(context.Background(), at(5, 6, 0))
	d, ok := h.p.Deadline()
	if !ok || !d.Equal(at(5, 6, 10)) {
		t.Errorf("deadline: got %v %v, want %v", d, ok, at(5, 6, 10))
	}
}

func equalTypes(a, b []logic.EventType) bool {
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
