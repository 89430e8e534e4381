package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

// BreakerSettings tune the circuit breaker in front of the poll-loop reads.
type BreakerSettings struct {
	Failures int           // consecutive failures that open the circuit
	Open     time.Duration // how long the circuit stays open before a probe
	Interval time.Duration // closed-state window after which counts reset
}

// DefaultBreakerSettings opens after three failed polls and probes again
// after two minutes.
var DefaultBreakerSettings = BreakerSettings{
	Failures: 3,
	Open:     2 * time.Minute,
	Interval: 10 * time.Minute,
}

// Breaker guards an EntryReader. While open, ActiveEntries fails fast with
// gobreaker.ErrOpenState instead of hitting the backend.
type Breaker struct {
	next EntryReader
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. onChange, if non-nil, is called on every state
// transition.
func NewBreaker(next EntryReader, s BreakerSettings, onChange func(from, to gobreaker.State)) *Breaker {
	if s.Failures <= 0 {
		s.Failures = DefaultBreakerSettings.Failures
	}
	st := gobreaker.Settings{
		Name:     "store",
		Interval: s.Interval,
		Timeout:  s.Open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(s.Failures)
		},
	}
	if onChange != nil {
		st.OnStateChange = func(_ string, from, to gobreaker.State) { onChange(from, to) }
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Breaker) ActiveEntries(ctx context.Context) ([]logic.Entry, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ActiveEntries(ctx)
	})
	if err != nil {
		return nil, err
	}
	entries, _ := out.([]logic.Entry)
	return entries, nil
}

// State reports the circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
