package poller

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker delivers the firing times of a cron schedule on C. A tick that
// arrives while the previous one is still unread is dropped.
type Ticker struct {
	C <-chan time.Time
	c *cron.Cron
}

// NewTicker starts a Ticker for spec (standard 5-field syntax or a
// descriptor such as "@every 30s"), evaluated in loc.
func NewTicker(spec string, loc *time.Location) (*Ticker, error) {
	ch := make(chan time.Time, 1)
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		select {
		case ch <- time.Now().In(loc):
		default:
		}
	}); err != nil {
		return nil, fmt.Errorf("poll schedule %q: %w", spec, err)
	}
	c.Start()
	return &Ticker{C: ch, c: c}, nil
}

// Stop halts the schedule and waits for a running send to finish.
func (t *Ticker) Stop() {
	<-t.c.Stop().Done()
}
