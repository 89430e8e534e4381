// Package store persists accounts and schedule entries.
//
// Every backend returns ActiveEntries in creation order. The matcher takes
// the first hit, so that order is the tie-break between coinciding entries.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

var (
	ErrNotFound   = errors.New("store: not found")
	ErrForbidden  = errors.New("store: entry belongs to another owner")
	ErrEmailTaken = errors.New("store: email already registered")
)

// User is an account that owns schedule entries.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// EntryReader is the read side used by the poll loop.
type EntryReader interface {
	// ActiveEntries returns every enabled entry, oldest first.
	ActiveEntries(ctx context.Context) ([]logic.Entry, error)
}

// Store is the full persistence contract.
type Store interface {
	EntryReader

	// ListByOwner returns the owner's entries ordered by time of day.
	ListByOwner(ctx context.Context, ownerID string) ([]logic.Entry, error)
	// CreateEntry assigns ID and CreatedAt and persists e.
	CreateEntry(ctx context.Context, e logic.Entry) (logic.Entry, error)
	// SetEnabled toggles an entry. ErrForbidden if ownerID does not own it.
	SetEnabled(ctx context.Context, ownerID, id string, enabled bool) error
	// DeleteEntry removes an entry. ErrForbidden if ownerID does not own it.
	DeleteEntry(ctx context.Context, ownerID, id string) error

	// CreateUser assigns ID and CreatedAt. ErrEmailTaken on duplicate email.
	CreateUser(ctx context.Context, u User) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)

	Close() error
}

// stamper hands out strictly increasing creation times so that ordering by
// CreatedAt is creation order even within one clock tick.
type stamper struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newStamper(now func() time.Time) *stamper {
	if now == nil {
		now = time.Now
	}
	return &stamper{now: now}
}

func (s *stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func newID() string {
	return uuid.NewString()
}
