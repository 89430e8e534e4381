package store

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

// Memory is an in-process Store. Entries are kept in creation order.
type Memory struct {
	mu      sync.RWMutex
	entries []logic.Entry
	users   map[string]User
	byEmail map[string]string
	stamp   *stamper
}

// NewMemory creates an empty store. now stamps creation times; nil means time.Now.
func NewMemory(now func() time.Time) *Memory {
	return &Memory{
		users:   make(map[string]User),
		byEmail: make(map[string]string),
		stamp:   newStamper(now),
	}
}

func (m *Memory) ActiveEntries(ctx context.Context) ([]logic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []logic.Entry
	for _, e := range m.entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListByOwner(ctx context.Context, ownerID string) ([]logic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []logic.Entry
	for _, e := range m.entries {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	logic.SortByTime(out)
	return out, nil
}

func (m *Memory) CreateEntry(ctx context.Context, e logic.Entry) (logic.Entry, error) {
	if err := e.Validate(); err != nil {
		return logic.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[e.OwnerID]; !ok {
		return logic.Entry{}, ErrNotFound
	}
	e.ID = newID()
	e.CreatedAt = m.stamp.next()
	m.entries = append(m.entries, e)
	return e, nil
}

// owned returns the index of id, checking ownership. Caller holds the lock.
func (m *Memory) owned(ownerID, id string) (int, error) {
	for i, e := range m.entries {
		if e.ID != id {
			continue
		}
		if e.OwnerID != ownerID {
			return -1, ErrForbidden
		}
		return i, nil
	}
	return -1, ErrNotFound
}

func (m *Memory) SetEnabled(ctx context.Context, ownerID, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.owned(ownerID, id)
	if err != nil {
		return err
	}
	m.entries[i].Enabled = enabled
	return nil
}

func (m *Memory) DeleteEntry(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, err := m.owned(ownerID, id)
	if err != nil {
		return err
	}
	m.entries = append(m.entries[:i], m.entries[i+1:]...)
	return nil
}

func (m *Memory) CreateUser(ctx context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return User{}, ErrEmailTaken
	}
	u.ID = newID()
	u.CreatedAt = m.stamp.next()
	m.users[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return u, nil
}

func (m *Memory) UserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) UserByID(ctx context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) Close() error { return nil }
