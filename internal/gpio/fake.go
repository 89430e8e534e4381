package gpio

import "sync"

// FakeValve is a test double that records every command.
type FakeValve struct {
	mu sync.Mutex

	// Commands holds every Set argument in order.
	Commands []bool

	// Open is the last commanded position.
	Open bool

	// Closed tracks if Close was called.
	Closed bool

	// SetError, if set, will be returned by Set.
	SetError error
}

// NewFakeValve creates a closed FakeValve.
func NewFakeValve() *FakeValve {
	return &FakeValve{}
}

// Set records the command.
func (f *FakeValve) Set(open bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Commands = append(f.Commands, open)
	f.Open = open
	return nil
}

// IsOpen returns the last commanded position.
func (f *FakeValve) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Open
}

// Close shuts the valve and marks it closed.
func (f *FakeValve) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Open = false
	f.Closed = true
	return nil
}

// Reset clears recorded commands.
func (f *FakeValve) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Commands = nil
	f.Open = false
	f.Closed = false
	f.SetError = nil
}
