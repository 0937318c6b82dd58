package gpio

import (
	"errors"
	"sync"
)

// FakeSource is a test double that delivers scripted edges on demand.
type FakeSource struct {
	mu      sync.Mutex
	handler func(Edge)

	// Level is returned by Pressed.
	Level bool

	// Closed tracks if Close was called
	Closed bool

	// StartError and ReadError, if set, are returned by Start and Pressed.
	StartError error
	ReadError  error
}

// NewFakeSource creates an idle FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{}
}

// Start records the handler that Fire delivers to.
func (f *FakeSource) Start(fn func(Edge)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartError != nil {
		return f.StartError
	}
	if f.handler != nil {
		return errors.New("gpio: source already started")
	}
	f.handler = fn
	return nil
}

// Fire delivers edges synchronously. Edges fired before Start or after
// Close are dropped, like a line nobody is listening to.
func (f *FakeSource) Fire(edges ...Edge) {
	f.mu.Lock()
	fn := f.handler
	closed := f.Closed
	f.mu.Unlock()
	if fn == nil || closed {
		return
	}
	for _, e := range edges {
		fn(e)
	}
}

// Pressed returns Level.
func (f *FakeSource) Pressed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.Level, nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset detaches the handler and clears Closed.
func (f *FakeSource) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.Closed = false
}
