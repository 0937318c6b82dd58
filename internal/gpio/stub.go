//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(cfg Config, now func() time.Time) (*RealSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Start is not implemented on non-Linux platforms.
func (r *RealSource) Start(fn func(Edge)) error {
	return errors.New("gpio: not supported")
}

// Pressed is not implemented on non-Linux platforms.
func (r *RealSource) Pressed() (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealSource) Close() error {
	return nil
}
