// Package gpio delivers press hits from a GPIO input line.
// The real implementation uses the Linux GPIO character device with
// kernel-side edge detection and debounce.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// DefaultPin is the BCM line the press switch is wired to.
const DefaultPin = 6

// Edge is a single debounced press actuation.
type Edge struct {
	// Time is when the edge was observed, from the daemon clock.
	Time time.Time
	// Seq is the kernel sequence number of the edge (0 for fakes).
	Seq uint32
}

// Source delivers press edges.
type Source interface {
	// Start begins delivering edges to fn. fn is called from a
	// goroutine owned by the source and must not block for long.
	Start(fn func(Edge)) error

	// Pressed returns the current logical state of the line.
	Pressed() (bool, error)

	// Close stops delivery and releases GPIO resources.
	Close() error
}

// Config describes how the press switch is wired.
type Config struct {
	Chip     string        `yaml:"chip"`
	Pin      int           `yaml:"pin"`
	PullUp   bool          `yaml:"pull_up"` // true = switch pulls the line low when pressed
	Debounce time.Duration `yaml:"debounce"`
}
