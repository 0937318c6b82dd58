//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "press-sensor"

// RealSource reads press edges from hardware using the Linux GPIO character device.
type RealSource struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	line *gpiocdev.Line
}

// NewRealSource creates an edge source for the given wiring. now stamps each
// edge; pass the processor clock so hits share its timezone.
func NewRealSource(cfg Config, now func() time.Time) (*RealSource, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	if now == nil {
		now = time.Now
	}
	return &RealSource{cfg: cfg, now: now}, nil
}

// Start requests the line with edge detection and forwards press edges to fn.
func (r *RealSource) Start(fn func(Edge)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line != nil {
		return errors.New("gpio: source already started")
	}

	pressEdge := gpiocdev.LineEventRisingEdge
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(consumer),
	}
	if r.cfg.PullUp {
		pressEdge = gpiocdev.LineEventFallingEdge
		opts = append(opts, gpiocdev.WithPullUp, gpiocdev.WithFallingEdge)
	} else {
		opts = append(opts, gpiocdev.WithPullDown, gpiocdev.WithRisingEdge)
	}
	if r.cfg.Debounce > 0 {
		opts = append(opts, gpiocdev.WithDebounce(r.cfg.Debounce))
	}
	opts = append(opts, gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
		if evt.Type != pressEdge {
			return
		}
		fn(Edge{Time: r.now(), Seq: evt.Seqno})
	}))

	line, err := gpiocdev.RequestLine(r.cfg.Chip, r.cfg.Pin, opts...)
	if err != nil {
		return fmt.Errorf("request pin %d on %s: %w", r.cfg.Pin, r.cfg.Chip, err)
	}
	r.line = line
	return nil
}

// Pressed returns whether the switch is currently closed.
func (r *RealSource) Pressed() (bool, error) {
	r.mu.Lock()
	line := r.line
	r.mu.Unlock()

	if line == nil {
		bias := gpiocdev.WithPullDown
		if r.cfg.PullUp {
			bias = gpiocdev.WithPullUp
		}
		l, err := gpiocdev.RequestLine(r.cfg.Chip, r.cfg.Pin, gpiocdev.AsInput, bias, gpiocdev.WithConsumer(consumer))
		if err != nil {
			return false, fmt.Errorf("request pin %d on %s: %w", r.cfg.Pin, r.cfg.Chip, err)
		}
		defer l.Close()
		line = l
	}

	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", r.cfg.Pin, err)
	}
	if r.cfg.PullUp {
		return v == 0, nil
	}
	return v == 1, nil
}

// Close releases the line.
// Reconfigures the pin to input with pull-down (matching Pi boot defaults)
// before closing so attached hardware sees a clean state across reboots.
func (r *RealSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.line == nil {
		return nil
	}

	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", r.cfg.Pin, err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", r.cfg.Pin, err))
	}
	r.line = nil

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
