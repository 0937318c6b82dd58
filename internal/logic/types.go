// Package logic contains the pure press state-tracking engine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies what produced a record.
type Kind string

const (
	KindHit  Kind = "HIT"
	KindDown Kind = "DOWN"
)

// State is the machine state derived from the newest record.
type State string

const (
	StateRunning State = "RUNNING"
	StateDown    State = "DOWN"
)

// Record is an immutable snapshot appended to History on every event.
type Record struct {
	Timestamp time.Time
	Kind      Kind

	// Strokes per minute.
	ShortRate float64
	LongRate  float64

	// Seconds. CurrentDowntime is the length of the down run in progress,
	// DowntimeDelta is what this record added to CumulativeDowntime.
	CurrentDowntime    float64
	CumulativeDowntime float64
	DowntimeDelta      float64

	// LastTransition is zero until the first edge has been seen.
	LastTransition time.Time

	// HitCount is the number of hit records in the retention window,
	// including this one when it is a hit.
	HitCount int
}

// PressOff reports whether the record represents the idle state.
func (r Record) PressOff() bool {
	return r.Kind == KindDown
}

// State returns the machine state this record represents.
func (r Record) State() State {
	if r.PressOff() {
		return StateDown
	}
	return StateRunning
}

// HasTransition reports whether LastTransition holds a real timestamp.
func (r Record) HasTransition() bool {
	return !r.LastTransition.IsZero()
}

// EventCounts tracks processed events since startup.
type EventCounts struct {
	Hits     int
	Downs    int
	Rejected int
}

// ErrOutOfOrder is returned when an event is older than the newest record.
var ErrOutOfOrder = errors.New("event precedes history tail")

// OutOfOrderError carries the offending and tail timestamps.
type OutOfOrderError struct {
	Kind  Kind
	Event time.Time
	Tail  time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("%s at %s precedes tail at %s",
		e.Kind, e.Event.Format(time.RFC3339Nano), e.Tail.Format(time.RFC3339Nano))
}

// Unwrap lets errors.Is match ErrOutOfOrder.
func (e *OutOfOrderError) Unwrap() error {
	return ErrOutOfOrder
}

// Clock supplies the current time in a single configured location.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct {
	Location *time.Location
}

// Now returns the current time in the clock's location (UTC if unset).
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}
