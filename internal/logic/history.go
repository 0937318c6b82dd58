package logic

import "time"

// Retention decides how far back History keeps records.
type Retention interface {
	// Cutoff returns the oldest timestamp still retained at now.
	Cutoff(now time.Time) time.Time
}

// FixedRetention keeps a fixed duration ending at the newest event.
type FixedRetention struct {
	Window time.Duration
}

// Cutoff implements Retention.
func (f FixedRetention) Cutoff(now time.Time) time.Time {
	return now.Add(-f.Window)
}

func (f FixedRetention) String() string {
	return "fixed " + f.Window.String()
}

// DayRetention keeps everything since local midnight.
type DayRetention struct {
	Location *time.Location
}

// Cutoff implements Retention.
func (d DayRetention) Cutoff(now time.Time) time.Time {
	return StartOfDay(now, d.Location)
}

func (d DayRetention) String() string {
	if d.Location == nil {
		return "day UTC"
	}
	return "day " + d.Location.String()
}

// StartOfDay returns midnight of now's calendar day in loc (UTC if nil).
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// History is an ordered, time-bounded sequence of records.
// Not safe for concurrent use; Processor serialises access.
type History struct {
	retention Retention
	records   []Record
	hits      int
}

// NewHistory creates an empty History with the given retention policy.
func NewHistory(retention Retention) *History {
	return &History{retention: retention}
}

// Append adds rec at the tail. Records must arrive in timestamp order.
func (h *History) Append(rec Record) error {
	if tail, ok := h.Latest(); ok && rec.Timestamp.Before(tail.Timestamp) {
		return &OutOfOrderError{Kind: rec.Kind, Event: rec.Timestamp, Tail: tail.Timestamp}
	}
	h.records = append(h.records, rec)
	if !rec.PressOff() {
		h.hits++
	}
	return nil
}

// Evict drops head records older than the retention cutoff at now.
// It returns how many records were dropped and the sum of their
// DowntimeDelta, which the owner subtracts from its accumulator.
func (h *History) Evict(now time.Time) (int, float64) {
	cutoff := h.retention.Cutoff(now)

	n := 0
	var removed float64
	for n < len(h.records) && h.records[n].Timestamp.Before(cutoff) {
		rec := h.records[n]
		removed += rec.DowntimeDelta
		if !rec.PressOff() {
			h.hits--
		}
		n++
	}
	if n == 0 {
		return 0, 0
	}

	// Shift instead of reslicing so the backing array does not grow forever.
	remaining := copy(h.records, h.records[n:])
	for i := remaining; i < len(h.records); i++ {
		h.records[i] = Record{}
	}
	h.records = h.records[:remaining]
	return n, removed
}

// Latest returns the tail record.
func (h *History) Latest() (Record, bool) {
	if len(h.records) == 0 {
		return Record{}, false
	}
	return h.records[len(h.records)-1], true
}

// Records returns a copy of the retained records, oldest first.
func (h *History) Records() []Record {
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Len returns the number of retained records.
func (h *History) Len() int {
	return len(h.records)
}

// Hits returns the number of retained hit records.
func (h *History) Hits() int {
	return h.hits
}

// each walks records newest first until fn returns false.
func (h *History) each(fn func(Record) bool) {
	for i := len(h.records) - 1; i >= 0; i-- {
		if !fn(h.records[i]) {
			return
		}
	}
}
