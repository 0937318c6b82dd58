package logic

import "time"

// RateStrategy estimates strokes per minute at now from the retained history.
// The event being processed is not part of h yet.
type RateStrategy interface {
	Rate(h *History, now time.Time) float64
	Name() string
}

// WindowedCount counts hits newer than now-Window. While the oldest counted hit
// is less than Window old, the count is spread over the elapsed span instead so
// a freshly started window does not under-report.
type WindowedCount struct {
	Window time.Duration
}

// Rate implements RateStrategy.
func (w WindowedCount) Rate(h *History, now time.Time) float64 {
	if w.Window <= 0 {
		return 0
	}
	cutoff := now.Add(-w.Window)

	count := 0
	var oldest time.Time
	h.each(func(r Record) bool {
		if !r.Timestamp.After(cutoff) {
			return false
		}
		if !r.PressOff() {
			count++
			oldest = r.Timestamp
		}
		return true
	})
	if count == 0 {
		return 0
	}

	elapsed := now.Sub(oldest)
	if elapsed <= 0 {
		return 0
	}
	if elapsed < w.Window {
		return perMinute(float64(count), elapsed)
	}
	return perMinute(float64(count), w.Window)
}

// Name implements RateStrategy.
func (w WindowedCount) Name() string {
	return "windowed"
}

// Instantaneous is the two-point rate between the previous hit and now.
// It is zero when the press was idle at the previous record.
type Instantaneous struct{}

// Rate implements RateStrategy.
func (Instantaneous) Rate(h *History, now time.Time) float64 {
	tail, ok := h.Latest()
	if !ok || tail.PressOff() {
		return 0
	}
	elapsed := now.Sub(tail.Timestamp)
	if elapsed <= 0 {
		return 0
	}
	return perMinute(1, elapsed)
}

// Name implements RateStrategy.
func (Instantaneous) Name() string {
	return "instantaneous"
}

// RunningMean averages the non-zero short rates of every retained hit.
type RunningMean struct{}

// Rate implements RateStrategy.
func (RunningMean) Rate(h *History, _ time.Time) float64 {
	var sum float64
	n := 0
	h.each(func(r Record) bool {
		if !r.PressOff() && r.ShortRate > 0 {
			sum += r.ShortRate
			n++
		}
		return true
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Name implements RateStrategy.
func (RunningMean) Name() string {
	return "mean"
}

func perMinute(count float64, span time.Duration) float64 {
	return count / span.Seconds() * 60
}

// downtime returns the down-run length at now and how much it grew since prev.
//
// A down after a down accrues the gap; a down after a hit starts a fresh run at
// zero; a hit carries the run length over unchanged. Only down->down adds to
// the cumulative total.
func downtime(prev *Record, kind Kind, now time.Time) (current, delta float64) {
	if prev == nil {
		return 0, 0
	}
	if kind != KindDown {
		return prev.CurrentDowntime, 0
	}
	if !prev.PressOff() {
		return 0, 0
	}
	gap := now.Sub(prev.Timestamp).Seconds()
	if gap < 0 {
		gap = 0
	}
	return prev.CurrentDowntime + gap, gap
}
