package logic

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// TransitionMode controls which edges refresh Record.LastTransition.
type TransitionMode string

const (
	// TransitionsDownOnly updates LastTransition only when entering downtime.
	// Records uploaded by earlier firmware follow this rule.
	TransitionsDownOnly TransitionMode = "down"
	// TransitionsBoth also updates it on the first hit after downtime.
	TransitionsBoth TransitionMode = "both"
)

// Config selects the processor's retention and rate strategies.
type Config struct {
	Location    *time.Location
	Retention   Retention
	ShortRate   RateStrategy
	LongRate    RateStrategy
	Transitions TransitionMode
}

// DefaultConfig returns a 3h fixed window with 2m/1h windowed rates.
func DefaultConfig() Config {
	return Config{
		Location:    time.UTC,
		Retention:   FixedRetention{Window: 3 * time.Hour},
		ShortRate:   WindowedCount{Window: 2 * time.Minute},
		LongRate:    WindowedCount{Window: time.Hour},
		Transitions: TransitionsDownOnly,
	}
}

// Processor turns hit and down events into Records.
// Writers are serialised by a mutex; Latest never takes it.
type Processor struct {
	mu         sync.RWMutex
	cfg        Config
	history    *History
	cumulative float64
	lastHit    time.Time
	counts     EventCounts

	latest atomic.Pointer[Record]
}

// NewProcessor creates a processor. The startTime seeds idle detection so the
// first down is only synthesised once the cutoff has passed since startup.
func NewProcessor(cfg Config, startTime time.Time) (*Processor, error) {
	if cfg.Retention == nil {
		return nil, errors.New("logic: retention is required")
	}
	if cfg.ShortRate == nil || cfg.LongRate == nil {
		return nil, errors.New("logic: rate strategies are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	switch cfg.Transitions {
	case "":
		cfg.Transitions = TransitionsDownOnly
	case TransitionsDownOnly, TransitionsBoth:
	default:
		return nil, errors.New("logic: unknown transition mode " + string(cfg.Transitions))
	}
	return &Processor{
		cfg:     cfg,
		history: NewHistory(cfg.Retention),
		lastHit: startTime.In(cfg.Location),
	}, nil
}

// OnHit records a press actuation at t.
func (p *Processor) OnHit(t time.Time) (Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.process(KindHit, t)
}

// OnDown records that the press has been idle at t.
func (p *Processor) OnDown(t time.Time) (Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.process(KindDown, t)
}

// CheckIdle synthesises a down event at now if the press has been idle for
// longer than cutoff. It returns false when no event was due.
func (p *Processor) CheckIdle(now time.Time, cutoff time.Duration) (Record, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastHit) <= cutoff {
		return Record{}, false, nil
	}
	rec, err := p.process(KindDown, now)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Evict applies retention at now without producing a record.
// It returns the number of records dropped.
func (p *Processor) Evict(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.evict(now.In(p.cfg.Location))
	if n > 0 {
		p.publish()
	}
	return n
}

// Latest returns the newest record without blocking writers.
func (p *Processor) Latest() (Record, bool) {
	rec := p.latest.Load()
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// History returns a copy of the retained records, oldest first.
func (p *Processor) History() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Records()
}

// HistoryLen returns the number of retained records.
func (p *Processor) HistoryLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history.Len()
}

// CumulativeDowntime returns the downtime accrued inside the retention window.
func (p *Processor) CumulativeDowntime() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cumulative
}

// State returns the current machine state. An empty history counts as running.
func (p *Processor) State() State {
	rec, ok := p.Latest()
	if !ok {
		return StateRunning
	}
	return rec.State()
}

// Counts returns event counters since startup.
func (p *Processor) Counts() EventCounts {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts
}

// process must be called with mu held.
func (p *Processor) process(kind Kind, t time.Time) (Record, error) {
	t = t.In(p.cfg.Location)

	if tail, ok := p.history.Latest(); ok && t.Before(tail.Timestamp) {
		p.counts.Rejected++
		return Record{}, &OutOfOrderError{Kind: kind, Event: t, Tail: tail.Timestamp}
	}

	p.evict(t)

	var prev *Record
	if tail, ok := p.history.Latest(); ok {
		prev = &tail
	}

	current, delta := downtime(prev, kind, t)
	rec := Record{
		Timestamp:       t,
		Kind:            kind,
		CurrentDowntime: current,
		DowntimeDelta:   delta,
	}

	switch kind {
	case KindHit:
		rec.ShortRate = p.cfg.ShortRate.Rate(p.history, t)
		rec.LongRate = p.cfg.LongRate.Rate(p.history, t)
		rec.HitCount = p.history.Hits() + 1
		if prev != nil {
			rec.LastTransition = prev.LastTransition
			if p.cfg.Transitions == TransitionsBoth && prev.PressOff() {
				rec.LastTransition = t
			}
		}
	case KindDown:
		rec.HitCount = p.history.Hits()
		if prev != nil {
			rec.LongRate = prev.LongRate
		}
		if prev == nil || !prev.PressOff() {
			rec.LastTransition = t
		} else {
			rec.LastTransition = prev.LastTransition
		}
	}
	rec.CumulativeDowntime = p.cumulative + delta

	if err := p.history.Append(rec); err != nil {
		p.counts.Rejected++
		return Record{}, err
	}
	p.cumulative = rec.CumulativeDowntime

	if kind == KindHit {
		p.lastHit = t
		p.counts.Hits++
	} else {
		p.counts.Downs++
	}
	p.publish()
	return rec, nil
}

// evict must be called with mu held.
func (p *Processor) evict(now time.Time) int {
	n, removed := p.history.Evict(now)
	if n == 0 {
		return 0
	}
	p.cumulative -= removed
	if p.history.Len() == 0 || p.cumulative < 0 {
		// Nothing left to account for; drop float drift.
		p.cumulative = 0
	}
	return n
}

// publish must be called with mu held.
func (p *Processor) publish() {
	rec, ok := p.history.Latest()
	if !ok {
		p.latest.Store(nil)
		return
	}
	p.latest.Store(&rec)
}
