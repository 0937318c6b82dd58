// Package upload periodically ships the newest press record to external sinks.
// It only ever reads a copy of the record, so a slow or unreachable sink never
// holds up the engine.
package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/registry"
)

// Item is one record attributed to the device that produced it.
type Item struct {
	ID     string
	Record logic.Record
	Device registry.Device
}

// Sink accepts uploaded items. Implementations own their retry and
// connectivity handling; Send should fail fast when offline.
type Sink interface {
	Send(ctx context.Context, item Item) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, item Item) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, item Item) error {
	return f(ctx, item)
}

// LatestSource supplies the newest record.
type LatestSource interface {
	Latest() (logic.Record, bool)
}

type namedSink struct {
	name string
	sink Sink
	warn *rate.Sometimes
}

// Uploader sends the latest record to every registered sink.
// Not safe for concurrent use; drive it from a single goroutine.
type Uploader struct {
	source  LatestSource
	device  registry.Device
	timeout time.Duration
	sinks   []namedSink
	newID   func() string
	observe func(accepted, total int)

	last     time.Time
	uploaded bool
}

// New creates an Uploader for device. timeout bounds each Send call.
func New(source LatestSource, device registry.Device, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Uploader{
		source:  source,
		device:  device,
		timeout: timeout,
		newID:   uuid.NewString,
	}
}

// AddSink registers a sink under name.
func (u *Uploader) AddSink(name string, s Sink) {
	u.sinks = append(u.sinks, namedSink{
		name: name,
		sink: s,
		// Log the first few failures, then at most once a minute.
		warn: &rate.Sometimes{First: 3, Interval: time.Minute},
	})
}

// OnAttempt registers fn to be told how many sinks accepted each attempted
// upload. Skipped rounds are not reported.
func (u *Uploader) OnAttempt(fn func(accepted, total int)) {
	u.observe = fn
}

// Upload sends the latest record if it has not been sent before. It returns
// the number of sinks that accepted it.
func (u *Uploader) Upload(ctx context.Context) int {
	rec, ok := u.source.Latest()
	if !ok {
		slog.Debug("upload skipped: no record yet")
		return 0
	}
	if u.uploaded && rec.Timestamp.Equal(u.last) {
		slog.Debug("upload skipped: record unchanged", "timestamp", rec.Timestamp)
		return 0
	}

	item := Item{ID: u.newID(), Record: rec, Device: u.device}
	accepted := 0
	for _, s := range u.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, u.timeout)
		err := s.sink.Send(sendCtx, item)
		cancel()
		if err != nil {
			s.warn.Do(func() {
				slog.Warn("upload failed", "sink", s.name, "error", err)
			})
			continue
		}
		accepted++
	}
	if u.observe != nil {
		u.observe(accepted, len(u.sinks))
	}

	// Mark as sent once anyone took it; sinks that missed it will get the
	// next record instead of a stale one.
	if accepted > 0 {
		u.last = rec.Timestamp
		u.uploaded = true
		slog.Debug("record uploaded", "id", item.ID, "state", rec.State(), "sinks", accepted)
	}
	return accepted
}
