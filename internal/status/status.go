// Package status provides a thread-safe status tracker for the press-sensor daemon.
// It is read by the HTTP handlers and the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/registry"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	IdleCutoffMs     int64
	DebounceMs       int64
	UploadIntervalMs int64
	HeartbeatMs      int64
	Retention        string
	ShortRate        string
	LongRate         string
	Transitions      string
	Broker           string
	HTTPPort         string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Record         logic.Record
	HasRecord      bool
	Counts         logic.EventCounts
	Device         registry.Device
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	StoreConnected bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// State returns the machine state, or "UNKNOWN" before the first record.
func (s Snapshot) State() string {
	if !s.HasRecord {
		return "UNKNOWN"
	}
	return string(s.Record.State())
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time, device and config.
func NewTracker(startTime time.Time, device registry.Device, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Device:    device,
			Config:    cfg,
		},
	}
}

// Update sets the latest record and event counts.
// ok is false while the history is empty.
func (t *Tracker) Update(rec logic.Record, ok bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Record = rec
	t.snap.HasRecord = ok
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetStoreConnected sets the database connection status.
func (t *Tracker) SetStoreConnected(connected bool) {
	t.mu.Lock()
	t.snap.StoreConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
