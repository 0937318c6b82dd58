// Package mqtt publishes press records and daemon lifecycle events to MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/press-sensor/internal/upload"
)

// TopicData is the prefix for record topics; the device's location and
// equipment are appended as two further levels.
const TopicData = "factory/press/data"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "factory/press/system"

// Publisher publishes records to MQTT.
type Publisher interface {
	// Publish sends a press record to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(item upload.Item) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Sink adapts a Publisher to upload.Sink.
func Sink(p Publisher) upload.Sink {
	return upload.SinkFunc(func(_ context.Context, item upload.Item) error {
		return p.Publish(item)
	})
}

// DataTopic returns the topic records for location/equipment go to.
func DataTopic(location, equipment string) string {
	return TopicData + "/" + topicLevel(location) + "/" + topicLevel(equipment)
}

// topicLevel makes s safe to use as a single topic level.
func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Press PressPayload `json:"press"`
}

// PressPayload contains one record. Field names match what the
// dashboard and the historical data store already read.
type PressPayload struct {
	ID              string  `json:"id"`
	Timestamp       string  `json:"timestamp"`
	Location        string  `json:"location"`
	Equipment       string  `json:"equipment"`
	State           string  `json:"state"`
	PressOff        bool    `json:"press_off"`
	ShortSPM        float64 `json:"short_spm"`
	LongSPM         float64 `json:"long_spm"`
	CurrentDowntime float64 `json:"current_downtime"`
	LongDowntime    float64 `json:"long_downtime"`
	LastDown        *string `json:"last_down"`
	NumHits         int     `json:"num_hits"`
}

// FormatPayload creates the JSON payload for a record. Timestamps keep the
// record's timezone offset.
func FormatPayload(item upload.Item) ([]byte, error) {
	rec := item.Record
	p := PressPayload{
		ID:              item.ID,
		Timestamp:       rec.Timestamp.Format(time.RFC3339),
		Location:        item.Device.Location,
		Equipment:       item.Device.Equipment,
		State:           string(rec.State()),
		PressOff:        rec.PressOff(),
		ShortSPM:        rec.ShortRate,
		LongSPM:         rec.LongRate,
		CurrentDowntime: rec.CurrentDowntime,
		LongDowntime:    rec.CumulativeDowntime,
		NumHits:         rec.HitCount,
	}
	if rec.HasTransition() {
		s := rec.LastTransition.Format(time.RFC3339)
		p.LastDown = &s
	}
	return json.Marshal(Payload{Press: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
