package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Press         *PressJSON   `json:"press,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Device        DeviceJSON   `json:"device"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Database      DBStatus     `json:"database"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PressJSON is the newest record.
type PressJSON struct {
	Timestamp       string  `json:"timestamp"`
	ShortSPM        float64 `json:"short_spm"`
	LongSPM         float64 `json:"long_spm"`
	CurrentDowntime float64 `json:"current_downtime"`
	LongDowntime    float64 `json:"long_downtime"`
	LastDown        *string `json:"last_down"`
	NumHits         int     `json:"num_hits"`
}

// DeviceJSON identifies the sensor.
type DeviceJSON struct {
	HardwareID string `json:"hardware_id"`
	Location   string `json:"location"`
	Equipment  string `json:"equipment"`
	Timezone   string `json:"timezone"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// DBStatus reports database connection state.
type DBStatus struct {
	Connected bool `json:"connected"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Hits     int `json:"hits"`
	Downs    int `json:"downs"`
	Rejected int `json:"rejected"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IdleCutoffMs     int64  `json:"idle_cutoff_ms"`
	DebounceMs       int64  `json:"debounce_ms"`
	UploadIntervalMs int64  `json:"upload_interval_ms"`
	HeartbeatMs      int64  `json:"heartbeat_ms"`
	Retention        string `json:"retention"`
	ShortRate        string `json:"short_rate"`
	LongRate         string `json:"long_rate"`
	Transitions      string `json:"transitions"`
	Broker           string `json:"broker"`
	HTTPPort         string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         snap.State(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Device: DeviceJSON{
			HardwareID: snap.Device.HardwareID,
			Location:   snap.Device.Location,
			Equipment:  snap.Device.Equipment,
			Timezone:   snap.Device.Timezone,
		},
		MQTT:     MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Database: DBStatus{Connected: snap.StoreConnected},
		Counts: CountsJSON{
			Hits:     snap.Counts.Hits,
			Downs:    snap.Counts.Downs,
			Rejected: snap.Counts.Rejected,
		},
		Config: ConfigJSON{
			IdleCutoffMs:     snap.Config.IdleCutoffMs,
			DebounceMs:       snap.Config.DebounceMs,
			UploadIntervalMs: snap.Config.UploadIntervalMs,
			HeartbeatMs:      snap.Config.HeartbeatMs,
			Retention:        snap.Config.Retention,
			ShortRate:        snap.Config.ShortRate,
			LongRate:         snap.Config.LongRate,
			Transitions:      snap.Config.Transitions,
			Broker:           snap.Config.Broker,
			HTTPPort:         snap.Config.HTTPPort,
		},
	}

	if snap.HasRecord {
		rec := snap.Record
		p := &PressJSON{
			Timestamp:       rec.Timestamp.Format(time.RFC3339),
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
		inner.Press = p
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// Summary returns the status fields without serialising them.
func Summary(snap Snapshot) StatusInner {
	return buildInner(snap)
}
