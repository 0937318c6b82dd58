package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/registry"
	"github.com/sweeney/press-sensor/internal/status"
)

type fakeHistory []logic.Record

func (f fakeHistory) History() []logic.Record { return f }

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		IdleCutoffMs:     10000,
		DebounceMs:       5,
		UploadIntervalMs: 30000,
		HeartbeatMs:      900000,
		Broker:           "tcp://192.168.1.200:1883",
		HTTPPort:         ":80",
	}
	device := registry.Device{HardwareID: "b827eb123456", Location: "plant-2", Equipment: "press-7", Timezone: "UTC"}
	tr := status.NewTracker(start, device, cfg)
	srv := New(":0", tr, opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t, Options{})
	tr.Update(logic.Record{
		Timestamp: time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC),
		Kind:      logic.KindHit,
		ShortRate: 12,
		HitCount:  5,
	}, true, logic.EventCounts{Hits: 5, Downs: 2})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if sj.Status.State != "RUNNING" {
		t.Errorf("State: got %q, want RUNNING", sj.Status.State)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.Status.MQTT.Broker)
	}
	if sj.Status.Counts.Hits != 5 || sj.Status.Counts.Downs != 2 {
		t.Errorf("Counts: got %+v", sj.Status.Counts)
	}
	if sj.Status.Press == nil || sj.Status.Press.ShortSPM != 12 {
		t.Errorf("Press: got %+v", sj.Status.Press)
	}
	if sj.Status.Config.IdleCutoffMs != 10000 {
		t.Errorf("Config.IdleCutoffMs: got %d, want 10000", sj.Status.Config.IdleCutoffMs)
	}
}

func TestJSONUnknownStateBeforeFirstRecord(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	json.NewDecoder(resp.Body).Decode(&sj)

	if sj.Status.State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", sj.Status.State)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t, Options{})
	tr.Update(logic.Record{Timestamp: time.Now(), Kind: logic.KindDown, CurrentDowntime: 42}, true, logic.EventCounts{})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"plant-2 / press-7", ">DOWN<", "42s"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(string(body), "new WebSocket") {
		t.Error("live script should be omitted without a hub")
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestHTMLIncludesLiveScriptWithHub(t *testing.T) {
	ts, _ := newTestServer(t, Options{Hub: NewHub()})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "new WebSocket") {
		t.Error("expected live script when hub is configured")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	ts, _ := newTestServer(t, Options{})

	for _, path := range []string{"/history.json", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != 404 {
			t.Errorf("%s: got %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	hist := fakeHistory{
		{Timestamp: base, Kind: logic.KindHit, HitCount: 1},
		{Timestamp: base.Add(20 * time.Second), Kind: logic.KindDown, LastTransition: base.Add(20 * time.Second), HitCount: 1},
	}
	ts, _ := newTestServer(t, Options{History: hist})

	resp, err := http.Get(ts.URL + "/history.json")
	if err != nil {
		t.Fatalf("GET /history.json: %v", err)
	}
	defer resp.Body.Close()

	var records []RecordJSON
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != "HIT" || records[0].LastDown != nil {
		t.Errorf("record 0: got %+v", records[0])
	}
	if records[1].State != "DOWN" || records[1].LastDown == nil || *records[1].LastDown != "2026-01-01T08:00:20Z" {
		t.Errorf("record 1: got %+v", records[1])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "press_short_spm 3\n")
	})
	ts, _ := newTestServer(t, Options{Metrics: metrics})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "press_short_spm 3") {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	ts, _ := newTestServer(t, Options{AccessLog: &buf})

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	resp.Body.Close()

	if !strings.Contains(buf.String(), "GET /index.json") {
		t.Errorf("access log missing request: %q", buf.String())
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t, Options{})

	resp1, _ := http.Get(ts.URL + "/index.json")
	var sj1 status.StatusJSON
	json.NewDecoder(resp1.Body).Decode(&sj1)
	resp1.Body.Close()
	if sj1.Status.Press != nil {
		t.Error("expected no press section initially")
	}

	tr.Update(logic.Record{Timestamp: time.Now(), Kind: logic.KindDown}, true, logic.EventCounts{Downs: 1})
	tr.SetMQTTConnected(true)

	resp2, _ := http.Get(ts.URL + "/index.json")
	var sj2 status.StatusJSON
	json.NewDecoder(resp2.Body).Decode(&sj2)
	resp2.Body.Close()

	if sj2.Status.State != "DOWN" {
		t.Errorf("State: got %q, want DOWN", sj2.Status.State)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
