package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/press-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateClass": func(s string) string {
		switch s {
		case "RUNNING":
			return "on"
		case "DOWN":
			return "off"
		default:
			return "unknown"
		}
	},
	"seconds": func(v float64) string {
		return (time.Duration(v) * time.Second).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Press Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #c00; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>{{.Device.Location}} / {{.Device.Equipment}}{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Press</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass .State}}">{{.State}}</td></tr>
{{with .Press}}<tr><th>Short SPM</th><td id="short-spm">{{printf "%.1f" .ShortSPM}}</td></tr>
<tr><th>Long SPM</th><td id="long-spm">{{printf "%.1f" .LongSPM}}</td></tr>
<tr><th>Current downtime</th><td id="current-downtime">{{seconds .CurrentDowntime}}</td></tr>
<tr><th>Downtime in window</th><td id="long-downtime">{{seconds .LongDowntime}}</td></tr>
<tr><th>Hits in window</th><td id="num-hits">{{.NumHits}}</td></tr>
<tr><th>Last down</th><td id="last-down">{{if .LastDown}}{{.LastDown}}{{else}}never{{end}}</td></tr>
<tr><th>Updated</th><td id="updated">{{.Timestamp}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Database</th><td class="{{if .StoreConnected}}connected{{else}}disconnected{{end}}">{{if .StoreConnected}}connected{{else}}disconnected{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Hits</th><td>{{.Counts.Hits}}</td></tr>
<tr><th>Downs</th><td>{{.Counts.Downs}}</td></tr>
<tr><th>Rejected</th><td>{{.Counts.Rejected}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Device</th><td>{{.Device.HardwareID}}</td></tr>
<tr><th>Timezone</th><td>{{.Device.Timezone}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Idle cutoff</th><td>{{.Config.IdleCutoffMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Upload</th><td>{{.Config.UploadIntervalMs}}ms</td></tr>
<tr><th>Retention</th><td>{{.Config.Retention}}</td></tr>
<tr><th>Rates</th><td>{{.Config.ShortRate}} / {{.Config.LongRate}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/history.json">History</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function set(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }
  function dur(s) {
    s = Math.floor(s);
    var m = Math.floor(s / 60);
    return m > 0 ? m + "m" + (s % 60) + "s" : s + "s";
  }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("pending", "reconnecting");
      setTimeout(connect, 5000);
    };
    ws.onerror = function() { setDot("err", "error"); };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "record") { return; }
        var r = msg.data;
        var st = document.getElementById("state");
        st.textContent = r.state;
        st.className = r.state === "RUNNING" ? "on" : r.state === "DOWN" ? "off" : "unknown";
        set("short-spm", r.short_spm.toFixed(1));
        set("long-spm", r.long_spm.toFixed(1));
        set("current-downtime", dur(r.current_downtime));
        set("long-downtime", dur(r.long_downtime));
        set("num-hits", r.num_hits);
        set("last-down", r.last_down || "never");
        set("updated", r.timestamp);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) {
	// Snapshot has Uptime() and State() methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		State  string
		Press  *status.PressJSON
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		State:    snap.State(),
		Press:    status.Summary(snap).Press,
		Live:     live,
	}
	indexTmpl.Execute(w, data)
}
