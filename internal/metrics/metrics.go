// Package metrics exposes press state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/press-sensor/internal/logic"
)

const namespace = "press"

// Recorder mirrors processor output into gauges and counters.
// It registers on its own registry so tests can create as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	ShortSPM           prometheus.Gauge
	LongSPM            prometheus.Gauge
	CurrentDowntime    prometheus.Gauge
	CumulativeDowntime prometheus.Gauge
	Down               prometheus.Gauge
	HitsInWindow       prometheus.Gauge
	HistoryLength      prometheus.Gauge

	Events   *prometheus.CounterVec
	Rejected prometheus.Counter
	Uploads  *prometheus.CounterVec
}

// New creates a Recorder with Go and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ShortSPM: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "short_spm",
			Help:      "Strokes per minute over the short window",
		}),
		LongSPM: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "long_spm",
			Help:      "Strokes per minute over the long window",
		}),
		CurrentDowntime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_downtime_seconds",
			Help:      "Length of the down run in progress",
		}),
		CumulativeDowntime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cumulative_downtime_seconds",
			Help:      "Downtime accrued inside the retention window",
		}),
		Down: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "down",
			Help:      "1 when the press is idle, 0 when running",
		}),
		HitsInWindow: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hits_in_window",
			Help:      "Hits retained in the history window",
		}),
		HistoryLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_records",
			Help:      "Records retained in the history window",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Processed events by kind",
		}, []string{"kind"}),
		Rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events rejected as out of order",
		}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by result",
		}, []string{"result"}),
	}
}

// ObserveEvent counts one processed event.
func (r *Recorder) ObserveEvent(kind logic.Kind) {
	r.Events.WithLabelValues(string(kind)).Inc()
}

// SetLatest updates the gauges from the newest record. historyLen and
// cumulative come from the processor, since eviction changes them without
// producing a record. A zero rec clears the per-record gauges.
func (r *Recorder) SetLatest(rec logic.Record, historyLen int, cumulative float64) {
	r.ShortSPM.Set(rec.ShortRate)
	r.LongSPM.Set(rec.LongRate)
	r.CurrentDowntime.Set(rec.CurrentDowntime)
	r.CumulativeDowntime.Set(cumulative)
	r.HitsInWindow.Set(float64(rec.HitCount))
	r.HistoryLength.Set(float64(historyLen))
	if rec.PressOff() {
		r.Down.Set(1)
	} else {
		r.Down.Set(0)
	}
}

// ObserveRejected counts an out-of-order event.
func (r *Recorder) ObserveRejected() {
	r.Rejected.Inc()
}

// ObserveUpload counts one upload round; accepted is the number of sinks
// that took the record.
func (r *Recorder) ObserveUpload(accepted int) {
	if accepted > 0 {
		r.Uploads.WithLabelValues("ok").Inc()
	} else {
		r.Uploads.WithLabelValues("failed").Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
