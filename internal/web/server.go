// Package web provides the HTTP dashboard for the press-sensor daemon.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/status"
)

// HistorySource supplies the retained records, oldest first.
type HistorySource interface {
	History() []logic.Record
}

// Options wires optional endpoints. Nil fields disable them.
type Options struct {
	History   HistorySource
	Metrics   http.Handler
	Hub       *Hub
	AccessLog io.Writer
}

// Server serves the dashboard over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{tracker: tracker, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if opts.History != nil {
		r.HandleFunc("/history.json", s.handleHistory).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.Hub != nil {
		r.HandleFunc("/ws", opts.Hub.HandleWS)
	}

	var h http.Handler = r
	if opts.AccessLog != nil {
		h = handlers.LoggingHandler(opts.AccessLog, r)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap, s.opts.Hub != nil)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	records := s.opts.History.History()
	out := make([]RecordJSON, len(records))
	for i, rec := range records {
		out[i] = NewRecordJSON(rec)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// RecordJSON is the dashboard's view of one record.
type RecordJSON struct {
	Timestamp       string  `json:"timestamp"`
	Kind            string  `json:"kind"`
	State           string  `json:"state"`
	ShortSPM        float64 `json:"short_spm"`
	LongSPM         float64 `json:"long_spm"`
	CurrentDowntime float64 `json:"current_downtime"`
	LongDowntime    float64 `json:"long_downtime"`
	LastDown        *string `json:"last_down"`
	NumHits         int     `json:"num_hits"`
}

// NewRecordJSON converts rec for the dashboard.
func NewRecordJSON(rec logic.Record) RecordJSON {
	out := RecordJSON{
		Timestamp:       rec.Timestamp.Format(time.RFC3339),
		Kind:            string(rec.Kind),
		State:           string(rec.State()),
		ShortSPM:        rec.ShortRate,
		LongSPM:         rec.LongRate,
		CurrentDowntime: rec.CurrentDowntime,
		LongDowntime:    rec.CumulativeDowntime,
		NumHits:         rec.HitCount,
	}
	if rec.HasTransition() {
		s := rec.LastTransition.Format(time.RFC3339)
		out.LastDown = &s
	}
	return out
}

// RecordMessage wraps rec for broadcast to dashboard clients.
func RecordMessage(rec logic.Record) Message {
	return Message{Type: "record", Data: NewRecordJSON(rec)}
}
