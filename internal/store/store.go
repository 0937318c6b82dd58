// Package store persists uploaded press records to PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"golang.org/x/time/rate"

	"github.com/sweeney/press-sensor/internal/upload"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotConnected is returned by Send before the database is reachable.
var ErrNotConnected = errors.New("store: database not connected")

// ErrClosed is returned by Run once Close has been called.
var ErrClosed = errors.New("store: closed")

// Config holds database settings.
type Config struct {
	URL           string        `yaml:"url"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// row is the press_records column layout.
type row struct {
	ID              string       `db:"id"`
	Location        string       `db:"location"`
	Equipment       string       `db:"equipment"`
	RecordedAt      time.Time    `db:"recorded_at"`
	PressOff        bool         `db:"press_off"`
	ShortSPM        float64      `db:"short_spm"`
	LongSPM         float64      `db:"long_spm"`
	CurrentDowntime float64      `db:"current_downtime"`
	LongDowntime    float64      `db:"long_downtime"`
	LastDown        sql.NullTime `db:"last_down"`
	NumHits         int          `db:"num_hits"`
}

func toRow(item upload.Item) row {
	rec := item.Record
	r := row{
		ID:              item.ID,
		Location:        item.Device.Location,
		Equipment:       item.Device.Equipment,
		RecordedAt:      rec.Timestamp,
		PressOff:        rec.PressOff(),
		ShortSPM:        rec.ShortRate,
		LongSPM:         rec.LongRate,
		CurrentDowntime: rec.CurrentDowntime,
		LongDowntime:    rec.CumulativeDowntime,
		NumHits:         rec.HitCount,
	}
	if rec.HasTransition() {
		r.LastDown = sql.NullTime{Time: rec.LastTransition, Valid: true}
	}
	return r
}

const insertRecord = `
	INSERT INTO press_records
	(id, location, equipment, recorded_at, press_off, short_spm, long_spm,
	 current_downtime, long_downtime, last_down, num_hits)
	VALUES
	(:id, :location, :equipment, :recorded_at, :press_off, :short_spm, :long_spm,
	 :current_downtime, :long_downtime, :last_down, :num_hits)
	ON CONFLICT (id) DO NOTHING
`

// Store writes records to Postgres. It starts disconnected; Run establishes
// the connection in the background so a missing database never blocks the
// sensor loop.
type Store struct {
	cfg  Config
	open func(ctx context.Context) (*sqlx.DB, error)

	mu     sync.RWMutex
	db     *sqlx.DB
	closed bool
}

// New creates a disconnected Store.
func New(cfg Config) *Store {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 2
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 15 * time.Second
	}
	s := &Store{cfg: cfg}
	s.open = s.connect
	return s
}

// newWithDB creates a Store that is already connected to db.
func newWithDB(db *sqlx.DB) *Store {
	s := New(Config{})
	s.db = db
	return s
}

func (s *Store) connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := Migrate(ctx, db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Run retries the connection until it succeeds, ctx is cancelled or the
// store is closed.
func (s *Store) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(s.cfg.RetryInterval), 1)
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if s.isClosed() {
			return ErrClosed
		}
		db, err := s.open(ctx)
		if err == nil {
			return s.attach(db, attempt)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("database unavailable, retrying", "attempt", attempt, "error", err)
	}
}

// attach installs db unless Close won the race, in which case db is released.
func (s *Store) attach(db *sqlx.DB, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		db.Close()
		return ErrClosed
	}
	s.db = db
	slog.Info("database connected", "attempts", attempts)
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Connected reports whether the database connection is established.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// Send implements upload.Sink.
func (s *Store) Send(ctx context.Context, item upload.Item) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return ErrNotConnected
	}
	if _, err := db.NamedExecContext(ctx, insertRecord, toRow(item)); err != nil {
		return fmt.Errorf("insert record %s: %w", item.ID, err)
	}
	return nil
}

// Close releases the database connection, if any. A connection that Run
// establishes afterwards is closed immediately.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
