package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/press-sensor/internal/logic"
	"github.com/sweeney/press-sensor/internal/registry"
	"github.com/sweeney/press-sensor/internal/upload"
)

func testItem() upload.Item {
	return upload.Item{
		ID: "6f1c2c8e-4c1a-4b59-9b0e-0d8b6a3e2f10",
		Record: logic.Record{
			Timestamp:          time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
			Kind:               logic.KindDown,
			LongRate:           8,
			CurrentDowntime:    20,
			CumulativeDowntime: 45,
			LastTransition:     time.Date(2026, 3, 4, 9, 59, 40, 0, time.UTC),
			HitCount:           7,
		},
		Device: registry.Device{HardwareID: "b827eb000001", Location: "plant-1", Equipment: "press-3"},
	}
}

func TestSendInsertsRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newWithDB(sqlx.NewDb(db, "sqlmock"))
	item := testItem()

	mock.ExpectExec("INSERT INTO press_records").
		WithArgs(
			item.ID, "plant-1", "press-3", item.Record.Timestamp, true,
			0.0, 8.0, 20.0, 45.0,
			sql.NullTime{Time: item.Record.LastTransition, Valid: true},
			7,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Send(context.Background(), item))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendNullLastDown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newWithDB(sqlx.NewDb(db, "sqlmock"))
	item := testItem()
	item.Record.LastTransition = time.Time{}

	mock.ExpectExec("INSERT INTO press_records").
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Send(context.Background(), item))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendWrapsExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newWithDB(sqlx.NewDb(db, "sqlmock"))
	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO press_records").WillReturnError(boom)

	err = s.Send(context.Background(), testItem())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), testItem().ID)
}

func TestSendBeforeConnect(t *testing.T) {
	s := New(Config{URL: "postgres://unused"})

	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Send(context.Background(), testItem()), ErrNotConnected)
}

func TestRunRetriesUntilConnected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	s := New(Config{RetryInterval: time.Millisecond})
	attempts := 0
	s.open = func(context.Context) (*sqlx.DB, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return sqlx.NewDb(db, "sqlmock"), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 3, attempts)
	assert.True(t, s.Connected())

	require.NoError(t, s.Close())
	assert.False(t, s.Connected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Config{RetryInterval: time.Hour})
	s.open = func(context.Context) (*sqlx.DB, error) {
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, s.Connected())
}

func TestRunAfterCloseDoesNotConnect(t *testing.T) {
	s := New(Config{RetryInterval: time.Millisecond})
	opened := false
	s.open = func(context.Context) (*sqlx.DB, error) {
		opened = true
		return nil, errors.New("unexpected open")
	}
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Run(context.Background()), ErrClosed)
	assert.False(t, opened)
	assert.False(t, s.Connected())
}

func TestCloseDuringConnectReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	s := New(Config{RetryInterval: time.Millisecond})
	s.open = func(context.Context) (*sqlx.DB, error) {
		// Shutdown lands while the connection is being set up.
		require.NoError(t, s.Close())
		return sqlx.NewDb(db, "sqlmock"), nil
	}

	assert.ErrorIs(t, s.Run(context.Background()), ErrClosed)
	assert.False(t, s.Connected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseWhenNotConnected(t *testing.T) {
	assert.NoError(t, New(Config{}).Close())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "00001_press_records.sql", entries[0].Name())
}
