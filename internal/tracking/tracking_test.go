package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTracker(t *testing.T) (*Tracker, sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return New(sqlxDB, nil), mock, sqlxDB
}

func TestTracker_Register(t *testing.T) {
	tr, mock, db := newMockTracker(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO ai.vectorizer_worker").
		WithArgs(tr.WorkerID()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tr.Register(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_Deregister(t *testing.T) {
	tr, mock, db := newMockTracker(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM ai.vectorizer_worker WHERE id = \\$1").
		WithArgs(tr.WorkerID()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tr.Deregister(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_Heartbeat_StopsAfterThreeConsecutiveFailures(t *testing.T) {
	tr, mock, db := newMockTracker(t)
	defer db.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectExec("UPDATE ai.vectorizer_worker").
			WillReturnError(errors.New("connection reset"))
	}

	done := make(chan struct{})
	go func() {
		tr.Heartbeat(context.Background(), time.Millisecond, func() (int64, int64) { return 1, 1 })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop after repeated failures")
	}

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_Heartbeat_StopsOnContextCancel(t *testing.T) {
	tr, mock, db := newMockTracker(t)
	defer db.Close()

	mock.ExpectExec("UPDATE ai.vectorizer_worker").WillReturnResult(sqlmock.NewResult(0, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Heartbeat(ctx, time.Millisecond, func() (int64, int64) { return 0, 0 })
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop on context cancel")
	}
}

func TestProgress_AddBatchAccumulates(t *testing.T) {
	var p Progress
	p.AddBatch(3)
	p.AddBatch(5)
	rows, batches := p.Snapshot()
	assert.Equal(t, int64(8), rows)
	assert.Equal(t, int64(2), batches)
}
