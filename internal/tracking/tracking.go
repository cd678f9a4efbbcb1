// Package tracking implements Worker Tracking (spec §3.G): registering a
// worker's liveness row, periodic heartbeats, and per-batch progress
// counters, so a status view can report which vectorizers are actively
// being processed.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vectorpipe/embedworker/internal/observability"
)

// Tracker manages one worker's liveness row and heartbeat loop.
type Tracker struct {
	db       *sqlx.DB
	logger   observability.Logger
	workerID uuid.UUID

	mu               sync.Mutex
	consecutiveFails int

	stop chan struct{}
	done chan struct{}
}

// New constructs a Tracker with a freshly generated worker id.
func New(db *sqlx.DB, logger observability.Logger) *Tracker {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	return &Tracker{db: db, logger: logger.WithPrefix("tracking"), workerID: uuid.New()}
}

// WorkerID returns this process's worker identity.
func (t *Tracker) WorkerID() uuid.UUID { return t.workerID }

const insertWorkerSQL = `
INSERT INTO ai.vectorizer_worker (id, started_at, last_heartbeat_at, rows_embedded, batches_processed)
VALUES ($1, now(), now(), 0, 0)`

// Register inserts this worker's liveness row (spec §3.G: "insert worker
// row on start").
func (t *Tracker) Register(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, insertWorkerSQL, t.workerID); err != nil {
		return fmt.Errorf("tracking: registering worker: %w", err)
	}
	return nil
}

const heartbeatSQL = `
UPDATE ai.vectorizer_worker
SET last_heartbeat_at = now(), rows_embedded = $2, batches_processed = $3
WHERE id = $1`

// Heartbeat runs a periodic heartbeat loop until ctx is cancelled,
// reading current counters from countersFn each tick. After three
// consecutive heartbeat failures it stops best-effort rather than
// blocking shutdown on a database that may already be unreachable (spec
// §3.G: "3-failures-in-a-row best-effort stop").
func (t *Tracker) Heartbeat(ctx context.Context, interval time.Duration, countersFn func() (rowsEmbedded, batches int64)) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, batches := countersFn()
			if _, err := t.db.ExecContext(ctx, heartbeatSQL, t.workerID, rows, batches); err != nil {
				t.mu.Lock()
				t.consecutiveFails++
				fails := t.consecutiveFails
				t.mu.Unlock()
				t.logger.Warn("heartbeat failed", map[string]interface{}{"error": err.Error(), "consecutive_fails": fails})
				if fails >= 3 {
					t.logger.Error("heartbeat failing repeatedly, stopping heartbeat loop", nil)
					return
				}
				continue
			}
			t.mu.Lock()
			t.consecutiveFails = 0
			t.mu.Unlock()
		}
	}
}

const deregisterSQL = `DELETE FROM ai.vectorizer_worker WHERE id = $1`

// Deregister removes this worker's liveness row on graceful shutdown.
func (t *Tracker) Deregister(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, deregisterSQL, t.workerID); err != nil {
		return fmt.Errorf("tracking: deregistering worker: %w", err)
	}
	return nil
}

// Progress is the thread-safe accumulator the Supervisor adds to after
// each vectorizer run and the heartbeat reads through countersFn above.
type Progress struct {
	mu       sync.Mutex
	rows     int64
	batches  int64
}

// AddBatch records one processed batch's row count.
func (p *Progress) AddBatch(rowsEmbedded int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows += rowsEmbedded
	p.batches++
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() (rows, batches int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rows, p.batches
}
