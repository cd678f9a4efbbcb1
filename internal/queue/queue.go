// Package queue implements the Queue Protocol of spec §3.A: claiming rows
// for processing, requeueing failures with exponential backoff, marking
// rows succeeded, and counting pending work.
//
// The claim query's FOR UPDATE SKIP LOCKED plus per-row transaction-scoped
// advisory lock is grounded on mycelian-ai-mycelian-memory's
// internal/outbox.Worker.leaseBatch, generalized from a single fixed
// outbox table to the per-vectorizer queue table named in the catalog.
package queue

import (
	"context"
	"hash/fnv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/errs"
)

// Entry is one claimed queue row joined against its source row, carrying
// the primary key as a JSON document since the key is composite and
// vectorizer-defined (spec §3.A).
type Entry struct {
	QueueID  int64
	PK       map[string]interface{}
	Attempts int
	// SourceRow is nil when the source row has been deleted since the row
	// was queued (a tombstone, spec §3.A I2): the Executor must delete any
	// existing embeddings for this PK instead of re-embedding.
	SourceRow map[string]interface{}
}

// Queue implements claim/requeue/succeed/pendingCount against one
// vectorizer's queue table.
type Queue struct {
	db  *sqlx.DB
	v   *catalog.Vectorizer
}

// New constructs a Queue bound to vectorizer v's queue and source tables.
func New(db *sqlx.DB, v *catalog.Vectorizer) *Queue {
	return &Queue{db: db, v: v}
}

// advisoryLockKey derives a stable bigint lock key from the vectorizer id
// and a row's primary key, so concurrent workers claiming from the same
// queue table never double-process one logical row even across
// overlapping SKIP LOCKED scans (spec §3.A: "advisory locks").
func advisoryLockKey(vectorizerID int64, pk map[string]interface{}) (int64, error) {
	h := fnv.New64a()
	fmt.Fprintf(h, "vectorizer:%d:", vectorizerID)
	encoded, err := json.Marshal(pk)
	if err != nil {
		return 0, fmt.Errorf("encoding pk for advisory lock: %w", err)
	}
	h.Write(encoded)
	return int64(h.Sum64()), nil
}

// Claim locks and returns up to batchSize claimable rows within tx: queue
// rows not already locked by another worker, left-joined against the
// source table so tombstoned rows (deleted since being queued) still come
// back with SourceRow == nil rather than being silently skipped.
func (q *Queue) Claim(ctx context.Context, tx *sqlx.Tx, batchSize int) ([]Entry, error) {
	selectSQL := fmt.Sprintf(`
SELECT id, pk, attempts
FROM %s
WHERE retry_after IS NULL OR retry_after <= now()
ORDER BY queued_at ASC
FOR UPDATE SKIP LOCKED
LIMIT $1`, q.v.Queue().String())

	rows, err := tx.QueryxContext(ctx, selectSQL, batchSize)
	if err != nil {
		return nil, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, fmt.Errorf("claiming queue rows: %w", err))
	}
	defer rows.Close()

	type rawRow struct {
		ID       int64  `db:"id"`
		PKJSON   []byte `db:"pk"`
		Attempts int    `db:"attempts"`
	}

	var claimed []Entry
	// survivorIdx maps a pk's dedupe key to its position in claimed once a
	// locked survivor has been chosen for it; duplicateIDs accumulates
	// every other locked queue row id sharing that pk, to be deleted
	// after the scan (spec §4.A step 3).
	survivorIdx := make(map[string]int)
	duplicateIDs := make(map[string][]int64)

	for rows.Next() {
		var raw rawRow
		if err := rows.StructScan(&raw); err != nil {
			return nil, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, fmt.Errorf("scanning queue row: %w", err))
		}
		var pk map[string]interface{}
		if err := json.Unmarshal(raw.PKJSON, &pk); err != nil {
			return nil, errs.New(errs.KindLoading, errs.StepLoading, fmt.Errorf("malformed queue pk: %w", err)).WithPK(nil)
		}

		dedupeKey := string(raw.PKJSON)
		if _, ok := survivorIdx[dedupeKey]; ok {
			duplicateIDs[dedupeKey] = append(duplicateIDs[dedupeKey], raw.ID)
			continue
		}

		lockKey, err := advisoryLockKey(q.v.ID, pk)
		if err != nil {
			return nil, errs.New(errs.KindLoading, errs.StepLoading, err).WithPK(pk)
		}
		var acquired bool
		if err := tx.GetContext(ctx, &acquired, "SELECT pg_try_advisory_xact_lock($1)", lockKey); err != nil {
			return nil, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, fmt.Errorf("acquiring advisory lock: %w", err))
		}
		if !acquired {
			continue
		}

		claimed = append(claimed, Entry{QueueID: raw.ID, PK: pk, Attempts: raw.Attempts})
		survivorIdx[dedupeKey] = len(claimed) - 1
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, err)
	}

	// Collapse duplicate queue entries for the same locked pk onto their
	// survivor: delete the extras and bump the survivor's attempts so a
	// row queued repeatedly before its first claim doesn't silently get
	// more retry budget than a row queued once (spec §4.A step 3).
	for dedupeKey, dupeIDs := range duplicateIDs {
		idx := survivorIdx[dedupeKey]
		survivor := &claimed[idx]

		deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", q.v.Queue().String())
		if _, err := tx.ExecContext(ctx, deleteSQL, pq.Array(dupeIDs)); err != nil {
			return nil, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, fmt.Errorf("deleting duplicate queue rows: %w", err)).WithPK(survivor.PK)
		}

		updateSQL := fmt.Sprintf("UPDATE %s SET attempts = attempts + 1 WHERE id = $1", q.v.Queue().String())
		if _, err := tx.ExecContext(ctx, updateSQL, survivor.QueueID); err != nil {
			return nil, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, fmt.Errorf("updating survivor attempts: %w", err)).WithPK(survivor.PK)
		}
		survivor.Attempts++
	}

	if err := q.loadSourceRows(ctx, tx, claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

// loadSourceRows fills in Entry.SourceRow for each claimed row, leaving it
// nil for rows whose source row no longer exists.
func (q *Queue) loadSourceRows(ctx context.Context, tx *sqlx.Tx, entries []Entry) error {
	pkCols := q.v.PKColumnNames()
	for i := range entries {
		whereClauses := make([]string, len(pkCols))
		args := make([]interface{}, len(pkCols))
		for j, col := range pkCols {
			whereClauses[j] = fmt.Sprintf("%s = $%d", col, j+1)
			args[j] = entries[i].PK[col]
		}
		selectSQL := fmt.Sprintf("SELECT * FROM %s WHERE %s", q.v.Source().String(), joinAnd(whereClauses))

		rows, err := tx.QueryxContext(ctx, selectSQL, args...)
		if err != nil {
			return errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, fmt.Errorf("loading source row: %w", err)).WithPK(entries[i].PK)
		}
		if rows.Next() {
			row := make(map[string]interface{})
			if err := rows.MapScan(row); err != nil {
				rows.Close()
				return errs.New(errs.KindLoading, errs.StepLoading, err).WithPK(entries[i].PK)
			}
			entries[i].SourceRow = row
		}
		rows.Close()
	}
	return nil
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

// BackoffDelay computes the exponential backoff delay for a given attempt
// count, capped at cap (spec §3.A: base 30s, cap 30m).
func BackoffDelay(attempts int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if cap <= 0 {
		cap = 30 * time.Minute
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	return delay
}

// RequeueWithBackoff increments attempts and schedules the row for
// reclaiming after an exponential backoff, or moves it to the dead-letter
// table once maxAttempts is reached (spec §3.A).
func (q *Queue) RequeueWithBackoff(ctx context.Context, tx *sqlx.Tx, e Entry, failureStep errs.Step, cause error, maxAttempts int, base, cap time.Duration) error {
	nextAttempts := e.Attempts + 1
	if nextAttempts >= maxAttempts {
		return q.deadLetter(ctx, tx, e, failureStep, cause)
	}

	delay := BackoffDelay(nextAttempts, base, cap)
	updateSQL := fmt.Sprintf(`
UPDATE %s SET attempts = $1, retry_after = now() + $2::interval
WHERE id = $3`, q.v.Queue().String())
	if _, err := tx.ExecContext(ctx, updateSQL, nextAttempts, fmt.Sprintf("%d seconds", int(delay.Seconds())), e.QueueID); err != nil {
		return errs.New(errs.KindDatabaseUnavailable, errs.StepWriting, fmt.Errorf("requeueing row: %w", err)).WithPK(e.PK)
	}
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, tx *sqlx.Tx, e Entry, failureStep errs.Step, cause error) error {
	pkJSON, err := json.Marshal(e.PK)
	if err != nil {
		return errs.New(errs.KindWriting, errs.StepWriting, err).WithPK(e.PK)
	}

	insertSQL := fmt.Sprintf(`
INSERT INTO %s (pk, attempts, failure_step, error_message, dead_lettered_at)
VALUES ($1, $2, $3, $4, now())`, q.v.DLQ().String())
	if _, err := tx.ExecContext(ctx, insertSQL, pkJSON, e.Attempts+1, string(failureStep), causeMessage(cause)); err != nil {
		return errs.New(errs.KindDatabaseUnavailable, errs.StepWriting, fmt.Errorf("dead-lettering row: %w", err)).WithPK(e.PK)
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE id = $1", q.v.Queue().String())
	if _, err := tx.ExecContext(ctx, deleteSQL, e.QueueID); err != nil {
		return errs.New(errs.KindDatabaseUnavailable, errs.StepWriting, fmt.Errorf("removing dead-lettered row from queue: %w", err)).WithPK(e.PK)
	}
	return nil
}

func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Succeed removes the given queue rows after their embeddings have been
// persisted (spec §3.A).
func (q *Queue) Succeed(ctx context.Context, tx *sqlx.Tx, queueIDs []int64) error {
	if len(queueIDs) == 0 {
		return nil
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", q.v.Queue().String())
	if _, err := tx.ExecContext(ctx, deleteSQL, pq.Array(queueIDs)); err != nil {
		return errs.New(errs.KindDatabaseUnavailable, errs.StepWriting, fmt.Errorf("removing succeeded rows: %w", err))
	}
	return nil
}

// PendingCount reports how many rows remain queued. When exact is false,
// it returns a fast approximate count derived from the table's planner
// statistics instead of a full COUNT(*) scan, for use in status reporting
// where precision matters less than responsiveness.
func (q *Queue) PendingCount(ctx context.Context, exact bool) (int64, error) {
	if exact {
		var n int64
		countSQL := fmt.Sprintf("SELECT count(*) FROM %s", q.v.Queue().String())
		if err := q.db.GetContext(ctx, &n, countSQL); err != nil {
			return 0, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, err)
		}
		return n, nil
	}

	var n int64
	estSQL := `SELECT reltuples::bigint FROM pg_class WHERE oid = $1::regclass`
	if err := q.db.GetContext(ctx, &n, estSQL, q.v.Queue().String()); err != nil {
		return 0, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
