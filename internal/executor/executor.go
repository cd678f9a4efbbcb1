// Package executor implements the Executor's nine-step batch algorithm
// (spec §3.E): claim, partition alive/tombstoned rows, delete embeddings
// for tombstones, chunk/format/embed alive rows, replace their embedding
// rows, record any per-row errors, mark rows succeeded, and commit — all
// within a single transaction per batch.
//
// The overall shape (fixed-size batches drawn from a queue, processed
// under a semaphore-bounded worker pool, one embedding client call per
// batch) is grounded on rag-loader's internal/indexer.BatchProcessor,
// adapted from its document-chunk input shape to rows drawn from the
// Queue Protocol and embedded through the Embedder interface.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/chunking"
	"github.com/vectorpipe/embedworker/internal/embedprovider"
	"github.com/vectorpipe/embedworker/internal/errs"
	"github.com/vectorpipe/embedworker/internal/observability"
	"github.com/vectorpipe/embedworker/internal/queue"
	"github.com/vectorpipe/embedworker/internal/store"
)

// Result summarizes one batch run, reported up to the Worker for its
// aggregate counters.
type Result struct {
	Claimed      int
	Succeeded    int
	DeadLettered int
	RowsEmbedded int
	Requeued     int
}

// Executor runs one batch of a vectorizer's queue to completion.
type Executor struct {
	db        *sqlx.DB
	v         *catalog.Vectorizer
	q         *queue.Queue
	s         *store.Store
	embedder  embedprovider.Embedder
	chunker   chunking.Chunker
	formatter chunking.Formatter
	logger    observability.Logger

	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
}

// New constructs an Executor for one vectorizer.
func New(db *sqlx.DB, v *catalog.Vectorizer, embedder embedprovider.Embedder, logger observability.Logger, batchSize, maxAttempts int, backoffBase, backoffCap time.Duration) (*Executor, error) {
	chunker, err := chunking.Resolve(v.Config.Chunking)
	if err != nil {
		return nil, err
	}
	formatter, err := chunking.ResolveFormatter(v.Config.Formatting)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	return &Executor{
		db: db, v: v,
		q: queue.New(db, v), s: store.New(db, v),
		embedder: embedder, chunker: chunker, formatter: formatter,
		logger:      logger.WithPrefix(fmt.Sprintf("executor.%d", v.ID)),
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
	}, nil
}

// RunBatch executes the full nine-step algorithm once. It returns
// errs.ErrQueueEmpty when there was nothing to claim, so the Worker's run
// loop can distinguish "idle" from "processed zero successfully."
func (e *Executor) RunBatch(ctx context.Context) (Result, error) {
	var result Result

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, errs.New(errs.KindDatabaseUnavailable, errs.StepLoading, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Step 1: claim.
	entries, err := e.q.Claim(ctx, tx, e.batchSize)
	if err != nil {
		return result, err
	}
	if len(entries) == 0 {
		_ = tx.Commit()
		committed = true
		return result, errs.ErrQueueEmpty
	}
	result.Claimed = len(entries)

	// Step 2: partition alive vs tombstoned.
	var alive, tombstoned []queue.Entry
	for _, e2 := range entries {
		if e2.SourceRow == nil {
			tombstoned = append(tombstoned, e2)
		} else {
			alive = append(alive, e2)
		}
	}

	// Step 3: delete embeddings for tombstoned rows.
	for _, t := range tombstoned {
		if err := e.s.DeleteEmbeddings(ctx, tx, t.PK); err != nil {
			return result, err
		}
	}

	var succeededIDs []int64
	for _, t := range tombstoned {
		succeededIDs = append(succeededIDs, t.QueueID)
	}

	// Steps 4-6: chunk, format, embed, and replace embeddings for alive rows.
	for _, a := range alive {
		rowsEmbedded, err := e.processRow(ctx, tx, a)
		if err != nil {
			werr := asWorkerError(err)
			// Step 7: record the error.
			_ = store.RecordError(ctx, tx, store.ErrorRecord{
				VectorizerID: e.v.ID, Step: werr.Step, Kind: werr.Kind, PK: a.PK, ChunkSeq: werr.ChunkID, Message: werr.Error(),
			})

			if werr.Kind.Disposition() == errs.DispositionFatal {
				return result, err
			}

			if reqErr := e.q.RequeueWithBackoff(ctx, tx, a, werr.Step, err, e.maxAttempts, e.backoffBase, e.backoffCap); reqErr != nil {
				return result, reqErr
			}
			if a.Attempts+1 >= e.maxAttempts {
				result.DeadLettered++
			} else {
				result.Requeued++
			}
			continue
		}
		result.RowsEmbedded += rowsEmbedded
		succeededIDs = append(succeededIDs, a.QueueID)
	}

	// Step 8: mark succeeded rows done.
	if err := e.q.Succeed(ctx, tx, succeededIDs); err != nil {
		return result, err
	}
	result.Succeeded = len(succeededIDs)

	// Step 9: commit.
	if err := tx.Commit(); err != nil {
		return result, errs.New(errs.KindDatabaseUnavailable, errs.StepWriting, err)
	}
	committed = true
	return result, nil
}

func (e *Executor) processRow(ctx context.Context, tx *sqlx.Tx, entry queue.Entry) (int, error) {
	payload, err := e.loadPayload(entry.SourceRow)
	if err != nil {
		return 0, err
	}

	chunks, err := e.chunker(e.v.Config.Chunking, payload)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	formatted := make([]string, len(chunks))
	for i, c := range chunks {
		text, err := e.formatter(e.v.Config.Formatting, entry.SourceRow, c)
		if err != nil {
			return 0, err
		}
		formatted[i] = text
	}

	limits := embedprovider.LimitsFor(e.embedder.Name(), e.v.Config.Embedding.MaxBatchTokens)
	batches, oversize, err := embedprovider.PlanBatches(formatted, limits)
	if err != nil {
		return 0, err
	}

	// Per spec §7, a chunk too large for the provider's batch token limit
	// is a BatchingError isolated to that one chunk (P8): it never
	// reaches Embed, and the row's other chunks still succeed.
	results := make([]embedprovider.Result, len(formatted))
	for _, idx := range oversize {
		results[idx] = embedprovider.Result{Err: errs.New(errs.KindBatching, errs.StepEmbedding,
			fmt.Errorf("chunk exceeds provider token limit")).WithChunk(chunks[idx].Seq, formatted[idx])}
	}

	for _, b := range batches {
		docs := make([]string, len(b.Indices))
		for i, idx := range b.Indices {
			docs[i] = formatted[idx]
		}
		embedded, err := e.embedder.Embed(ctx, docs)
		if err != nil {
			return 0, wrapEmbedErr(err, entry.PK)
		}
		for i, idx := range b.Indices {
			results[idx] = embedded[i]
		}
	}

	rows := make([]store.EmbeddingRow, 0, len(chunks))
	for i, c := range chunks {
		if results[i].Err != nil {
			// Per-chunk failure: record it and move on, the way a
			// per-row failure is recorded at the call site in RunBatch,
			// but without failing the row itself (spec §7 BatchingError
			// / ChunkEmbeddingError dispositions).
			werr := results[i].Err.WithPK(entry.PK)
			if recErr := store.RecordError(ctx, tx, store.ErrorRecord{
				VectorizerID: e.v.ID, Step: werr.Step, Kind: werr.Kind, PK: entry.PK, ChunkSeq: werr.ChunkID, Message: werr.Error(),
			}); recErr != nil {
				return 0, recErr
			}
			continue
		}
		rows = append(rows, store.EmbeddingRow{
			PK: entry.PK, ChunkSeq: c.Seq, ChunkText: c.Text,
			Vector: results[i].Vector, Dimensions: results[i].Dimensions,
		})
	}

	if err := e.s.ReplaceEmbeddings(ctx, tx, entry.PK, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (e *Executor) loadPayload(row map[string]interface{}) (string, error) {
	col := e.v.Config.Loading.Column
	if col == "" {
		return "", errs.New(errs.KindConfig, errs.StepLoading, fmt.Errorf("loading.column is required"))
	}
	val, ok := row[col]
	if !ok || val == nil {
		return "", nil
	}
	text, ok := val.(string)
	if !ok {
		return fmt.Sprintf("%v", val), nil
	}
	return text, nil
}

func asWorkerError(err error) *errs.WorkerError {
	var werr *errs.WorkerError
	if errors.As(err, &werr) {
		return werr
	}
	return errs.New(errs.KindChunkEmbedding, errs.StepEmbedding, err)
}

func wrapEmbedErr(err error, pk map[string]interface{}) error {
	return asWorkerError(err).WithPK(pk)
}
