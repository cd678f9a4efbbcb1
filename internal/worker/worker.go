// Package worker implements the Worker's bounded-concurrency run loop
// (spec §3.F): repeatedly invoking the Executor against one vectorizer
// until its queue is empty, running up to Concurrency executors
// concurrently, the way rag-loader's BatchProcessor bounds batch
// concurrency with a semaphore channel.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/vectorpipe/embedworker/internal/errs"
	"github.com/vectorpipe/embedworker/internal/executor"
	"github.com/vectorpipe/embedworker/internal/observability"
)

// Summary aggregates the outcome of one Run call across every executor
// goroutine.
type Summary struct {
	BatchesRun    int
	RowsEmbedded  int
	Succeeded     int
	Requeued      int
	DeadLettered  int
}

// batchRunner is the subset of *executor.Executor the run loop depends on,
// narrowed so tests can drive it with a fake.
type batchRunner interface {
	RunBatch(ctx context.Context) (executor.Result, error)
}

// Worker drives concurrent Executor batches for one vectorizer until its
// queue is drained or a fatal error occurs.
type Worker struct {
	ex          batchRunner
	concurrency int
	logger      observability.Logger
}

// New constructs a Worker. concurrency is clamped to [1, 10] per spec §5's
// resource model.
func New(ex batchRunner, concurrency int, logger observability.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > 10 {
		concurrency = 10
	}
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	return &Worker{ex: ex, concurrency: concurrency, logger: logger.WithPrefix("worker")}
}

// Run drains the vectorizer's queue, running up to w.concurrency batches
// concurrently, and returns once every goroutine observes an empty queue
// or a fatal error. A non-fatal per-batch error (spec §7:
// DispositionPerBatch, e.g. a provider outage) is logged and that
// goroutine runs its next batch immediately, with no delay, rather than
// stopping the whole Worker.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
		fatal   error
	)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				result, err := w.ex.RunBatch(ctx)
				if err != nil {
					if errors.Is(err, errs.ErrQueueEmpty) {
						return
					}

					var werr *errs.WorkerError
					if errors.As(err, &werr) && werr.Kind.Disposition() == errs.DispositionFatal {
						mu.Lock()
						if fatal == nil {
							fatal = err
						}
						mu.Unlock()
						w.logger.Error("fatal batch error, stopping worker slot", map[string]interface{}{"slot": slot, "error": err.Error()})
						return
					}

					w.logger.Warn("batch failed, will retry", map[string]interface{}{"slot": slot, "error": err.Error()})
					continue
				}

				mu.Lock()
				summary.BatchesRun++
				summary.RowsEmbedded += result.RowsEmbedded
				summary.Succeeded += result.Succeeded
				summary.Requeued += result.Requeued
				summary.DeadLettered += result.DeadLettered
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	return summary, fatal
}
