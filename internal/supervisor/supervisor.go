// Package supervisor implements the Supervisor's outer loop over
// vectorizers (spec §3.F): resolving which vectorizer ids to run this
// cycle (an explicit list or every catalog-enabled id, randomized),
// draining each one's queue through a Worker, and sleeping an
// interruptible poll interval between cycles. Catalog and connection
// failures retry with backoff rather than killing the process, the way
// rag-loader's JobProcessor tolerates a transient database outage.
package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	cron "github.com/robfig/cron/v3"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/embedprovider"
	"github.com/vectorpipe/embedworker/internal/errs"
	"github.com/vectorpipe/embedworker/internal/executor"
	"github.com/vectorpipe/embedworker/internal/metrics"
	"github.com/vectorpipe/embedworker/internal/observability"
	"github.com/vectorpipe/embedworker/internal/resilience"
	"github.com/vectorpipe/embedworker/internal/tracking"
	"github.com/vectorpipe/embedworker/internal/worker"
)

// Config controls one Supervisor's run loop.
type Config struct {
	// VectorizerIDs, when non-empty, restricts the loop to exactly these
	// ids. Empty means "every enabled vectorizer" (spec §4.F).
	VectorizerIDs []int64
	PollInterval  time.Duration
	Once          bool
	ExitOnError   bool

	BatchSize   int
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	RetryConfig resilience.RetryConfig
}

// CycleSummary aggregates one pass over every resolved vectorizer.
type CycleSummary struct {
	VectorizersRun int
	worker.Summary
}

// Supervisor owns the catalog connection and factory needed to build an
// Executor/Worker pair per vectorizer on demand.
type Supervisor struct {
	db       *sqlx.DB
	catalog  *catalog.Catalog
	factory  *embedprovider.Factory
	progress *tracking.Progress
	metrics  *metrics.Metrics
	cfg      Config
	logger   observability.Logger

	scheduleMu sync.Mutex
	nextRun    map[int64]time.Time
}

// New constructs a Supervisor. progress may be nil when the caller has no
// Worker Tracking heartbeat running (e.g. a one-off --once invocation). m
// may be nil to disable metrics recording (e.g. in tests).
func New(db *sqlx.DB, cat *catalog.Catalog, factory *embedprovider.Factory, progress *tracking.Progress, m *metrics.Metrics, cfg Config, logger observability.Logger) *Supervisor {
	if logger == nil {
		logger = observability.NoopLogger{}
	}
	if cfg.RetryConfig == (resilience.RetryConfig{}) {
		cfg.RetryConfig = resilience.DefaultRetryConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	return &Supervisor{
		db: db, catalog: cat, factory: factory, progress: progress, metrics: m, cfg: cfg,
		logger: logger.WithPrefix("supervisor"), nextRun: make(map[int64]time.Time),
	}
}

// Run executes cycles until ctx is cancelled or, in --once mode, after the
// first cycle completes. It returns the first fatal error encountered when
// cfg.ExitOnError is set; otherwise fatal errors are logged and the loop
// keeps polling.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		summary, err := s.runCycle(ctx)
		if err != nil {
			s.logger.Error("cycle failed", map[string]interface{}{"error": err.Error()})
			if s.cfg.ExitOnError {
				return err
			}
		} else {
			s.logger.Info("cycle complete", map[string]interface{}{
				"vectorizers_run": summary.VectorizersRun,
				"batches_run":     summary.BatchesRun,
				"rows_embedded":   summary.RowsEmbedded,
			})
		}

		if s.cfg.Once {
			return err
		}

		if !sleepInterruptible(ctx, s.cfg.PollInterval) {
			return nil
		}
	}
}

// runCycle resolves the current set of vectorizer ids and drains each one
// in turn.
func (s *Supervisor) runCycle(ctx context.Context) (CycleSummary, error) {
	var out CycleSummary

	ids, err := s.resolveIDs(ctx)
	if err != nil {
		return out, err
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		v, err := s.loadVectorizer(ctx, id)
		if err != nil {
			s.logger.Error("loading vectorizer failed, skipping", map[string]interface{}{"vectorizer_id": id, "error": err.Error()})
			continue
		}

		if !s.dueNow(v) {
			continue
		}

		result, err := s.runVectorizer(ctx, v)
		if err != nil {
			s.logger.Error("vectorizer run failed", map[string]interface{}{"vectorizer_id": id, "error": err.Error()})
			if s.cfg.ExitOnError {
				return out, err
			}
			continue
		}

		out.VectorizersRun++
		out.BatchesRun += result.BatchesRun
		out.RowsEmbedded += result.RowsEmbedded
		out.Succeeded += result.Succeeded
		out.Requeued += result.Requeued
		out.DeadLettered += result.DeadLettered
	}
	return out, nil
}

// resolveIDs returns the explicit id list if one was configured, otherwise
// every enabled catalog id, randomized (spec §4.F: no vectorizer should be
// starved by always running in the same order).
func (s *Supervisor) resolveIDs(ctx context.Context) ([]int64, error) {
	if len(s.cfg.VectorizerIDs) > 0 {
		ids := make([]int64, len(s.cfg.VectorizerIDs))
		copy(ids, s.cfg.VectorizerIDs)
		return ids, nil
	}

	var ids []int64
	err := resilience.RetryWithBackoff(ctx, s.cfg.RetryConfig, s.logger, func() error {
		var listErr error
		ids, listErr = s.catalog.ListIDs(ctx)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	shuffle(ids)
	return ids, nil
}

func (s *Supervisor) loadVectorizer(ctx context.Context, id int64) (*catalog.Vectorizer, error) {
	var v *catalog.Vectorizer
	err := resilience.RetryWithBackoff(ctx, s.cfg.RetryConfig, s.logger, func() error {
		got, getErr := s.catalog.Get(ctx, id)
		v = got
		return getErr
	})
	return v, err
}

// runVectorizer builds a fresh Executor/Worker pair for v and drains its
// queue once.
func (s *Supervisor) runVectorizer(ctx context.Context, v *catalog.Vectorizer) (worker.Summary, error) {
	embedder, err := s.factory.Build(ctx, v.Config.Embedding)
	if err != nil {
		return worker.Summary{}, err
	}

	batchSize, concurrency, maxAttempts := s.cfg.BatchSize, s.cfg.Concurrency, s.cfg.MaxAttempts
	if p := v.Config.Processing; p.BatchSize > 0 {
		batchSize = p.BatchSize
	}
	if p := v.Config.Processing; p.Concurrency > 0 {
		concurrency = p.Concurrency
	}
	if p := v.Config.Processing; p.MaxAttempts > 0 {
		maxAttempts = p.MaxAttempts
	}

	ex, err := executor.New(s.db, v, embedder, s.logger, batchSize, maxAttempts, s.cfg.BackoffBase, s.cfg.BackoffCap)
	if err != nil {
		return worker.Summary{}, err
	}

	w := worker.New(ex, concurrency, s.logger)
	start := time.Now()
	summary, err := w.Run(ctx)
	if s.progress != nil {
		s.progress.AddBatch(int64(summary.RowsEmbedded))
	}
	if s.metrics != nil {
		s.metrics.RecordRun(v.ID, summary.BatchesRun, summary.Succeeded, summary.Requeued, summary.DeadLettered, summary.RowsEmbedded, time.Since(start).Seconds())
		if err != nil {
			var werr *errs.WorkerError
			if errors.As(err, &werr) {
				s.metrics.RecordBatchError(v.ID, string(werr.Kind))
			}
		}
	}
	return summary, err
}

// dueNow reports whether v's optional cron_expression schedule (spec §3
// catalog config: "scheduling", adapted with robfig/cron/v3) permits
// running now, advancing the cached next-run time when it does. A
// vectorizer with no cron expression is always due; the Supervisor's own
// PollInterval already governs how often it gets reconsidered.
func (s *Supervisor) dueNow(v *catalog.Vectorizer) bool {
	expr := v.Config.Scheduling.CronExpression
	if expr == "" {
		return true
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		s.logger.Warn("invalid cron_expression, running unconditionally", map[string]interface{}{
			"vectorizer_id": v.ID, "cron_expression": expr, "error": err.Error(),
		})
		return true
	}

	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()

	now := timeNow()
	next, seen := s.nextRun[v.ID]
	if !seen {
		// First time this vectorizer is considered: schedule its next run
		// and don't execute immediately, matching a standard cron daemon.
		s.nextRun[v.ID] = schedule.Next(now)
		return false
	}
	if now.Before(next) {
		return false
	}
	s.nextRun[v.ID] = schedule.Next(now)
	return true
}

// timeNow is the single place the Supervisor reads wall-clock time, kept
// as a var so tests can override it without sleeping real seconds.
var timeNow = time.Now

func shuffle(ids []int64) {
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
}

// sleepInterruptible sleeps d or returns false early if ctx is cancelled.
func sleepInterruptible(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
