package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/embedprovider"
	"github.com/vectorpipe/embedworker/internal/resilience"
)

func newMockSupervisor(t *testing.T, cfg Config) (*Supervisor, sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	cat := catalog.NewCatalog(sqlxDB)
	factory := embedprovider.NewFactory(nil)
	s := New(sqlxDB, cat, factory, nil, nil, cfg, nil)
	return s, mock, sqlxDB
}

func TestResolveIDs_ExplicitListSkipsCatalog(t *testing.T) {
	s, mock, db := newMockSupervisor(t, Config{VectorizerIDs: []int64{3, 1, 2}})
	defer db.Close()

	ids, err := s.resolveIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveIDs_FallsBackToCatalogListing(t *testing.T) {
	s, mock, db := newMockSupervisor(t, Config{})
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM ai.vectorizer WHERE NOT disabled").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	ids, err := s.resolveIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCycle_UnknownProviderErrorsDoNotStopCycleByDefault(t *testing.T) {
	s, mock, db := newMockSupervisor(t, Config{VectorizerIDs: []int64{1, 2}})
	defer db.Close()

	for _, id := range []int64{1, 2} {
		mock.ExpectQuery("SELECT id, source_schema").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "source_schema", "source_table", "queue_schema", "queue_table",
				"dlq_schema", "dlq_table", "target_schema", "target_table", "trigger_name",
				"primary_key", "config", "disabled",
			}).AddRow(id, "public", "documents", "ai", "_vectorizer_q", "ai", "_vectorizer_q_dlq",
				"public", "documents_embeddings", "trg",
				[]byte(`[{"attname":"id","typname":"int8"}]`),
				[]byte(`{"embedding":{"implementation":"nonexistent"}}`), false))
	}

	summary, err := s.runCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.VectorizersRun)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCycle_ExitOnErrorStopsAtFirstFailure(t *testing.T) {
	s, mock, db := newMockSupervisor(t, Config{VectorizerIDs: []int64{1, 2}, ExitOnError: true})
	defer db.Close()

	mock.ExpectQuery("SELECT id, source_schema").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_schema", "source_table", "queue_schema", "queue_table",
			"dlq_schema", "dlq_table", "target_schema", "target_table", "trigger_name",
			"primary_key", "config", "disabled",
		}).AddRow(int64(1), "public", "documents", "ai", "_vectorizer_q", "ai", "_vectorizer_q_dlq",
			"public", "documents_embeddings", "trg",
			[]byte(`[{"attname":"id","typname":"int8"}]`),
			[]byte(`{"embedding":{"implementation":"nonexistent"}}`), false))

	_, err := s.runCycle(context.Background())
	assert.Error(t, err)
}

func TestDueNow_NoCronExpressionAlwaysDue(t *testing.T) {
	s, _, db := newMockSupervisor(t, Config{})
	defer db.Close()

	v := &catalog.Vectorizer{ID: 1}
	assert.True(t, s.dueNow(v))
	assert.True(t, s.dueNow(v))
}

func TestDueNow_CronExpressionSkipsUntilNextFireTime(t *testing.T) {
	s, _, db := newMockSupervisor(t, Config{})
	defer db.Close()

	v := &catalog.Vectorizer{ID: 2, Config: catalog.Config{Scheduling: catalog.SchedulingConfig{CronExpression: "* * * * *"}}}

	// First observation schedules the next run but does not fire.
	assert.False(t, s.dueNow(v))

	// Force the cached next-run time into the past so the second
	// observation fires without a real wall-clock wait.
	s.scheduleMu.Lock()
	s.nextRun[v.ID] = timeNow().Add(-time.Minute)
	s.scheduleMu.Unlock()

	assert.True(t, s.dueNow(v))
}

func TestDueNow_InvalidCronExpressionRunsUnconditionally(t *testing.T) {
	s, _, db := newMockSupervisor(t, Config{})
	defer db.Close()

	v := &catalog.Vectorizer{ID: 3, Config: catalog.Config{Scheduling: catalog.SchedulingConfig{CronExpression: "not-a-cron-expr"}}}
	assert.True(t, s.dueNow(v))
}

func TestRun_OnceModeRunsExactlyOneCycle(t *testing.T) {
	fastRetry := resilience.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	s, _, db := newMockSupervisor(t, Config{VectorizerIDs: nil, Once: true, PollInterval: time.Millisecond, RetryConfig: fastRetry})
	defer db.Close()
	// No vectorizer ids configured and the catalog listing query is never
	// stubbed, so resolveIDs will error; Once mode must still return after
	// exactly one cycle rather than retrying forever.
	err := s.Run(context.Background())
	assert.Error(t, err)
}
