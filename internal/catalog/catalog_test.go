package catalog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Get_ParsesPrimaryKeyAndConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	cat := NewCatalog(sqlxDB)

	mock.ExpectQuery("SELECT id, source_schema").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_schema", "source_table", "queue_schema", "queue_table",
			"dlq_schema", "dlq_table", "target_schema", "target_table", "trigger_name",
			"primary_key", "config", "disabled",
		}).AddRow(int64(1), "public", "documents", "ai", "_vectorizer_q_1", "ai", "_vectorizer_q_1_dlq",
			"public", "documents_embeddings", "trg_vectorizer_1",
			[]byte(`[{"attname":"id","typname":"int8"}]`),
			[]byte(`{"loading":{"implementation":"column","column":"body"},"chunking":{"implementation":"none"}}`),
			false))

	v, err := cat.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "public.documents", v.Source().String())
	assert.Equal(t, "ai._vectorizer_q_1", v.Queue().String())
	assert.Equal(t, []string{"id"}, v.PKColumnNames())
	assert.Equal(t, "body", v.Config.Loading.Column)
	assert.Equal(t, "none", v.Config.Chunking.Implementation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalog_Get_EmptyPrimaryKeyIsAnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	cat := NewCatalog(sqlxDB)

	mock.ExpectQuery("SELECT id, source_schema").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_schema", "source_table", "queue_schema", "queue_table",
			"dlq_schema", "dlq_table", "target_schema", "target_table", "trigger_name",
			"primary_key", "config", "disabled",
		}).AddRow(int64(2), "public", "documents", "ai", "_vectorizer_q_2", "ai", "_vectorizer_q_2_dlq",
			"public", "documents_embeddings", "trg_vectorizer_2",
			[]byte(`[]`), []byte(`{}`), false))

	_, err = cat.Get(context.Background(), 2)
	assert.Error(t, err)
}

func TestCatalog_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	cat := NewCatalog(sqlxDB)

	mock.ExpectQuery("SELECT id, source_schema").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "source_schema", "source_table", "queue_schema", "queue_table",
			"dlq_schema", "dlq_table", "target_schema", "target_table", "trigger_name",
			"primary_key", "config", "disabled",
		}))

	_, err = cat.Get(context.Background(), 99)
	assert.Error(t, err)
}

func TestCatalog_ListIDs_ReturnsEnabledOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	cat := NewCatalog(sqlxDB)

	mock.ExpectQuery("SELECT id FROM ai.vectorizer WHERE NOT disabled").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	ids, err := cat.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
