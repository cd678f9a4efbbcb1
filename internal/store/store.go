// Package store implements the Executor's writes into the embedding store
// table and the error-record table, grounded on
// rag-loader's pkg/repository/vector.RepositoryImpl (pgvector column
// writes, DELETE+INSERT replace semantics for a changed row).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/errs"
)

// EmbeddingRow is one chunk's embedding, ready to persist (spec §3:
// embedding store row).
type EmbeddingRow struct {
	PK         map[string]interface{}
	ChunkSeq   int
	ChunkText  string
	Vector     []float32
	Dimensions int
}

// Store writes embedding and error rows for one vectorizer.
type Store struct {
	db *sqlx.DB
	v  *catalog.Vectorizer
}

// New constructs a Store bound to vectorizer v's target table.
func New(db *sqlx.DB, v *catalog.Vectorizer) *Store {
	return &Store{db: db, v: v}
}

func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, f := range vec {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ReplaceEmbeddings deletes any existing embedding rows for pk and inserts
// rows, as a single logical replace (spec §3: "delete-then-insert" keeps
// the target table free of orphaned chunks when a row's chunk count
// shrinks between runs).
func (s *Store) ReplaceEmbeddings(ctx context.Context, tx *sqlx.Tx, pk map[string]interface{}, rows []EmbeddingRow) error {
	if err := s.DeleteEmbeddings(ctx, tx, pk); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	pkCols := s.v.PKColumnNames()
	cols := append(append([]string{}, pkCols...), "chunk_seq", "chunk", "embedding")
	placeholders := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(cols))

	argN := 1
	for _, r := range rows {
		rowPlaceholders := make([]string, 0, len(cols))
		for _, col := range pkCols {
			rowPlaceholders = append(rowPlaceholders, fmt.Sprintf("$%d", argN))
			args = append(args, r.PK[col])
			argN++
		}
		rowPlaceholders = append(rowPlaceholders, fmt.Sprintf("$%d", argN))
		args = append(args, r.ChunkSeq)
		argN++
		rowPlaceholders = append(rowPlaceholders, fmt.Sprintf("$%d", argN))
		args = append(args, r.ChunkText)
		argN++
		rowPlaceholders = append(rowPlaceholders, fmt.Sprintf("$%d::vector", argN))
		args = append(args, vectorLiteral(r.Vector))
		argN++
		placeholders = append(placeholders, "("+strings.Join(rowPlaceholders, ", ")+")")
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		s.v.Target().String(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
		if isUniqueViolation(err) {
			return errs.New(errs.KindWriting, errs.StepWriting, fmt.Errorf("duplicate chunk, content already embedded: %w", err)).WithPK(pk)
		}
		return errs.New(errs.KindWriting, errs.StepWriting, fmt.Errorf("inserting embeddings: %w", err)).WithPK(pk)
	}
	return nil
}

// DeleteEmbeddings removes every embedding row for pk, used both by
// ReplaceEmbeddings and directly for tombstoned source rows (spec §3
// invariant I2).
func (s *Store) DeleteEmbeddings(ctx context.Context, tx *sqlx.Tx, pk map[string]interface{}) error {
	pkCols := s.v.PKColumnNames()
	clauses := make([]string, len(pkCols))
	args := make([]interface{}, len(pkCols))
	for i, col := range pkCols {
		clauses[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args[i] = pk[col]
	}
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", s.v.Target().String(), strings.Join(clauses, " AND "))
	if _, err := tx.ExecContext(ctx, deleteSQL, args...); err != nil {
		return errs.New(errs.KindWriting, errs.StepWriting, fmt.Errorf("deleting embeddings: %w", err)).WithPK(pk)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-violation
// (SQLSTATE 23505), used to detect a concurrent writer raced this one.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// ErrorRecord is one failure recorded against a vectorizer (spec §3:
// error record).
type ErrorRecord struct {
	VectorizerID int64
	Step         errs.Step
	Kind         errs.Kind
	PK           map[string]interface{}
	ChunkSeq     *int
	Message      string
}

const insertErrorSQL = `
INSERT INTO ai.vectorizer_errors (vectorizer_id, recorded_at, step, kind, pk, chunk_seq, message)
VALUES ($1, now(), $2, $3, $4, $5, $6)`

// RecordError writes one error record within the Executor's transaction.
func RecordError(ctx context.Context, tx *sqlx.Tx, rec ErrorRecord) error {
	var pkJSON []byte
	if rec.PK != nil {
		encoded, err := json.Marshal(rec.PK)
		if err != nil {
			return fmt.Errorf("encoding error record pk: %w", err)
		}
		pkJSON = encoded
	}
	_, err := tx.ExecContext(ctx, insertErrorSQL, rec.VectorizerID, string(rec.Step), string(rec.Kind), pkJSON, rec.ChunkSeq, rec.Message)
	if err != nil {
		return fmt.Errorf("recording error: %w", err)
	}
	return nil
}
