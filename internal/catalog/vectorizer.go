// Package catalog loads Vectorizer catalog entries: the immutable binding
// between a source table and its embedding configuration (spec §3).
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PKColumn describes one column of a (possibly composite) primary key.
type PKColumn struct {
	AttName string `json:"attname"`
	TypName string `json:"typname"`
}

// TableRef identifies a schema-qualified table.
type TableRef struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func (t TableRef) String() string { return fmt.Sprintf("%s.%s", t.Schema, t.Table) }

// Vectorizer is the catalog entry described in spec §3.
type Vectorizer struct {
	ID           int64    `db:"id" json:"id"`
	SourceSchema string   `db:"source_schema" json:"source_schema"`
	SourceTable  string   `db:"source_table" json:"source_table"`
	QueueSchema  string   `db:"queue_schema" json:"queue_schema"`
	QueueTable   string   `db:"queue_table" json:"queue_table"`
	DLQSchema    string   `db:"dlq_schema" json:"dlq_schema"`
	DLQTable     string   `db:"dlq_table" json:"dlq_table"`
	TargetSchema string   `db:"target_schema" json:"target_schema"`
	TargetTable  string   `db:"target_table" json:"target_table"`
	TriggerName  string   `db:"trigger_name" json:"trigger_name"`
	ConfigJSON   []byte   `db:"config" json:"-"`
	Disabled     bool     `db:"disabled" json:"disabled"`

	PrimaryKey []PKColumn `db:"-" json:"primary_key"`
	Config     Config     `db:"-" json:"config"`
}

func (v Vectorizer) Source() TableRef { return TableRef{Schema: v.SourceSchema, Table: v.SourceTable} }
func (v Vectorizer) Queue() TableRef  { return TableRef{Schema: v.QueueSchema, Table: v.QueueTable} }
func (v Vectorizer) DLQ() TableRef    { return TableRef{Schema: v.DLQSchema, Table: v.DLQTable} }
func (v Vectorizer) Target() TableRef { return TableRef{Schema: v.TargetSchema, Table: v.TargetTable} }

// PKColumnNames returns just the attribute names, in order.
func (v Vectorizer) PKColumnNames() []string {
	out := make([]string, len(v.PrimaryKey))
	for i, c := range v.PrimaryKey {
		out[i] = c.AttName
	}
	return out
}

// rawVectorizer mirrors the catalog table's physical row shape; primary_key
// and config travel over the wire as JSON documents (spec §3: "config
// document").
type rawVectorizer struct {
	Vectorizer
	PrimaryKeyJSON []byte `db:"primary_key"`
}

// Catalog resolves vectorizer catalog entries from Postgres.
type Catalog struct {
	db *sqlx.DB
}

// NewCatalog constructs a Catalog over an existing connection pool.
func NewCatalog(db *sqlx.DB) *Catalog { return &Catalog{db: db} }

const selectVectorizerSQL = `
SELECT id, source_schema, source_table, queue_schema, queue_table,
       dlq_schema, dlq_table, target_schema, target_table, trigger_name,
       primary_key, config, disabled
FROM ai.vectorizer
WHERE id = $1`

// Get loads and parses one vectorizer by id.
func (c *Catalog) Get(ctx context.Context, id int64) (*Vectorizer, error) {
	var raw rawVectorizer
	if err := c.db.GetContext(ctx, &raw, selectVectorizerSQL, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("catalog: vectorizer %d not found", id)
		}
		return nil, fmt.Errorf("catalog: loading vectorizer %d: %w", id, err)
	}
	return parseRaw(raw)
}

// selectAllIDsSQL lists every enabled vectorizer id, ordered by id. The
// Supervisor randomizes the resulting slice itself (spec §4.F).
const selectAllIDsSQL = `SELECT id FROM ai.vectorizer WHERE NOT disabled ORDER BY id`

// ListIDs returns the ids of every non-disabled vectorizer.
func (c *Catalog) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.db.SelectContext(ctx, &ids, selectAllIDsSQL); err != nil {
		return nil, fmt.Errorf("catalog: listing vectorizer ids: %w", err)
	}
	return ids, nil
}

func parseRaw(raw rawVectorizer) (*Vectorizer, error) {
	v := raw.Vectorizer
	if len(raw.PrimaryKeyJSON) > 0 {
		if err := json.Unmarshal(raw.PrimaryKeyJSON, &v.PrimaryKey); err != nil {
			return nil, fmt.Errorf("catalog: vectorizer %d: malformed primary_key: %w", v.ID, err)
		}
	}
	if len(v.PrimaryKey) == 0 {
		return nil, fmt.Errorf("catalog: vectorizer %d: empty primary key (config error)", v.ID)
	}
	if len(v.ConfigJSON) > 0 {
		if err := json.Unmarshal(v.ConfigJSON, &v.Config); err != nil {
			return nil, fmt.Errorf("catalog: vectorizer %d: malformed config: %w", v.ID, err)
		}
	}
	return &v, nil
}
