package catalog

// Config is the vectorizer's tagged-union configuration document: each
// section names its own "implementation" discriminator, mirroring the
// decorator-style plugin registration the specification describes for
// chunking, formatting, and embedding (spec design notes).
type Config struct {
	Loading       LoadingConfig       `json:"loading"`
	Parsing       ParsingConfig       `json:"parsing"`
	Chunking      ChunkingConfig      `json:"chunking"`
	Formatting    FormattingConfig    `json:"formatting"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	Processing    ProcessingConfig    `json:"processing"`
	Indexing      IndexingConfig      `json:"indexing"`
	Scheduling    SchedulingConfig    `json:"scheduling"`
	TextIndexing  *TextIndexingConfig `json:"text_indexing,omitempty"`
}

// LoadingConfig selects how a source row's payload columns are read.
type LoadingConfig struct {
	Implementation string   `json:"implementation"` // "column"
	Column         string   `json:"column"`
	RetainColumns  []string `json:"retain_columns,omitempty"`
}

// ParsingConfig selects how the loaded payload is interpreted before
// chunking (e.g. plain text vs. a document format). The worker treats an
// empty Implementation as "none" (pass the loaded text through verbatim).
type ParsingConfig struct {
	Implementation string `json:"implementation"`
}

// ChunkingConfig selects the Chunker variant and its parameters, per
// spec §3.C.
type ChunkingConfig struct {
	Implementation string `json:"implementation"` // none | character_text_splitter | recursive_character_text_splitter
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	Separator      string `json:"separator,omitempty"`
	Separators     []string `json:"separators,omitempty"`
	IsSeparatorRegex bool  `json:"is_separator_regex,omitempty"`
}

// FormattingConfig selects the Formatter variant, per spec §3.C.
type FormattingConfig struct {
	Implementation string `json:"implementation"` // chunk_value | python_template
	Template       string `json:"template,omitempty"`
}

// EmbeddingConfig selects the provider, model, and batching limits, per
// spec §3.D / §4.
type EmbeddingConfig struct {
	Implementation string `json:"implementation"` // openai | voyageai | cohere | mistral | bedrock | vertex | huggingface | ollama
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions,omitempty"`
	BaseURL        string `json:"base_url,omitempty"`            // ollama / litellm custom endpoints
	APIKeyName     string `json:"api_key_name,omitempty"`         // env var / vault secret name
	Region         string `json:"region,omitempty"`               // bedrock / vertex
	Project        string `json:"project,omitempty"`              // vertex
	MaxBatchTokens int    `json:"max_batch_tokens,omitempty"`     // ollama's configurable default
}

// ProcessingConfig overrides worker-level defaults per vectorizer, per
// spec §3.A/§5 (concurrency, batching).
type ProcessingConfig struct {
	BatchSize      int  `json:"batch_size,omitempty"`
	Concurrency    int  `json:"concurrency,omitempty"`
	MaxAttempts    int  `json:"max_attempts,omitempty"`
}

// IndexingConfig selects optional downstream vector-index maintenance.
// Indexing itself is out of the worker's core scope (spec Non-goals); this
// is retained so the catalog document round-trips unknown sections rather
// than dropping them.
type IndexingConfig struct {
	Implementation string `json:"implementation,omitempty"` // "none" | "diskann" | "hnsw"
}

// SchedulingConfig is informational catalog metadata describing how often
// a vectorizer is expected to run; the Supervisor's own poll interval is
// process-level configuration, not sourced from here. When CronExpression
// is set, the Supervisor additionally gates this vectorizer to run no more
// often than the cron schedule describes, on top of (not instead of) its
// own poll interval.
type SchedulingConfig struct {
	Implementation   string `json:"implementation,omitempty"` // "none" | "timescaledb_cron"
	ScheduleInterval string `json:"schedule_interval,omitempty"`
	CronExpression   string `json:"cron_expression,omitempty"`
}

// TextIndexingConfig is reserved for hybrid full-text-search configuration
// alongside the vector index; unused by the core worker but preserved so
// round-tripping a catalog document never silently discards it.
type TextIndexingConfig struct {
	Implementation string `json:"implementation,omitempty"`
}
