// Package embedprovider implements the Embedder adapters of spec §3.D: a
// uniform asynchronous interface over OpenAI, Voyage, Cohere/Mistral (via
// LiteLLM), Bedrock, Vertex AI, HuggingFace, and Ollama, plus the shared
// batching algorithm and the provider limit registry.
//
// The Provider interface and request/response shapes are grounded on
// rag-loader's pkg/embedding/providers.Provider contract, narrowed to the
// single embed-many operation this worker needs.
package embedprovider

import (
	"context"
	"time"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// Result is one embedding result, aligned by index with the input
// documents passed to Embed. Exactly one of Vector or Err is populated:
// Err carries a per-document ChunkEmbeddingError (or BatchingError) when
// an adapter reports that one document failed, per spec §3.D's
// success/error union, leaving the batch's other documents embedded
// normally (P8: per-chunk error isolation). Only the OpenAI adapter's
// context-length path produces per-document errors.
type Result struct {
	Vector     []float32
	Dimensions int
	TokensUsed int
	Err        *errs.WorkerError
}

// Embedder is the uniform interface every provider adapter implements.
type Embedder interface {
	// Name identifies the provider for logging, metrics, and circuit
	// breaker instancing.
	Name() string

	// Embed embeds documents and returns one Result per input, in order.
	// A non-nil error fails the whole call. The OpenAI adapter, on a
	// context-length rejection, re-embeds the documents under the reported
	// limit and reports each document over it through that Result's Err
	// field instead, with every other index populated with a Vector. The
	// other adapters return an error for any failed request, so one
	// rejected document fails the whole call.
	Embed(ctx context.Context, documents []string) ([]Result, error)

	// MaxBatchSize is the most documents this provider accepts in one
	// request (spec §4: provider limit registry).
	MaxBatchSize() int

	// MaxBatchTokens is the most tokens this provider accepts in one
	// request, or 0 if the provider has no token-based limit.
	MaxBatchTokens() int
}

// HTTPConfig holds settings shared by every HTTP-based adapter.
type HTTPConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

func (c HTTPConfig) timeoutOrDefault() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 60 * time.Second
}
