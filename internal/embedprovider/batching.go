package embedprovider

import (
	"fmt"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// approxTokens estimates token count the way OpenAI's own tooling
// approximates it for batching decisions: one token per four characters.
func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// Batch groups document indices that fit within a provider's chunk-count
// and token-count limits, preserving input order (spec §4: "batching
// algorithm").
type Batch struct {
	Indices []int
}

// PlanBatches splits documents into provider-sized batches. A single
// document that alone exceeds MaxChunks is impossible by definition; the
// indices of documents whose own token estimate exceeds limits.MaxTokens
// are returned in the second result, outside every batch, so the caller
// can apply a provider-specific oversize policy (e.g. OpenAI's splitting
// fallback) before giving up on them.
func PlanBatches(documents []string, limits Limits) ([]Batch, []int, error) {
	maxChunks := limits.MaxChunks
	if maxChunks <= 0 {
		maxChunks = defaultLimits.MaxChunks
	}

	var batches []Batch
	var oversize []int
	var cur Batch
	curTokens := 0

	flush := func() {
		if len(cur.Indices) > 0 {
			batches = append(batches, cur)
			cur = Batch{}
			curTokens = 0
		}
	}

	for i, doc := range documents {
		tok := approxTokens(doc)
		if limits.MaxTokens > 0 && tok > limits.MaxTokens {
			oversize = append(oversize, i)
			continue
		}

		wouldExceedCount := len(cur.Indices) >= maxChunks
		wouldExceedTokens := limits.MaxTokens > 0 && curTokens+tok > limits.MaxTokens
		if len(cur.Indices) > 0 && (wouldExceedCount || wouldExceedTokens) {
			flush()
		}

		cur.Indices = append(cur.Indices, i)
		curTokens += tok
	}
	flush()

	if len(batches) == 0 && len(oversize) == 0 && len(documents) > 0 {
		return nil, nil, errs.New(errs.KindBatching, errs.StepEmbedding, fmt.Errorf("unable to plan any batch for %d documents", len(documents)))
	}
	return batches, oversize, nil
}
