package embedprovider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// OpenAIProvider implements Embedder against OpenAI's /v1/embeddings API,
// grounded on rag-loader's providers.OpenAIProvider but narrowed to the
// single embed-many call this worker needs.
type OpenAIProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewOpenAI constructs an OpenAI Embedder. cfg.APIKey must already be
// resolved by the registry (spec §4.C: ApiKeyNotFoundError is raised
// before construction, not here).
func NewOpenAI(cfg HTTPConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{cfg: cfg, client: &http.Client{Timeout: cfg.timeoutOrDefault()}}
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) MaxBatchSize() int     { return LimitsFor("openai", 0).MaxChunks }
func (p *OpenAIProvider) MaxBatchTokens() int   { return LimitsFor("openai", 0).MaxTokens }

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// contextLengthPattern matches OpenAI's "This model's maximum context
// length is 8191 tokens, however you requested ... tokens" error message,
// from which the real per-request limit N is parsed (spec §4.C).
var contextLengthPattern = regexp.MustCompile(`maximum context length is (\d+) tokens`)

func (p *OpenAIProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	out, err := p.embedBatch(ctx, documents)
	if err == nil {
		return out, nil
	}

	maxTokens, ok := parseContextLengthLimit(err)
	if !ok {
		return nil, err
	}
	return p.embedWithContextLimit(ctx, documents, maxTokens)
}

// embedBatch issues one /v1/embeddings call for exactly these documents,
// in the order given.
func (p *OpenAIProvider) embedBatch(ctx context.Context, documents []string) ([]Result, error) {
	reqBody := openAIEmbedRequest{Input: documents, Model: p.cfg.Model}
	if p.cfg.Dimensions > 0 {
		reqBody.Dimensions = &p.cfg.Dimensions
	}

	var resp openAIEmbedResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := postJSON(ctx, p.client, p.cfg.BaseURL+"/embeddings", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(documents) {
		return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
			fmt.Errorf("openai returned %d embeddings for %d documents", len(resp.Data), len(documents)))
	}

	out := make([]Result, len(documents))
	perDocTokens := resp.Usage.TotalTokens / max1(len(documents))
	for _, d := range resp.Data {
		out[d.Index] = Result{Vector: d.Embedding, Dimensions: len(d.Embedding), TokensUsed: perDocTokens}
	}
	return out, nil
}

// embedWithContextLimit implements OpenAI's context-length-exceeded
// policy (spec §4.C): partition documents into those estimated to fit
// within maxTokens and those that don't, re-embed only the valid ones in
// a fresh request, and report the rest as per-document
// ChunkEmbeddingErrors at their original positions. Index alignment with
// the caller's input is preserved throughout.
func (p *OpenAIProvider) embedWithContextLimit(ctx context.Context, documents []string, maxTokens int) ([]Result, error) {
	out := make([]Result, len(documents))
	var validDocs []string
	var validIdx []int

	for i, doc := range documents {
		if approxTokens(doc) > maxTokens {
			out[i] = Result{Err: errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
				fmt.Errorf("chunk exceeds model context length"))}
			continue
		}
		validDocs = append(validDocs, doc)
		validIdx = append(validIdx, i)
	}

	if len(validDocs) == 0 {
		return out, nil
	}

	embedded, err := p.embedBatch(ctx, validDocs)
	if err != nil {
		return nil, err
	}
	for i, idx := range validIdx {
		out[idx] = embedded[i]
	}
	return out, nil
}

// parseContextLengthLimit extracts N from OpenAI's "maximum context
// length is N tokens" error message. ok is false for any other error,
// which the caller propagates as a request-level failure.
func parseContextLengthLimit(err error) (n int, ok bool) {
	m := contextLengthPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return n, true
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
