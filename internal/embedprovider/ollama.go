package embedprovider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// OllamaProvider implements Embedder against a local or self-hosted
// Ollama server's /api/embed endpoint, grounded on
// mycelian-ai-mycelian-memory's embeddings/ollama.Provider but extended to
// the worker's batch-of-documents shape (Ollama's /api/embed accepts an
// array of prompts, unlike the older single-prompt /api/embeddings).
type OllamaProvider struct {
	cfg            HTTPConfig
	client         *http.Client
	maxBatchChunks int
}

// NewOllama constructs an Ollama Embedder. maxBatchChunks implements the
// provider's "configurable, default 2048" batch limit (spec §4).
func NewOllama(cfg HTTPConfig, maxBatchChunks int) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &OllamaProvider{cfg: cfg, client: &http.Client{Timeout: cfg.timeoutOrDefault()}, maxBatchChunks: maxBatchChunks}
}

func (p *OllamaProvider) Name() string       { return "ollama" }
func (p *OllamaProvider) MaxBatchSize() int   { return LimitsFor("ollama", p.maxBatchChunks).MaxChunks }
func (p *OllamaProvider) MaxBatchTokens() int { return LimitsFor("ollama", p.maxBatchChunks).MaxTokens }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func (p *OllamaProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	reqBody := ollamaEmbedRequest{Model: p.cfg.Model, Input: documents}
	var resp ollamaEmbedResponse
	if err := postJSON(ctx, p.client, p.cfg.BaseURL+"/api/embed", nil, reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errs.New(errs.KindProviderTransient, errs.StepEmbedding, fmt.Errorf("ollama: %s", resp.Error))
	}
	if len(resp.Embeddings) != len(documents) {
		return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
			fmt.Errorf("ollama returned %d embeddings for %d documents", len(resp.Embeddings), len(documents)))
	}

	out := make([]Result, len(documents))
	for i, v := range resp.Embeddings {
		out[i] = Result{Vector: v, Dimensions: len(v), TokensUsed: approxTokens(documents[i])}
	}
	return out, nil
}
