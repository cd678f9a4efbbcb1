package embedprovider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// LiteLLMProvider fronts Cohere and Mistral through a LiteLLM proxy
// exposing the OpenAI-compatible /v1/embeddings endpoint, matching how
// spec §4's provider table routes both through a shared gateway rather
// than bespoke clients.
type LiteLLMProvider struct {
	cfg      HTTPConfig
	client   *http.Client
	provider string // "cohere" or "mistral"
}

func NewLiteLLM(provider string, cfg HTTPConfig) *LiteLLMProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:4000/v1"
	}
	return &LiteLLMProvider{provider: provider, cfg: cfg, client: &http.Client{Timeout: cfg.timeoutOrDefault()}}
}

func (p *LiteLLMProvider) Name() string       { return p.provider }
func (p *LiteLLMProvider) MaxBatchSize() int  { return LimitsFor(p.provider, 0).MaxChunks }
func (p *LiteLLMProvider) MaxBatchTokens() int {
	return LimitsFor(p.provider, 0).MaxTokens
}

type litellmEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type litellmEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *LiteLLMProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	reqBody := litellmEmbedRequest{Input: documents, Model: p.cfg.Model}
	var resp litellmEmbedResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := postJSON(ctx, p.client, p.cfg.BaseURL+"/embeddings", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(documents) {
		return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
			fmt.Errorf("%s (via litellm) returned %d embeddings for %d documents", p.provider, len(resp.Data), len(documents)))
	}
	out := make([]Result, len(documents))
	perDocTokens := resp.Usage.TotalTokens / max1(len(documents))
	for _, d := range resp.Data {
		out[d.Index] = Result{Vector: d.Embedding, Dimensions: len(d.Embedding), TokensUsed: perDocTokens}
	}
	return out, nil
}
