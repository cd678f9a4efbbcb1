package embedprovider

import (
	"context"
	"net/http"

	"github.com/vectorpipe/embedworker/internal/errs"
	"fmt"
)

// VoyageProvider implements Embedder against Voyage AI's /v1/embeddings API.
type VoyageProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewVoyage(cfg HTTPConfig) *VoyageProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.voyageai.com/v1"
	}
	return &VoyageProvider{cfg: cfg, client: &http.Client{Timeout: cfg.timeoutOrDefault()}}
}

func (p *VoyageProvider) Name() string       { return "voyageai" }
func (p *VoyageProvider) MaxBatchSize() int   { return LimitsFor("voyageai", 0).MaxChunks }
func (p *VoyageProvider) MaxBatchTokens() int { return LimitsFor("voyageai", 0).MaxTokens }

type voyageEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *VoyageProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	reqBody := voyageEmbedRequest{Input: documents, Model: p.cfg.Model}
	var resp voyageEmbedResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := postJSON(ctx, p.client, p.cfg.BaseURL+"/embeddings", headers, reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(documents) {
		return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
			fmt.Errorf("voyage returned %d embeddings for %d documents", len(resp.Data), len(documents)))
	}
	out := make([]Result, len(documents))
	perDocTokens := resp.Usage.TotalTokens / max1(len(documents))
	for _, d := range resp.Data {
		out[d.Index] = Result{Vector: d.Embedding, Dimensions: len(d.Embedding), TokensUsed: perDocTokens}
	}
	return out, nil
}
