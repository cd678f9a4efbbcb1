package embedprovider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// HuggingFaceProvider implements Embedder against the HuggingFace
// Inference API's feature-extraction pipeline.
type HuggingFaceProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHuggingFace(cfg HTTPConfig) *HuggingFaceProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-inference.huggingface.co/models"
	}
	return &HuggingFaceProvider{cfg: cfg, client: &http.Client{Timeout: cfg.timeoutOrDefault()}}
}

func (p *HuggingFaceProvider) Name() string       { return "huggingface" }
func (p *HuggingFaceProvider) MaxBatchSize() int   { return LimitsFor("huggingface", 0).MaxChunks }
func (p *HuggingFaceProvider) MaxBatchTokens() int { return LimitsFor("huggingface", 0).MaxTokens }

type hfFeatureExtractionRequest struct {
	Inputs  []string               `json:"inputs"`
	Options map[string]interface{} `json:"options,omitempty"`
}

func (p *HuggingFaceProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	reqBody := hfFeatureExtractionRequest{
		Inputs:  documents,
		Options: map[string]interface{}{"wait_for_model": true},
	}

	var vectors [][]float32
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	url := p.cfg.BaseURL + "/" + p.cfg.Model
	if err := postJSON(ctx, p.client, url, headers, reqBody, &vectors); err != nil {
		return nil, err
	}
	if len(vectors) != len(documents) {
		return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
			fmt.Errorf("huggingface returned %d embeddings for %d documents", len(vectors), len(documents)))
	}

	out := make([]Result, len(documents))
	for i, v := range vectors {
		out[i] = Result{Vector: v, Dimensions: len(v), TokensUsed: approxTokens(documents[i])}
	}
	return out, nil
}
