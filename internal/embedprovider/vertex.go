package embedprovider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// VertexProvider implements Embedder against Google Vertex AI's
// publisher-model predict endpoint for text embeddings.
type VertexProvider struct {
	cfg     HTTPConfig
	client  *http.Client
	project string
	region  string
}

func NewVertex(cfg HTTPConfig, project, region string) *VertexProvider {
	if region == "" {
		region = "us-central1"
	}
	return &VertexProvider{cfg: cfg, project: project, region: region, client: &http.Client{Timeout: cfg.timeoutOrDefault()}}
}

func (p *VertexProvider) Name() string       { return "vertex" }
func (p *VertexProvider) MaxBatchSize() int   { return LimitsFor("vertex", 0).MaxChunks }
func (p *VertexProvider) MaxBatchTokens() int { return LimitsFor("vertex", 0).MaxTokens }

type vertexInstance struct {
	Content string `json:"content"`
}

type vertexPredictRequest struct {
	Instances []vertexInstance `json:"instances"`
}

type vertexPredictResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values     []float32 `json:"values"`
			Statistics struct {
				TokenCount int `json:"token_count"`
			} `json:"statistics"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

func (p *VertexProvider) endpoint() string {
	if p.cfg.BaseURL != "" {
		return p.cfg.BaseURL
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		p.region, p.project, p.region, p.cfg.Model)
}

func (p *VertexProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	instances := make([]vertexInstance, len(documents))
	for i, d := range documents {
		instances[i] = vertexInstance{Content: d}
	}

	var resp vertexPredictResponse
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if err := postJSON(ctx, p.client, p.endpoint(), headers, vertexPredictRequest{Instances: instances}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(documents) {
		return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding,
			fmt.Errorf("vertex returned %d predictions for %d documents", len(resp.Predictions), len(documents)))
	}

	out := make([]Result, len(documents))
	for i, pred := range resp.Predictions {
		out[i] = Result{
			Vector:     pred.Embeddings.Values,
			Dimensions: len(pred.Embeddings.Values),
			TokensUsed: pred.Embeddings.Statistics.TokenCount,
		}
	}
	return out, nil
}
