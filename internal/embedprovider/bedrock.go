package embedprovider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// bedrockRuntimeClient is narrowed to the one call this adapter needs, so
// tests can substitute a fake without pulling in AWS credentials.
type bedrockRuntimeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider implements Embedder against Amazon Titan embedding
// models via bedrock-runtime, grounded on rag-loader's
// pkg/embedding/bedrock.go BedrockEmbeddingService. Titan's InvokeModel
// API embeds one document per call, so Embed issues them sequentially.
type BedrockProvider struct {
	cfg    HTTPConfig
	region string
	client bedrockRuntimeClient
}

// NewBedrock constructs a Bedrock Embedder using the default AWS
// credential chain, scoped to region.
func NewBedrock(ctx context.Context, cfg HTTPConfig, region string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errs.New(errs.KindConfig, errs.StepEmbedding, fmt.Errorf("loading AWS config: %w", err))
	}
	return &BedrockProvider{cfg: cfg, region: region, client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

func (p *BedrockProvider) Name() string       { return "bedrock" }
func (p *BedrockProvider) MaxBatchSize() int   { return LimitsFor("bedrock", 0).MaxChunks }
func (p *BedrockProvider) MaxBatchTokens() int { return LimitsFor("bedrock", 0).MaxTokens }

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func (p *BedrockProvider) Embed(ctx context.Context, documents []string) ([]Result, error) {
	out := make([]Result, len(documents))
	for i, doc := range documents {
		body, err := json.Marshal(titanEmbedRequest{InputText: doc})
		if err != nil {
			return nil, errs.New(errs.KindBatching, errs.StepEmbedding, err)
		}

		resp, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.cfg.Model),
			Body:        body,
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return nil, errs.New(errs.KindProviderTransient, errs.StepEmbedding, fmt.Errorf("bedrock invoke failed: %w", err))
		}

		var decoded titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &decoded); err != nil {
			return nil, errs.New(errs.KindChunkEmbedding, errs.StepEmbedding, fmt.Errorf("decoding bedrock response: %w", err))
		}
		out[i] = Result{Vector: decoded.Embedding, Dimensions: len(decoded.Embedding), TokensUsed: decoded.InputTextTokenCount}
	}
	return out, nil
}
