package embedprovider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/errs"
)

// SecretResolver resolves a provider's API key by name. EnvSecretResolver,
// which reads environment variables, is the only implementation; no
// database-backed resolver exists, and SecretsConfig does not change which
// resolver is used.
type SecretResolver func(ctx context.Context, name string) (string, bool)

// EnvSecretResolver resolves secrets from the process environment.
func EnvSecretResolver(_ context.Context, name string) (string, bool) {
	v := os.Getenv(name)
	return v, v != ""
}

// Factory builds Embedder adapters from a vectorizer's embedding config,
// dispatching on EmbeddingConfig.Implementation over a fixed set of
// built-in adapters; there is no way to register further implementations.
type Factory struct {
	resolveSecret SecretResolver
}

// NewFactory constructs a Factory using resolver to look up API keys. A
// nil resolver defaults to EnvSecretResolver.
func NewFactory(resolver SecretResolver) *Factory {
	if resolver == nil {
		resolver = EnvSecretResolver
	}
	return &Factory{resolveSecret: resolver}
}

func (f *Factory) apiKeyFor(ctx context.Context, cfg catalog.EmbeddingConfig, defaultEnvVar string) (string, error) {
	name := cfg.APIKeyName
	if name == "" {
		name = defaultEnvVar
	}
	key, ok := f.resolveSecret(ctx, name)
	if !ok || key == "" {
		return "", errs.New(errs.KindAPIKeyNotFound, errs.StepEmbedding,
			fmt.Errorf("no api key found for secret %q (provider %s)", name, cfg.Implementation))
	}
	return key, nil
}

// Build constructs the Embedder named by cfg.Implementation.
func (f *Factory) Build(ctx context.Context, cfg catalog.EmbeddingConfig) (Embedder, error) {
	impl := strings.ToLower(cfg.Implementation)
	switch impl {
	case "openai":
		key, err := f.apiKeyFor(ctx, cfg, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewOpenAI(HTTPConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model, Dimensions: cfg.Dimensions}), nil

	case "voyageai", "voyage":
		key, err := f.apiKeyFor(ctx, cfg, "VOYAGE_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewVoyage(HTTPConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil

	case "cohere":
		key, err := f.apiKeyFor(ctx, cfg, "COHERE_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewLiteLLM("cohere", HTTPConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil

	case "mistral":
		key, err := f.apiKeyFor(ctx, cfg, "MISTRAL_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewLiteLLM("mistral", HTTPConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil

	case "bedrock":
		return NewBedrock(ctx, HTTPConfig{Model: cfg.Model}, cfg.Region)

	case "vertex":
		key, err := f.apiKeyFor(ctx, cfg, "VERTEX_ACCESS_TOKEN")
		if err != nil {
			return nil, err
		}
		return NewVertex(HTTPConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}, cfg.Project, cfg.Region), nil

	case "huggingface":
		key, err := f.apiKeyFor(ctx, cfg, "HUGGINGFACE_API_KEY")
		if err != nil {
			return nil, err
		}
		return NewHuggingFace(HTTPConfig{APIKey: key, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil

	case "ollama":
		return NewOllama(HTTPConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}, cfg.MaxBatchTokens), nil

	default:
		return nil, errs.New(errs.KindConfig, errs.StepEmbedding, fmt.Errorf("%w: %q", errs.ErrUnknownProvider, cfg.Implementation))
	}
}
