package embedprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorpipe/embedworker/internal/catalog"
	"github.com/vectorpipe/embedworker/internal/errs"
)

func fakeResolver(known map[string]string) SecretResolver {
	return func(_ context.Context, name string) (string, bool) {
		v, ok := known[name]
		return v, ok
	}
}

func TestFactory_Build_OpenAI(t *testing.T) {
	f := NewFactory(fakeResolver(map[string]string{"OPENAI_API_KEY": "sk-test"}))
	e, err := f.Build(context.Background(), catalog.EmbeddingConfig{Implementation: "openai", Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.Equal(t, "openai", e.Name())
	assert.Equal(t, 2048, e.MaxBatchSize())
}

func TestFactory_Build_MissingAPIKeyIsAPIKeyNotFound(t *testing.T) {
	f := NewFactory(fakeResolver(map[string]string{}))
	_, err := f.Build(context.Background(), catalog.EmbeddingConfig{Implementation: "openai", Model: "x"})
	require.Error(t, err)

	var werr *errs.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, errs.KindAPIKeyNotFound, werr.Kind)
}

func TestFactory_Build_UnknownProvider(t *testing.T) {
	f := NewFactory(fakeResolver(nil))
	_, err := f.Build(context.Background(), catalog.EmbeddingConfig{Implementation: "not-a-provider"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrUnknownProvider)
}

func TestFactory_Build_Ollama_NoKeyRequired(t *testing.T) {
	f := NewFactory(fakeResolver(nil))
	e, err := f.Build(context.Background(), catalog.EmbeddingConfig{Implementation: "ollama", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", e.Name())
}

func TestFactory_Build_CustomAPIKeyName(t *testing.T) {
	f := NewFactory(fakeResolver(map[string]string{"MY_CUSTOM_KEY": "secret"}))
	e, err := f.Build(context.Background(), catalog.EmbeddingConfig{
		Implementation: "voyageai", Model: "voyage-2", APIKeyName: "MY_CUSTOM_KEY",
	})
	require.NoError(t, err)
	assert.Equal(t, "voyageai", e.Name())
}
