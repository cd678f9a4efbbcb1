package embedprovider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBatches_RespectsMaxChunks(t *testing.T) {
	docs := make([]string, 10)
	for i := range docs {
		docs[i] = "doc"
	}
	batches, oversize, err := PlanBatches(docs, Limits{MaxChunks: 3})
	require.NoError(t, err)
	assert.Empty(t, oversize)
	assert.Len(t, batches, 4)
	assert.Len(t, batches[0].Indices, 3)
	assert.Len(t, batches[3].Indices, 1)
}

func TestPlanBatches_RespectsMaxTokens(t *testing.T) {
	docs := []string{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40)}
	batches, oversize, err := PlanBatches(docs, Limits{MaxChunks: 100, MaxTokens: 15})
	require.NoError(t, err)
	assert.Empty(t, oversize)
	assert.Greater(t, len(batches), 1)
}

func TestPlanBatches_FlagsOversizeDocument(t *testing.T) {
	docs := []string{strings.Repeat("x", 1000)}
	batches, oversize, err := PlanBatches(docs, Limits{MaxChunks: 10, MaxTokens: 5})
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Equal(t, []int{0}, oversize)
}

func TestLimitsFor_UnknownProviderDefaultsToFive(t *testing.T) {
	l := LimitsFor("some-custom-provider", 0)
	assert.Equal(t, 5, l.MaxChunks)
}

func TestLimitsFor_OllamaOverride(t *testing.T) {
	l := LimitsFor("ollama", 128)
	assert.Equal(t, 128, l.MaxChunks)
}

func TestLimitsFor_OllamaDefaultWithoutOverride(t *testing.T) {
	l := LimitsFor("ollama", 0)
	assert.Equal(t, 2048, l.MaxChunks)
}
