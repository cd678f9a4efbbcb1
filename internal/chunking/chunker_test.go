package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorpipe/embedworker/internal/catalog"
)

func TestNoneChunker_SingleChunkStartingAtZero(t *testing.T) {
	chunker, err := Resolve(catalog.ChunkingConfig{Implementation: "none"})
	require.NoError(t, err)

	chunks, err := chunker(catalog.ChunkingConfig{}, "hello world")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Seq)
	assert.Equal(t, "hello world", chunks[0].Text)
}

func TestNoneChunker_EmptyTextProducesNoChunks(t *testing.T) {
	chunker, err := Resolve(catalog.ChunkingConfig{Implementation: "none"})
	require.NoError(t, err)

	chunks, err := chunker(catalog.ChunkingConfig{}, "")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCharacterTextSplitter_RespectsChunkSize(t *testing.T) {
	chunker, err := Resolve(catalog.ChunkingConfig{Implementation: "character_text_splitter"})
	require.NoError(t, err)

	cfg := catalog.ChunkingConfig{ChunkSize: 20, ChunkOverlap: 0, Separator: "\n\n"}
	text := "paragraph one here\n\nparagraph two here\n\nparagraph three here"

	chunks, err := chunker(cfg, text)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq, "chunk_seq must start at 0 and be contiguous")
		assert.LessOrEqual(t, len(c.Text), 20)
	}
}

func TestCharacterTextSplitter_RejectsOverlapGESize(t *testing.T) {
	chunker, err := Resolve(catalog.ChunkingConfig{Implementation: "character_text_splitter"})
	require.NoError(t, err)

	_, err = chunker(catalog.ChunkingConfig{ChunkSize: 10, ChunkOverlap: 10}, "anything")
	assert.Error(t, err)
}

func TestRecursiveCharacterTextSplitter_FallsBackToHardSlice(t *testing.T) {
	chunker, err := Resolve(catalog.ChunkingConfig{Implementation: "recursive_character_text_splitter"})
	require.NoError(t, err)

	cfg := catalog.ChunkingConfig{ChunkSize: 5, ChunkOverlap: 0, Separators: []string{""}}
	chunks, err := chunker(cfg, "abcdefghijklmno")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 5)
	}
}

func TestRecursiveCharacterTextSplitter_KeepsShortTextInOneChunk(t *testing.T) {
	chunker, err := Resolve(catalog.ChunkingConfig{Implementation: "recursive_character_text_splitter"})
	require.NoError(t, err)

	cfg := catalog.ChunkingConfig{ChunkSize: 100, ChunkOverlap: 0}
	text := "first paragraph\n\nsecond paragraph"
	chunks, err := chunker(cfg, text)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "content under chunk_size stays in one chunk")
}

func TestResolve_UnknownImplementationIsConfigError(t *testing.T) {
	_, err := Resolve(catalog.ChunkingConfig{Implementation: "bogus"})
	assert.Error(t, err)
}
