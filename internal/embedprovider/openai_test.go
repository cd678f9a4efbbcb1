package embedprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorpipe/embedworker/internal/errs"
)

func TestOpenAIProvider_Embed_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		resp := openAIEmbedResponse{}
		resp.Data = []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{
			{Embedding: []float32{0.1, 0.2}, Index: 0},
			{Embedding: []float32{0.3, 0.4}, Index: 1},
		}
		resp.Usage.TotalTokens = 10
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAI(HTTPConfig{APIKey: "test-key", BaseURL: server.URL, Model: "text-embedding-3-small"})
	results, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []float32{0.1, 0.2}, results[0].Vector)
	assert.Equal(t, []float32{0.3, 0.4}, results[1].Vector)
}

func TestOpenAIProvider_Embed_AuthFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer server.Close()

	p := NewOpenAI(HTTPConfig{APIKey: "bad-key", BaseURL: server.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)

	var werr *errs.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, errs.KindProviderAuth, werr.Kind)
	assert.Equal(t, errs.DispositionFatal, werr.Kind.Disposition())
}

func TestOpenAIProvider_Embed_RateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	p := NewOpenAI(HTTPConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"a"})
	require.Error(t, err)

	var werr *errs.WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, errs.KindProviderTransient, werr.Kind)
	assert.True(t, errs.IsRetryable(werr.Kind))
}

func TestOpenAIProvider_Embed_ContextLengthErrorIsolatesOversizeDocument(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if calls == 1 {
			require.Len(t, req.Input, 2)
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"This model's maximum context length is 8191 tokens, however you requested 40000 tokens. Please reduce your prompt.","type":"invalid_request_error"}}`))
			return
		}

		require.Len(t, req.Input, 1)
		resp := openAIEmbedResponse{}
		resp.Data = []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{
			{Embedding: []float32{0.1, 0.2}, Index: 0},
		}
		resp.Usage.TotalTokens = 5
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := NewOpenAI(HTTPConfig{APIKey: "k", BaseURL: server.URL, Model: "text-embedding-3-small"})
	oversized := ""
	for i := 0; i < 40000; i++ {
		oversized += "x"
	}
	results, err := p.Embed(context.Background(), []string{"small", oversized})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Nil(t, results[0].Err)
	assert.Equal(t, []float32{0.1, 0.2}, results[0].Vector)

	require.NotNil(t, results[1].Err)
	assert.Nil(t, results[1].Vector)
	assert.Equal(t, errs.KindChunkEmbedding, results[1].Err.Kind)
	assert.Contains(t, results[1].Err.Error(), "chunk exceeds model context length")
	assert.Equal(t, 2, calls)
}

func TestOpenAIProvider_Embed_MismatchedResultCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openAIEmbedResponse{})
	}))
	defer server.Close()

	p := NewOpenAI(HTTPConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
