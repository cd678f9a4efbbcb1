package embedprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vectorpipe/embedworker/internal/errs"
)

// postJSON performs a JSON POST and decodes the response into out,
// classifying non-2xx responses through errs.ClassifyHTTPStatus the way
// spec §9 resolves the transient-vs-fatal boundary.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.New(errs.KindBatching, errs.StepEmbedding, fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errs.New(errs.KindChunkEmbedding, errs.StepEmbedding, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errs.New(errs.KindProviderTransient, errs.StepEmbedding, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := errs.ClassifyHTTPStatus(resp.StatusCode)
		return errs.New(kind, errs.StepEmbedding, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New(errs.KindChunkEmbedding, errs.StepEmbedding, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
