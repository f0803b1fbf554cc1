package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGenerator posts each Request as JSON to an external endpoint and
// decodes a Generation from the response body.
type HTTPGenerator struct {
	Endpoint string
	Header   http.Header
	Client   *http.Client
}

// NewHTTPGenerator returns a generator for endpoint with a default client.
func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Generate implements Generator.
func (h *HTTPGenerator) Generate(ctx context.Context, req Request) (Generation, error) {
	if h.Endpoint == "" {
		return Generation{}, ErrNoGenerator
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Generation{}, fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Generation{}, fmt.Errorf("calling generator: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Generation{}, fmt.Errorf("reading generator response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Generation{}, fmt.Errorf("generator returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	var gen Generation
	if err := json.Unmarshal(data, &gen); err != nil {
		return Generation{}, fmt.Errorf("decoding generator response: %w", err)
	}
	return gen, nil
}
