package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient talks to an embedding worker over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the worker at baseURL. A zero timeout
// leaves calls bounded only by their context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type textRequest struct {
	Text string `json:"text"`
}

type imageRequest struct {
	Image string `json:"image"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// EmbedText implements TextEmbedder.
func (c *HTTPClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.post(ctx, "text", textRequest{Text: text})
}

// EmbedImage implements ImageEmbedder. The image is sent base64-encoded.
func (c *HTTPClient) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	return c.post(ctx, "image", imageRequest{Image: base64.StdEncoding.EncodeToString(image)})
}

func (c *HTTPClient) post(ctx context.Context, kind string, payload any) ([]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embed: http %s: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed/"+kind, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: http %s: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: http %s: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: http %s: status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: http %s decode: %w", kind, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("embed: http %s: %s", kind, result.Error)
	}
	return checkVector("http "+kind, fromFloat64(result.Embedding))
}

// Check implements Checker with GET {base}/health.
func (c *HTTPClient) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("embed: http health: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embed: http health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embed: http health: status %d", resp.StatusCode)
	}
	return nil
}
