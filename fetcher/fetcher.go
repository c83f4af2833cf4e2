// Package fetcher is the client for the external page-fetch service:
// an opaque fetch-by-URL capability that renders a page and returns raw
// HTML, discovered links, and metadata.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zombar/imageharvest/models"
)

// Options tune a single fetch
type Options struct {
	ContentSelectors []string `json:"content_selectors,omitempty"`
	Formats          []string `json:"formats,omitempty"`
	CacheBypass      bool     `json:"cache_bypass,omitempty"`
}

// Client is the page-fetch collaborator contract
type Client interface {
	Fetch(ctx context.Context, targetURL string, opts Options) (*models.PageData, error)
}

// Config contains fetch client configuration
type Config struct {
	BaseURL string        // Base URL of the render service
	APIKey  string        // Optional bearer token
	Timeout time.Duration // Per-request timeout
}

// DefaultConfig returns default fetch client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:3002",
		Timeout: 60 * time.Second,
	}
}

// HTTPClient talks JSON-over-HTTP to the render service
type HTTPClient struct {
	config     Config
	httpClient *http.Client
}

// New creates a new HTTPClient instance
func New(config Config) *HTTPClient {
	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type fetchRequest struct {
	URL string `json:"url"`
	Options
}

type fetchResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    models.PageData `json:"data"`
}

// Fetch renders the target URL and returns its page data
func (c *HTTPClient) Fetch(ctx context.Context, targetURL string, opts Options) (*models.PageData, error) {
	body, err := json.Marshal(fetchRequest{URL: targetURL, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fetch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/fetch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call fetch service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch service HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	var parsed fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode fetch response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("fetch service error: %s", parsed.Error)
	}

	data := parsed.Data
	if data.URL == "" {
		data.URL = targetURL
	}
	return &data, nil
}
