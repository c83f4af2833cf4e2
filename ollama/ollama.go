// Package ollama is the client for the language-model collaborator. It
// covers the three capabilities the pipeline consumes: prioritizing a
// link list, pulling image URLs out of raw markup, and generating image
// descriptions. Model output is always decoded defensively; a reply
// that does not parse is an error for the caller to degrade on, never a
// panic.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zombar/imageharvest/models"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.2"
)

// Client handles communication with the Ollama API
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a new Ollama client
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Generate sends a prompt to Ollama and returns the raw response text
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := models.OllamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	var parsed models.OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode Ollama response: %w", err)
	}

	return parsed.Response, nil
}

// RankLinks asks the model which internal links most likely lead to
// product imagery and returns them best-first, capped to limit.
func (c *Client) RankLinks(ctx context.Context, links []string, limit int) ([]string, error) {
	if len(links) == 0 {
		return nil, nil
	}

	linksJSON, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal links: %w", err)
	}

	prompt := fmt.Sprintf(`You are prioritizing pages on a product website for image harvesting.

Given the list of internal links below, pick the %d pages most likely to contain product imagery: product pages, feature tours, screenshot galleries, landing pages. Exclude navigation chrome, legal pages, blog archives, login/account pages, and anything unrelated to the product itself.

Links:
%s

Return ONLY a JSON array of the selected URLs, best first. No explanation.
Format: ["url1", "url2"]`, limit, string(linksJSON))

	response, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	ranked, err := parseStringArray(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ranked links: %w", err)
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ExtractImageURLs asks the model to pull image URLs directly out of
// raw markup. Used only when structural harvesting found nothing.
func (c *Client) ExtractImageURLs(ctx context.Context, rawHTML, sourceURL string, limit int) ([]string, error) {
	prompt := fmt.Sprintf(`The following raw HTML comes from %s.

List up to %d distinct absolute image URLs from it that are likely product screenshots or UI mock-ups. Skip icons, logos, avatars, and tracking pixels.

HTML:
%s

Return ONLY a JSON array of URL strings. No explanation.
Format: ["https://...", "https://..."]`, sourceURL, limit, rawHTML)

	response, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	urls, err := parseStringArray(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extracted image URLs: %w", err)
	}
	if len(urls) > limit {
		urls = urls[:limit]
	}
	return urls, nil
}

// DescribeImages generates descriptive metadata for a batch of images.
// Results come back unordered and possibly partial; the caller joins
// them by URL.
func (c *Client) DescribeImages(ctx context.Context, images []models.CandidateImage) ([]models.EnrichmentResult, error) {
	if len(images) == 0 {
		return nil, nil
	}

	type describeInput struct {
		URL     string `json:"url"`
		Alt     string `json:"alt,omitempty"`
		Context string `json:"context,omitempty"`
	}
	inputs := make([]describeInput, 0, len(images))
	for _, img := range images {
		inputs = append(inputs, describeInput{URL: img.URL, Alt: img.AltText, Context: img.Context})
	}

	inputJSON, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal describe input: %w", err)
	}

	prompt := fmt.Sprintf(`For each image below, write a short marketing-ready alt description based on its URL, alt text, and context. Classify each as "ui_screenshot" or "lifestyle" and give a confidence between 0.0 and 1.0.

Images:
%s

Return ONLY a JSON array of objects with keys "url", "alt", "type", "confidence". No explanation.`, string(inputJSON))

	response, err := c.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	payload, err := extractJSONArray(response)
	if err != nil {
		return nil, fmt.Errorf("failed to parse description response: %w", err)
	}

	var results []models.EnrichmentResult
	if err := json.Unmarshal([]byte(payload), &results); err != nil {
		return nil, fmt.Errorf("failed to decode description response: %w", err)
	}
	return results, nil
}

// parseStringArray decodes a model reply expected to be a JSON array of
// strings
func parseStringArray(response string) ([]string, error) {
	payload, err := extractJSONArray(response)
	if err != nil {
		return nil, err
	}
	var parsed []string
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("reply is not a JSON string array: %w", err)
	}
	return parsed, nil
}

// extractJSONArray locates the outermost JSON array in a model reply,
// tolerating surrounding prose and markdown code fences
func extractJSONArray(response string) (string, error) {
	s := strings.TrimSpace(response)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON array found in reply")
	}
	return s[start : end+1], nil
}
