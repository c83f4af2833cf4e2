// Package webhook delivers job lifecycle events to caller-supplied
// endpoints with bounded retry. Delivery failures are surfaced to the
// caller but must never fail the underlying job.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Config contains notifier configuration
type Config struct {
	Timeout     time.Duration // Per-request timeout
	MaxAttempts int           // Total delivery attempts per event
	BackoffBase time.Duration // Backoff unit; delay after attempt n is base << n
}

// DefaultConfig returns default notifier configuration
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Second,
	}
}

// Notifier delivers JSON payloads over HTTP
type Notifier struct {
	config     Config
	httpClient *http.Client
}

// New creates a new Notifier instance
func New(config Config) *Notifier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Notifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Deliver posts the payload to the endpoint, retrying with exponential
// backoff until the attempt budget is exhausted.
func (n *Notifier) Deliver(ctx context.Context, endpoint string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.config.MaxAttempts; attempt++ {
		if err := n.post(ctx, endpoint, body); err != nil {
			lastErr = err
			log.Printf("Webhook delivery attempt %d/%d to %s failed: %v",
				attempt, n.config.MaxAttempts, endpoint, err)
		} else {
			return nil
		}

		if attempt < n.config.MaxAttempts {
			select {
			case <-time.After(n.config.BackoffBase << attempt):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("webhook delivery to %s failed after %d attempts: %w",
		endpoint, n.config.MaxAttempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	return nil
}
