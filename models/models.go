package models

import "time"

// CandidateImage is an image reference discovered during harvesting.
// URL and LandingPage are always absolute; malformed references are
// dropped before a candidate is created.
type CandidateImage struct {
	URL         string `json:"url"`
	LandingPage string `json:"landing_page"`
	AltText     string `json:"alt_text,omitempty"`
	Context     string `json:"context,omitempty"`
}

// DedupedImage is a candidate that survived similarity deduplication.
// One exists per cluster of near-identical candidates (first seen wins).
type DedupedImage struct {
	CandidateImage
	Fingerprint   string    `json:"fingerprint"`
	HasKnownSize  bool      `json:"has_known_size"`
	FileSizeBytes int64     `json:"file_size_bytes,omitempty"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	EXIF          *EXIFData `json:"exif,omitempty"`
}

// FinalImage is the externally returned entity: a deduplicated image
// with any enrichment metadata attached.
type FinalImage struct {
	URL         string    `json:"url"`
	LandingPage string    `json:"landing_page"`
	Alt         string    `json:"alt"`
	Hash        string    `json:"hash"`
	Type        string    `json:"type,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	EXIF        *EXIFData `json:"exif,omitempty"`
}

// EnrichmentResult is a single AI-generated description, produced
// out-of-order in batches and joined back by canonical URL.
type EnrichmentResult struct {
	URL        string   `json:"url"`
	Alt        string   `json:"alt"`
	Type       string   `json:"type,omitempty"` // "ui_screenshot" or "lifestyle"
	Confidence *float64 `json:"confidence,omitempty"`
}

// EXIFData contains EXIF metadata extracted from downloaded image bytes
type EXIFData struct {
	DateTime         string `json:"date_time,omitempty"`
	DateTimeOriginal string `json:"date_time_original,omitempty"`
	Make             string `json:"make,omitempty"`
	Model            string `json:"model,omitempty"`
	Software         string `json:"software,omitempty"`
	ImageDescription string `json:"image_description,omitempty"`
}

// Job statuses
const (
	JobStatusStarted   = "started"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job represents one end-to-end pipeline invocation for a single URL
type Job struct {
	ID        string    `json:"id"`
	SourceURL string    `json:"source_url"`
	StartedAt time.Time `json:"started_at"`
	Status    string    `json:"status"`
}

// ExtractRequest is the synchronous job submission body
type ExtractRequest struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	JobID        string `json:"job_id,omitempty"`
}

// ExtractResponse is the response payload for both completed and failed
// jobs. Failures are reported as structured payloads, never raw errors.
type ExtractResponse struct {
	JobID            string       `json:"job_id"`
	Status           string       `json:"status"`
	SourceURL        string       `json:"source_url"`
	GeneratedAt      time.Time    `json:"generated_at"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
	Images           []FinalImage `json:"images,omitempty"`
	Error            string       `json:"error,omitempty"`
	Details          string       `json:"details,omitempty"`
}

// StartedEvent is the webhook payload fired when a job begins
type StartedEvent struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	SourceURL string    `json:"source_url"`
	StartedAt time.Time `json:"started_at"`
	Message   string    `json:"message"`
}

// PageData is the payload returned by the page-fetch collaborator and
// the value cached by the cache gate.
type PageData struct {
	URL      string            `json:"url"`
	RawHTML  string            `json:"raw_html,omitempty"`
	Links    []string          `json:"links,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OllamaRequest represents a request to the Ollama API
type OllamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// OllamaResponse represents a response from the Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
}
