package imageharvest

import "time"

// Config contains pipeline configuration
type Config struct {
	HTTPTimeout  time.Duration // Timeout for page-fetch and LLM HTTP calls
	ImageTimeout time.Duration // Timeout for downloading individual candidate images

	MaxImages           int   // Cap on deduplicated images per job
	MaxImageSizeBytes   int64 // Maximum candidate download size (bytes)
	MinImageSizeBytes   int64 // Transport-reported sizes below this are skipped
	SimilarityThreshold int   // Max Hamming distance treated as a near-duplicate
	MinDimension        int   // Minimum pixel size on at least one side

	// StrictFormats enforces the file-extension allow-list at harvest time.
	// Permissive mode accepts anything and defers format judgment to the
	// HTTP response's declared content type, because some CDNs serve image
	// bytes behind extension-less URLs.
	StrictFormats bool

	// StrictProbeFailures drops images whose dimension probe fails. The
	// default is lenient: an unprobeable image is kept.
	StrictProbeFailures bool

	MaxSubPages       int // Top-K prioritized links to fetch beyond the homepage
	MaxDescribe       int // Cap on images sent for AI description
	DescribeBatchSize int // Images per description call
	FallbackHTMLLimit int // Max bytes of raw markup handed to the fallback extractor
	FallbackMaxURLs   int // Max URLs requested from the fallback extractor

	CacheTTL time.Duration // Page cache expiry

	WebhookTimeout     time.Duration
	WebhookRetries     int
	WebhookBackoffBase time.Duration // Backoff unit; delay is base << attempt
}

// DefaultConfig returns default pipeline configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:         30 * time.Second,
		ImageTimeout:        15 * time.Second,
		MaxImages:           50,
		MaxImageSizeBytes:   10 * 1024 * 1024, // 10MB
		MinImageSizeBytes:   20 * 1024,        // 20KB
		SimilarityThreshold: 8,
		MinDimension:        300,
		StrictFormats:       false,
		StrictProbeFailures: false,
		MaxSubPages:         4,
		MaxDescribe:         5,
		DescribeBatchSize:   5,
		FallbackHTMLLimit:   20000,
		FallbackMaxURLs:     10,
		CacheTTL:            24 * time.Hour,
		WebhookTimeout:      10 * time.Second,
		WebhookRetries:      3,
		WebhookBackoffBase:  time.Second,
	}
}
