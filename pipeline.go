// Package imageharvest extracts a small set of high-quality product
// images from a website: it fetches pages through a render service,
// asks a language model which internal pages likely carry product
// imagery, harvests candidate image URLs from the HTML, collapses
// near-duplicates by perceptual fingerprint, filters out low-quality
// assets, and enriches the survivors with AI-generated descriptions.
package imageharvest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/zombar/imageharvest/fetcher"
	"github.com/zombar/imageharvest/metrics"
	"github.com/zombar/imageharvest/models"
	"github.com/zombar/imageharvest/storage"
	"github.com/zombar/imageharvest/webhook"
)

const userAgent = "Mozilla/5.0 (compatible; ImageHarvest/1.0)"

// Pipeline states. A job moves through these in order; failed is
// reachable from any of them.
const (
	stateValidating       = "validating"
	stateFetchingHome     = "fetching_home"
	stateFilteringLinks   = "filtering_links"
	stateFetchingSubpages = "fetching_subpages"
	stateHarvesting       = "harvesting"
	stateDeduplicating    = "deduplicating"
	stateEnriching        = "enriching"
)

// LLM is the language-model collaborator contract. Replies are
// best-effort and may be malformed; every implementation returns an
// error rather than guessing, and every call site degrades on it.
type LLM interface {
	RankLinks(ctx context.Context, links []string, limit int) ([]string, error)
	ExtractImageURLs(ctx context.Context, rawHTML, sourceURL string, limit int) ([]string, error)
	DescribeImages(ctx context.Context, images []models.CandidateImage) ([]models.EnrichmentResult, error)
}

// DB persists finished jobs. It can be nil when persistence is not
// configured; saves are always best-effort.
type DB interface {
	SaveJobResult(resp *models.ExtractResponse) error
}

// Pipeline orchestrates the five-stage extraction flow and owns the
// job-level error boundary.
type Pipeline struct {
	config     Config
	fetcher    fetcher.Client
	llm        LLM
	store      storage.Store
	db         DB
	notifier   *webhook.Notifier
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// New creates a new Pipeline instance. llm, store, and database may be
// nil; the corresponding stages degrade gracefully.
func New(config Config, fc fetcher.Client, llm LLM, store storage.Store, database DB) *Pipeline {
	return &Pipeline{
		config:  config,
		fetcher: fc,
		llm:     llm,
		store:   store,
		db:      database,
		notifier: webhook.New(webhook.Config{
			Timeout:     config.WebhookTimeout,
			MaxAttempts: config.WebhookRetries,
			BackoffBase: config.WebhookBackoffBase,
		}),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: metrics.Default(),
	}
}

// Run executes one job. It always returns a structured response: a
// failed job carries its error taxonomy in the payload rather than
// propagating an error to the transport layer.
func (p *Pipeline) Run(ctx context.Context, req models.ExtractRequest) (resp *models.ExtractResponse) {
	start := time.Now()

	ctx, span := otel.Tracer("imageharvest").Start(ctx, "pipeline.run")
	defer span.End()

	job := models.Job{
		ID:        req.JobID,
		SourceURL: req.URL,
		StartedAt: start,
		Status:    models.JobStatusStarted,
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	// The job never retries itself; an unhandled error anywhere in the
	// flow lands in failed.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s panicked: %v", job.ID, r)
			resp = p.fail(ctx, job, start, req.WebhookURL,
				newError(KindInternal, "internal pipeline error", fmt.Errorf("%v", r)))
		}
	}()

	if req.WebhookURL != "" {
		p.notify(ctx, req.WebhookURL, models.StartedEvent{
			JobID:     job.ID,
			Status:    models.JobStatusStarted,
			SourceURL: req.URL,
			StartedAt: start,
			Message:   "image extraction started",
		})
	}

	// validating
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return p.fail(ctx, job, start, req.WebhookURL, newError(KindInvalidInput, "invalid URL", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return p.fail(ctx, job, start, req.WebhookURL,
			newError(KindInvalidInput, "URL must be http or https", nil))
	}

	// fetching_home
	stageStart := time.Now()
	page, err := p.fetchHomepage(ctx, req.URL, req.ForceRefresh)
	p.observeStage(stateFetchingHome, stageStart)
	if err != nil {
		return p.fail(ctx, job, start, req.WebhookURL,
			newError(KindUpstreamFetch, "failed to fetch page", err))
	}

	// filtering_links
	stageStart = time.Now()
	keptLinks := p.filterLinks(ctx, page.Links)
	p.observeStage(stateFilteringLinks, stageStart)

	// fetching_subpages
	stageStart = time.Now()
	subpages := p.fetchSubpages(ctx, keptLinks)
	p.observeStage(stateFetchingSubpages, stageStart)

	// harvesting
	stageStart = time.Now()
	type document struct {
		url  string
		html string
	}
	docs := []document{{url: pageURLOr(page, req.URL), html: page.RawHTML}}
	for _, sp := range subpages {
		docs = append(docs, document{url: pageURLOr(sp, req.URL), html: sp.RawHTML})
	}

	var candidates []models.CandidateImage
	rawDocs := make([]string, 0, len(docs))
	for _, d := range docs {
		rawDocs = append(rawDocs, d.html)
		candidates = append(candidates, harvestImages(d.html, d.url, p.config.StrictFormats)...)
	}
	if len(candidates) == 0 {
		candidates = p.fallbackExtract(ctx, rawDocs, req.URL)
	}
	p.metrics.CandidatesHarvested.Add(float64(len(candidates)))
	p.observeStage(stateHarvesting, stageStart)
	log.Printf("Job %s: harvested %d candidates from %d documents", job.ID, len(candidates), len(docs))

	// deduplicating
	stageStart = time.Now()
	deduped := p.dedupeCandidates(ctx, candidates)
	filtered := p.filterQuality(ctx, deduped)
	p.observeStage(stateDeduplicating, stageStart)
	log.Printf("Job %s: %d images after dedup, %d after quality filter", job.ID, len(deduped), len(filtered))

	// enriching
	stageStart = time.Now()
	finals := p.enrichImages(ctx, filtered)
	p.observeStage(stateEnriching, stageStart)

	// completed
	resp = &models.ExtractResponse{
		JobID:            job.ID,
		Status:           models.JobStatusCompleted,
		SourceURL:        req.URL,
		GeneratedAt:      time.Now().UTC(),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Images:           finals,
	}

	p.metrics.JobsTotal.WithLabelValues(models.JobStatusCompleted).Inc()
	p.metrics.ImagesReturned.Observe(float64(len(finals)))
	p.persist(resp)
	if req.WebhookURL != "" {
		p.notify(ctx, req.WebhookURL, resp)
	}

	return resp
}

// fail assembles the structured failure response, persists it, and
// fires the failed webhook event
func (p *Pipeline) fail(ctx context.Context, job models.Job, start time.Time, webhookURL string, perr *PipelineError) *models.ExtractResponse {
	resp := &models.ExtractResponse{
		JobID:            job.ID,
		Status:           models.JobStatusFailed,
		SourceURL:        job.SourceURL,
		GeneratedAt:      time.Now().UTC(),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Error:            perr.Message,
	}
	if perr.Err != nil {
		resp.Details = perr.Err.Error()
	}

	log.Printf("Job %s failed (%s): %v", job.ID, perr.Kind, perr)
	p.metrics.JobsTotal.WithLabelValues(models.JobStatusFailed).Inc()
	p.persist(resp)
	if webhookURL != "" {
		p.notify(ctx, webhookURL, resp)
	}

	return resp
}

// fetchHomepage wraps the page-fetch collaborator with a read-through
// cache keyed by content address. Storage failures degrade to a cache
// miss; cache write failures are logged and swallowed.
func (p *Pipeline) fetchHomepage(ctx context.Context, sourceURL string, force bool) (*models.PageData, error) {
	key := cacheKey(sourceURL)

	if p.store != nil && !force {
		data, err := p.store.Get(ctx, key)
		if err == nil {
			var page models.PageData
			if jerr := json.Unmarshal(data, &page); jerr == nil {
				p.metrics.CacheEvents.WithLabelValues("hit").Inc()
				log.Printf("Cache hit for %s", sourceURL)
				return &page, nil
			}
			log.Printf("Discarding corrupt cache entry for %s", sourceURL)
		} else if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Cache read failed for %s, treating as miss: %v", sourceURL, err)
		}
		p.metrics.CacheEvents.WithLabelValues("miss").Inc()
	} else if force {
		p.metrics.CacheEvents.WithLabelValues("bypass").Inc()
	}

	page, err := p.fetcher.Fetch(ctx, sourceURL, fetcher.Options{
		Formats:     []string{"html", "links"},
		CacheBypass: force,
	})
	if err != nil {
		return nil, err
	}

	if p.store != nil {
		if data, jerr := json.Marshal(page); jerr == nil {
			if werr := p.store.Put(ctx, key, data, p.config.CacheTTL); werr != nil {
				log.Printf("Cache write failed for %s: %v", sourceURL, werr)
			}
		}
	}

	return page, nil
}

// filterLinks sends the homepage's discovered links to the
// link-prioritization capability and keeps the top results. An
// unparseable reply defaults to an empty list: nothing further is
// scraped, the job continues on homepage images alone.
func (p *Pipeline) filterLinks(ctx context.Context, links []string) []string {
	if p.llm == nil || len(links) == 0 || p.config.MaxSubPages <= 0 {
		return nil
	}

	ranked, err := p.llm.RankLinks(ctx, links, p.config.MaxSubPages)
	if err != nil {
		log.Printf("Link prioritization failed, continuing with homepage only: %v", err)
		return nil
	}
	if len(ranked) > p.config.MaxSubPages {
		ranked = ranked[:p.config.MaxSubPages]
	}
	return ranked
}

// fetchSubpages fetches the kept links concurrently. A failed sub-page
// contributes zero HTML and never aborts its siblings; surviving pages
// keep their ranked order.
func (p *Pipeline) fetchSubpages(ctx context.Context, links []string) []*models.PageData {
	if len(links) == 0 {
		return nil
	}

	pages := make([]*models.PageData, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, link string) {
			defer wg.Done()
			page, err := p.fetcher.Fetch(ctx, link, fetcher.Options{Formats: []string{"html"}})
			if err != nil {
				log.Printf("Sub-page fetch failed for %s: %v", link, err)
				return
			}
			pages[i] = page
		}(i, link)
	}
	wg.Wait()

	kept := make([]*models.PageData, 0, len(pages))
	for _, page := range pages {
		if page != nil {
			kept = append(kept, page)
		}
	}
	return kept
}

func (p *Pipeline) notify(ctx context.Context, endpoint string, payload interface{}) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Deliver(ctx, endpoint, payload); err != nil {
		p.metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		log.Printf("Webhook delivery failed, job unaffected: %v", err)
		return
	}
	p.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
}

func (p *Pipeline) persist(resp *models.ExtractResponse) {
	if p.db == nil {
		return
	}
	if err := p.db.SaveJobResult(resp); err != nil {
		log.Printf("Failed to persist job %s: %v", resp.JobID, err)
	}
}

func (p *Pipeline) observeStage(stage string, began time.Time) {
	p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(began).Seconds())
}

// cacheKey derives the content address for a source URL's cached page
func cacheKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:]) + "/homepage.json"
}

func pageURLOr(page *models.PageData, fallback string) string {
	if page.URL != "" {
		return page.URL
	}
	return fallback
}
