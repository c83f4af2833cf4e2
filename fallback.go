package imageharvest

import (
	"context"
	"log"
	"strings"

	"github.com/zombar/imageharvest/canonical"
	"github.com/zombar/imageharvest/models"
)

// fallbackExtract asks the language model to pull image URLs out of raw
// markup. It is invoked only when harvesting produced nothing across
// all fetched documents. A parse failure from the model degrades to
// zero candidates; the enclosing pipeline tolerates an empty result.
func (p *Pipeline) fallbackExtract(ctx context.Context, docs []string, sourceURL string) []models.CandidateImage {
	if p.llm == nil {
		return nil
	}

	combined := strings.Join(docs, "\n")
	if len(combined) > p.config.FallbackHTMLLimit {
		combined = combined[:p.config.FallbackHTMLLimit]
	}
	if strings.TrimSpace(combined) == "" {
		return nil
	}

	urls, err := p.llm.ExtractImageURLs(ctx, combined, sourceURL, p.config.FallbackMaxURLs)
	if err != nil {
		log.Printf("Fallback image extraction failed for %s: %v", sourceURL, err)
		return nil
	}

	// Returned strings are treated as already-absolute; nothing is
	// re-resolved, but non-http(s) strings are still dropped to keep the
	// candidate invariant.
	seen := make(map[string]bool)
	var candidates []models.CandidateImage
	for _, raw := range urls {
		resolved, ok := canonical.Resolve(nil, raw)
		if !ok {
			continue
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		candidates = append(candidates, models.CandidateImage{
			URL:         resolved,
			LandingPage: sourceURL,
		})
	}

	if len(candidates) > 0 {
		log.Printf("Fallback extractor recovered %d image URLs for %s", len(candidates), sourceURL)
	}
	return candidates
}
