package imageharvest

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"

	"github.com/zombar/imageharvest/models"
)

// qualityJunkTokens is a second, narrower token check applied after
// deduplication, as defense in depth beyond the harvest-time filter.
var qualityJunkTokens = []string{"icon", "logo"}

// probeReadLimit bounds how much of an image is read to decode its
// header during a dimension probe.
const probeReadLimit = 256 * 1024

// filterQuality removes deduplicated images that are too small or whose
// filename signals a non-product asset. Items with a trustworthy byte
// size from deduplication skip the dimension probe entirely; the size
// already implies non-trivial content.
func (p *Pipeline) filterQuality(ctx context.Context, images []models.DedupedImage) []models.DedupedImage {
	kept := make([]models.DedupedImage, 0, len(images))

	for _, img := range images {
		if containsAnyToken(img.URL, qualityJunkTokens) {
			log.Printf("Dropping %s: filename signals non-product asset", img.URL)
			continue
		}

		if img.HasKnownSize {
			kept = append(kept, img)
			continue
		}

		width, height := img.Width, img.Height
		if width == 0 && height == 0 {
			var err error
			width, height, err = p.probeDimensions(ctx, img.URL)
			if err != nil {
				// Probe-failure policy is a named option: strict drops,
				// lenient keeps. It never varies between code paths.
				if p.config.StrictProbeFailures {
					log.Printf("Dropping %s: dimension probe failed: %v", img.URL, err)
					continue
				}
				log.Printf("Keeping %s despite failed dimension probe: %v", img.URL, err)
				kept = append(kept, img)
				continue
			}
		}

		if width < p.config.MinDimension && height < p.config.MinDimension {
			log.Printf("Dropping %s: %dx%d below minimum dimension %d",
				img.URL, width, height, p.config.MinDimension)
			continue
		}

		img.Width = width
		img.Height = height
		kept = append(kept, img)
	}

	return kept
}

// probeDimensions decodes only the image header, never the full image
func (p *Pipeline) probeDimensions(ctx context.Context, imageURL string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, 0, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	cfg, _, err := image.DecodeConfig(io.LimitReader(resp.Body, probeReadLimit))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image header: %w", err)
	}

	return cfg.Width, cfg.Height, nil
}
