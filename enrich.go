package imageharvest

import (
	"context"
	"log"

	"github.com/zombar/imageharvest/canonical"
	"github.com/zombar/imageharvest/models"
)

// enrichImages attaches AI-generated descriptions to the surviving
// images. Enrichment is strictly additive: url, landing page, and hash
// pass through unchanged, results are joined back by canonical URL, and
// a candidate the model said nothing about keeps its harvested
// metadata. The model never reorders or removes anything.
func (p *Pipeline) enrichImages(ctx context.Context, images []models.DedupedImage) []models.FinalImage {
	eligible := make([]models.CandidateImage, 0, p.config.MaxDescribe)
	for _, img := range images {
		if len(eligible) >= p.config.MaxDescribe {
			break
		}
		if allowedExtensions[urlExtension(img.URL)] {
			eligible = append(eligible, img.CandidateImage)
		}
	}

	byKey := make(map[string]models.EnrichmentResult)
	if p.llm != nil && len(eligible) > 0 {
		batchSize := p.config.DescribeBatchSize
		if batchSize <= 0 {
			batchSize = len(eligible)
		}
		for start := 0; start < len(eligible); start += batchSize {
			end := min(start+batchSize, len(eligible))
			results, err := p.llm.DescribeImages(ctx, eligible[start:end])
			if err != nil {
				// Unparseable model output is treated as an empty batch.
				log.Printf("Image description batch failed: %v", err)
				continue
			}
			// Last write wins when the model returns the same URL twice.
			for _, r := range results {
				byKey[canonical.StripQuery(r.URL)] = r
			}
		}
	}

	finals := make([]models.FinalImage, 0, len(images))
	for _, img := range images {
		f := models.FinalImage{
			URL:         img.URL,
			LandingPage: img.LandingPage,
			Alt:         img.AltText,
			Hash:        img.Fingerprint,
			Width:       img.Width,
			Height:      img.Height,
			ContentType: img.ContentType,
			EXIF:        img.EXIF,
		}
		if r, ok := byKey[canonical.StripQuery(img.URL)]; ok {
			if r.Alt != "" {
				f.Alt = r.Alt
			}
			f.Type = r.Type
			f.Confidence = r.Confidence
		}
		finals = append(finals, f)
	}

	return finals
}
