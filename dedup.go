package imageharvest

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/corona10/goimagehash"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/zombar/imageharvest/canonical"
	"github.com/zombar/imageharvest/models"
)

// fetchWorkers bounds concurrent candidate downloads. The accept/reject
// decision depends on the running set of already-kept fingerprints, so
// it stays serialized even though the byte-fetches run in parallel.
const fetchWorkers = 5

type fetchedCandidate struct {
	err          error
	hash         *goimagehash.ImageHash
	byteSize     int64
	hasKnownSize bool
	width        int
	height       int
	contentType  string
	exif         *models.EXIFData
}

// dedupeCandidates retrieves each candidate in discovery order, computes
// a perceptual fingerprint, and drops any candidate within the Hamming
// similarity threshold of one already kept. The relation is applied
// greedily against the kept set, not as global clustering: a later image
// can duplicate B while being distinct from A even when A and B are
// distinct from each other. First seen wins, and insertion stops at the
// cap.
func (p *Pipeline) dedupeCandidates(ctx context.Context, candidates []models.CandidateImage) []models.DedupedImage {
	limit := p.config.MaxImages
	if limit <= 0 {
		limit = DefaultConfig().MaxImages
	}

	kept := make([]models.DedupedImage, 0, min(limit, len(candidates)))
	var keptHashes []*goimagehash.ImageHash

	for start := 0; start < len(candidates) && len(kept) < limit; start += fetchWorkers {
		end := min(start+fetchWorkers, len(candidates))
		window := candidates[start:end]
		results := make([]fetchedCandidate, len(window))

		var wg sync.WaitGroup
		for i := range window {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = p.fetchCandidate(ctx, window[i])
			}(i)
		}
		wg.Wait()

		for i, r := range results {
			c := window[i]

			if r.err != nil {
				// Individual fetch failures are not fatal to the job.
				log.Printf("Skipping candidate %s: %v", c.URL, r.err)
				continue
			}

			if r.hasKnownSize && r.byteSize < p.config.MinImageSizeBytes {
				log.Printf("Skipping candidate %s: reported size %d below minimum %d",
					c.URL, r.byteSize, p.config.MinImageSizeBytes)
				continue
			}

			duplicate := false
			for _, h := range keptHashes {
				if dist, derr := r.hash.Distance(h); derr == nil && dist <= p.config.SimilarityThreshold {
					duplicate = true
					break
				}
			}
			if duplicate {
				p.metrics.DuplicatesDropped.Inc()
				continue
			}

			kept = append(kept, models.DedupedImage{
				CandidateImage: c,
				Fingerprint:    fmt.Sprintf("%016x", r.hash.GetHash()),
				HasKnownSize:   r.hasKnownSize,
				FileSizeBytes:  r.byteSize,
				Width:          r.width,
				Height:         r.height,
				ContentType:    r.contentType,
				EXIF:           r.exif,
			})
			keptHashes = append(keptHashes, r.hash)
			if len(kept) >= limit {
				break
			}
		}
	}

	return kept
}

// fetchCandidate downloads one candidate and fingerprints it. Non-bitmap
// or unreadable payloads fall back to a stable URL-derived fingerprint
// rather than failing the candidate.
func (p *Pipeline) fetchCandidate(ctx context.Context, c models.CandidateImage) fetchedCandidate {
	ctx, cancel := context.WithTimeout(ctx, p.config.ImageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return fetchedCandidate{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fetchedCandidate{err: fmt.Errorf("failed to fetch image: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fetchedCandidate{err: fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)}
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])

	// Permissive format mode defers format judgment to the declared
	// content type of the response.
	if !p.config.StrictFormats && contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return fetchedCandidate{err: fmt.Errorf("non-image content type %q", contentType)}
	}

	result := fetchedCandidate{
		hasKnownSize: resp.ContentLength > 0,
		byteSize:     resp.ContentLength,
		contentType:  contentType,
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxImageSizeBytes+1))
	if err != nil {
		return fetchedCandidate{err: fmt.Errorf("failed to read image data: %w", err)}
	}
	if int64(len(data)) > p.config.MaxImageSizeBytes {
		return fetchedCandidate{err: fmt.Errorf("image too large: exceeds %d bytes", p.config.MaxImageSizeBytes)}
	}
	if !result.hasKnownSize {
		result.byteSize = int64(len(data))
	}

	// The fingerprint keys off the canonical (query-stripped) URL when
	// the bytes cannot be decoded, so the same resource behind rotating
	// query strings still collapses.
	img, _, decodeErr := image.Decode(bytes.NewReader(data))
	if decodeErr == nil {
		hash, hashErr := goimagehash.DifferenceHash(img)
		if hashErr == nil {
			result.hash = hash
			bounds := img.Bounds()
			result.width = bounds.Dx()
			result.height = bounds.Dy()
		} else {
			result.hash = urlFallbackHash(c.URL)
		}
	} else {
		result.hash = urlFallbackHash(c.URL)
	}

	result.exif = extractEXIF(data)

	return result
}

// urlFallbackHash derives a content-independent fingerprint from the
// canonical URL string
func urlFallbackHash(rawURL string) *goimagehash.ImageHash {
	h := fnv.New64a()
	h.Write([]byte(canonical.StripQuery(rawURL)))
	return goimagehash.NewImageHash(h.Sum64(), goimagehash.DHash)
}

// extractEXIF pulls a small set of EXIF fields from raw image bytes,
// best-effort
func extractEXIF(data []byte) *models.EXIFData {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	e := &models.EXIFData{}
	e.DateTime = exifString(x, exif.DateTime)
	e.DateTimeOriginal = exifString(x, exif.DateTimeOriginal)
	e.Make = exifString(x, exif.Make)
	e.Model = exifString(x, exif.Model)
	e.Software = exifString(x, exif.Software)
	e.ImageDescription = exifString(x, exif.ImageDescription)

	if *e == (models.EXIFData{}) {
		return nil
	}
	return e
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	val, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(val)
}
