package imageharvest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zombar/imageharvest/models"
)

// sizedPNG encodes a width x height single-color PNG
func sizedPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func dedupedImage(url string) models.DedupedImage {
	return models.DedupedImage{
		CandidateImage: models.CandidateImage{URL: url, LandingPage: "https://example.com"},
		Fingerprint:    "00000000000000aa",
	}
}

func TestFilterQualityJunkTokens(t *testing.T) {
	p := newTestPipeline(DefaultConfig())

	images := []models.DedupedImage{
		dedupedImage("https://example.com/images/brand-logo.png"),
		dedupedImage("https://example.com/icons/arrow.png"),
	}

	kept := p.filterQuality(context.Background(), images)
	if len(kept) != 0 {
		t.Fatalf("Expected junk-token URLs to be dropped, got %d survivors", len(kept))
	}
}

func TestFilterQualitySkipsProbeWhenSizeKnown(t *testing.T) {
	p := newTestPipeline(DefaultConfig())

	// The URL is unreachable; a probe attempt would fail. A trustworthy
	// transport size skips the probe entirely.
	img := dedupedImage("http://127.0.0.1:1/unreachable.jpg")
	img.HasKnownSize = true
	img.FileSizeBytes = 150 * 1024

	kept := p.filterQuality(context.Background(), []models.DedupedImage{img})
	if len(kept) != 1 {
		t.Fatalf("Expected known-size image to skip the probe and survive, got %d", len(kept))
	}
}

func TestFilterQualityUsesRecordedDimensions(t *testing.T) {
	p := newTestPipeline(DefaultConfig())

	big := dedupedImage("http://127.0.0.1:1/big.jpg")
	big.Width = 800
	big.Height = 600

	small := dedupedImage("http://127.0.0.1:1/small.jpg")
	small.Width = 50
	small.Height = 50

	kept := p.filterQuality(context.Background(), []models.DedupedImage{big, small})
	if len(kept) != 1 {
		t.Fatalf("Expected 1 survivor from recorded dimensions, got %d", len(kept))
	}
	if kept[0].URL != big.URL {
		t.Errorf("Wrong survivor: %s", kept[0].URL)
	}
}

func TestFilterQualityProbesDimensions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wide.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(sizedPNG(t, 400, 50))
		case "/tiny.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(sizedPNG(t, 100, 100))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := newTestPipeline(DefaultConfig())

	kept := p.filterQuality(context.Background(), []models.DedupedImage{
		dedupedImage(server.URL + "/wide.png"),
		dedupedImage(server.URL + "/tiny.png"),
	})

	// 400x50 passes: one side meets the minimum. 100x100 does not.
	if len(kept) != 1 {
		t.Fatalf("Expected 1 survivor after probing, got %d", len(kept))
	}
	if kept[0].URL != server.URL+"/wide.png" {
		t.Errorf("Wrong survivor: %s", kept[0].URL)
	}
	if kept[0].Width != 400 || kept[0].Height != 50 {
		t.Errorf("Probed dimensions = %dx%d, want 400x50", kept[0].Width, kept[0].Height)
	}
}

func TestFilterQualityProbeFailurePolicies(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	img := dedupedImage(server.URL + "/gone.jpg")

	lenient := newTestPipeline(DefaultConfig())
	kept := lenient.filterQuality(context.Background(), []models.DedupedImage{img})
	if len(kept) != 1 {
		t.Fatalf("Lenient policy: expected unprobeable image kept, got %d", len(kept))
	}

	strictConfig := DefaultConfig()
	strictConfig.StrictProbeFailures = true
	strict := newTestPipeline(strictConfig)
	kept = strict.filterQuality(context.Background(), []models.DedupedImage{img})
	if len(kept) != 0 {
		t.Fatalf("Strict policy: expected unprobeable image dropped, got %d", len(kept))
	}
}
