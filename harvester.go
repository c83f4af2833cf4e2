package imageharvest

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/zombar/imageharvest/canonical"
	"github.com/zombar/imageharvest/models"
)

// harvestJunkTokens mark references to non-product assets. Matching
// references are rejected at harvest time.
var harvestJunkTokens = []string{
	"icon",
	"logo",
	"favicon",
	"sprite",
	"avatar",
	"testimonial",
}

// allowedExtensions is the harvest-time format allow-list, enforced only
// in strict mode.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

var backgroundImageRe = regexp.MustCompile(`background(?:-image)?\s*:\s*url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// lazySrcAttrs are the lazy-load attribute variants checked after the
// primary src attribute.
var lazySrcAttrs = []string{"data-src", "data-lazy-src", "data-original"}

// harvestState accumulates candidates from a single document. The seen
// set guards against re-adding the same canonical URL twice within one
// page; cross-page repeats are left for the deduplicator.
type harvestState struct {
	base       *url.URL
	pageURL    string
	strict     bool
	seen       map[string]bool
	candidates []models.CandidateImage
}

// harvestImages scans an HTML document for image-bearing attributes and
// elements and returns an ordered sequence of candidates. Zero results
// is not an error; it is the trigger condition for the fallback
// extractor.
func harvestImages(rawHTML, pageURL string, strictFormats bool) []models.CandidateImage {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	h := &harvestState{
		base:    base,
		pageURL: pageURL,
		strict:  strictFormats,
		seen:    make(map[string]bool),
	}
	h.walk(doc)
	return h.candidates
}

func (h *harvestState) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "img":
			h.addImageElement(n)
		case "source":
			if srcset := attrValue(n, "srcset"); srcset != "" {
				h.add(firstSrcsetURL(srcset), attrValue(n, "alt"), "")
			}
		case "meta":
			if strings.EqualFold(attrValue(n, "property"), "og:image") {
				h.add(attrValue(n, "content"), "", "og:image")
			}
		case "noscript":
			// The parser treats noscript content as raw text; re-parse it
			// so fallback markup is still scanned.
			h.walkNoscript(n)
		}

		if style := attrValue(n, "style"); style != "" {
			if m := backgroundImageRe.FindStringSubmatch(style); m != nil {
				h.add(m[1], "", "background-image")
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		h.walk(c)
	}
}

// addImageElement picks the first available source for an img element:
// primary src, then lazy-load variants, then the first srcset entry.
func (h *harvestState) addImageElement(n *html.Node) {
	alt := attrValue(n, "alt")
	title := attrValue(n, "title")

	if src := attrValue(n, "src"); src != "" {
		h.add(src, alt, title)
		return
	}
	for _, attr := range lazySrcAttrs {
		if src := attrValue(n, attr); src != "" {
			h.add(src, alt, title)
			return
		}
	}
	if srcset := attrValue(n, "srcset"); srcset != "" {
		h.add(firstSrcsetURL(srcset), alt, title)
	}
}

func (h *harvestState) walkNoscript(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.TextNode {
			continue
		}
		inner, err := html.Parse(strings.NewReader(c.Data))
		if err != nil {
			continue
		}
		h.walk(inner)
	}
}

// add resolves, filters, and records a single image reference.
// Malformed references are dropped here and never propagated.
func (h *harvestState) add(ref, alt, context string) {
	resolved, ok := canonical.Resolve(h.base, ref)
	if !ok {
		return
	}

	if containsAnyToken(resolved, harvestJunkTokens) {
		return
	}

	if h.strict && !allowedExtensions[urlExtension(resolved)] {
		return
	}

	if h.seen[resolved] {
		return
	}
	h.seen[resolved] = true

	h.candidates = append(h.candidates, models.CandidateImage{
		URL:         resolved,
		LandingPage: h.pageURL,
		AltText:     alt,
		Context:     context,
	})
}

// attrValue returns the value of the named attribute, or ""
func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// firstSrcsetURL returns the URL of the first entry in a srcset list
func firstSrcsetURL(srcset string) string {
	first := srcset
	if idx := strings.Index(srcset, ","); idx != -1 {
		first = srcset[:idx]
	}
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// urlExtension returns the lowercase file extension of the URL path,
// ignoring the query string
func urlExtension(raw string) string {
	stripped := canonical.StripQuery(raw)
	parsed, err := url.Parse(stripped)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(parsed.Path))
}

func containsAnyToken(raw string, tokens []string) bool {
	lower := strings.ToLower(raw)
	for _, token := range tokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
