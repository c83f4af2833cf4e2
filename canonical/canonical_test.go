package canonical

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse base URL %q: %v", raw, err)
	}
	return u
}

func TestResolve(t *testing.T) {
	base := mustParse(t, "https://example.com/products/widgets")

	tests := []struct {
		name string
		ref  string
		want string
		ok   bool
	}{
		{
			name: "absolute URL passes through",
			ref:  "https://cdn.example.com/hero.jpg",
			want: "https://cdn.example.com/hero.jpg",
			ok:   true,
		},
		{
			name: "relative path resolves against base",
			ref:  "../assets/shot.png",
			want: "https://example.com/assets/shot.png",
			ok:   true,
		},
		{
			name: "root-relative path",
			ref:  "/img/banner.webp",
			want: "https://example.com/img/banner.webp",
			ok:   true,
		},
		{
			name: "protocol-relative URL",
			ref:  "//cdn.example.com/a.png",
			want: "https://cdn.example.com/a.png",
			ok:   true,
		},
		{
			name: "empty reference rejected",
			ref:  "",
			ok:   false,
		},
		{
			name: "whitespace reference rejected",
			ref:  "   ",
			ok:   false,
		},
		{
			name: "malformed reference rejected",
			ref:  "ht!tp://%zz",
			ok:   false,
		},
		{
			name: "data URI rejected",
			ref:  "data:image/png;base64,iVBORw0KGgo=",
			ok:   false,
		},
		{
			name: "javascript scheme rejected",
			ref:  "javascript:void(0)",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(base, tt.ref)
			if ok != tt.ok {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.ref, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	base := mustParse(t, "https://example.com/page")

	urls := []string{
		"https://example.com/a.jpg",
		"https://cdn.example.com/path/to/image.png?v=3",
		"http://example.org/x.webp",
	}

	for _, raw := range urls {
		first, ok := Resolve(base, raw)
		if !ok {
			t.Fatalf("Resolve(%q) unexpectedly failed", raw)
		}
		second, ok := Resolve(base, first)
		if !ok {
			t.Fatalf("Resolve(Resolve(%q)) unexpectedly failed", raw)
		}
		if first != second {
			t.Errorf("canonicalization not idempotent: %q -> %q -> %q", raw, first, second)
		}
	}
}

func TestStripQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/a.jpg?v=1", "https://example.com/a.jpg"},
		{"https://example.com/a.jpg?v=2&w=300", "https://example.com/a.jpg"},
		{"https://example.com/a.jpg", "https://example.com/a.jpg"},
		{"https://example.com/a.jpg#frag", "https://example.com/a.jpg"},
	}

	for _, tt := range tests {
		if got := StripQuery(tt.in); got != tt.want {
			t.Errorf("StripQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	// Two URLs differing only by query string share a join key.
	a := StripQuery("https://example.com/img/p.png?cache=1")
	b := StripQuery("https://example.com/img/p.png?cache=2")
	if a != b {
		t.Errorf("expected matching join keys, got %q and %q", a, b)
	}
}
