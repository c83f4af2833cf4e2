// Package canonical normalizes image references so that equivalent
// resources compare equal downstream.
package canonical

import (
	"net/url"
	"strings"
)

// Resolve resolves a possibly-relative reference against a base page URL
// and returns the absolute form. The second return value is false when
// the reference is malformed or does not resolve to an http(s) URL; the
// caller is expected to discard such references rather than propagate
// them.
func Resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}

	resolved := parsed
	if base != nil {
		resolved = base.ResolveReference(parsed)
	}

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if resolved.Host == "" {
		return "", false
	}

	return resolved.String(), true
}

// StripQuery drops the query string and fragment from an absolute URL.
// The result is used solely as a join and comparison key, never for
// fetching. Malformed input is returned unchanged so that joins still
// line up on whatever string both sides carried.
func StripQuery(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String()
}
