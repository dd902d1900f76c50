package common

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// defaultTrackingParamPrefixes and defaultTrackingParams are dropped during
// NormalizeURL unless the caller supplies its own list.
var defaultTrackingParamPrefixes = []string{"utm_"}
var defaultTrackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"msclkid": true,
	"ref":     true,
	"_ga":     true,
}

// NormalizeURL canonicalizes a URL the way the dedup and extraction layers
// require: lowercase scheme+host, default ports removed, fragment dropped,
// tracking query parameters stripped, remaining query parameters
// stable-sorted. Path case is preserved. extraTrackingParams are additional
// parameter names to drop, from the website's config.
//
// NormalizeURL(NormalizeURL(u)) == NormalizeURL(u) for all u (P9).
func NormalizeURL(raw string, extraTrackingParams ...string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = stripDefaultPort(u.Scheme, strings.ToLower(u.Host))
	u.Fragment = ""

	drop := make(map[string]bool, len(defaultTrackingParams)+len(extraTrackingParams))
	for k, v := range defaultTrackingParams {
		drop[k] = v
	}
	for _, p := range extraTrackingParams {
		drop[strings.ToLower(p)] = true
	}

	if u.RawQuery != "" {
		query := u.Query()
		keys := make([]string, 0, len(query))
		for k := range query {
			if isTrackingParam(k, drop) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		values := url.Values{}
		for _, k := range keys {
			vals := append([]string(nil), query[k]...)
			sort.Strings(vals)
			values[k] = vals
		}
		u.RawQuery = values.Encode()
	}

	return u.String()
}

func isTrackingParam(key string, drop map[string]bool) bool {
	lower := strings.ToLower(key)
	if drop[lower] {
		return true
	}
	for _, prefix := range defaultTrackingParamPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

// URLHash computes the SHA-256 hash of a normalized URL, hex-encoded.
func URLHash(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// ContentHashHex computes the SHA-256 hash of normalized page content, hex-encoded.
func ContentHashHex(normalizedContent string) string {
	sum := sha256.Sum256([]byte(normalizedContent))
	return hex.EncodeToString(sum[:])
}

// ResolveURL resolves a possibly-relative href against a base URL (the
// page's final, post-redirect URL per §4.3.b). Returns "" if either fails
// to parse.
func ResolveURL(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}
