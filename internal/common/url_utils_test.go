package common

import "testing"

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443/Path?b=2&a=1&utm_source=newsletter#frag",
		"http://example.com:80/path",
		"https://example.com/search?q=go&fbclid=abc123",
		"not a url at all",
		"https://example.com/path?z=1&z=0&m=x",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		twice := NormalizeURL(once)
		if once != twice {
			t.Errorf("NormalizeURL not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalizeURLDropsTrackingParams(t *testing.T) {
	got := NormalizeURL("https://example.com/a?utm_source=x&utm_campaign=y&gclid=z&keep=1")
	if got != "https://example.com/a?keep=1" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeURLStripsDefaultPortAndFragment(t *testing.T) {
	got := NormalizeURL("HTTP://Example.com:80/Path#section")
	if got != "http://example.com/Path" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeURLSortsQueryParams(t *testing.T) {
	got := NormalizeURL("https://example.com/a?b=2&a=1")
	if got != "https://example.com/a?a=1&b=2" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeURLExtraTrackingParams(t *testing.T) {
	got := NormalizeURL("https://example.com/a?session=xyz&keep=1", "session")
	if got != "https://example.com/a?keep=1" {
		t.Fatalf("got %q", got)
	}
}

func TestURLHashStable(t *testing.T) {
	a := URLHash(NormalizeURL("https://example.com/a"))
	b := URLHash(NormalizeURL("https://Example.com/a"))
	if a != b {
		t.Fatalf("hash mismatch for equivalent urls: %q vs %q", a, b)
	}
}

func TestResolveURL(t *testing.T) {
	got := ResolveURL("https://example.com/dir/page.html", "../other.html")
	if got != "https://example.com/other.html" {
		t.Fatalf("got %q", got)
	}
	if ResolveURL("://bad base", "x") != "" {
		t.Fatalf("expected empty string on unparseable base")
	}
}
