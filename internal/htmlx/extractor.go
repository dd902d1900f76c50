// Package htmlx extracts links and structured fields from HTML documents
//, grounded on the teacher's goquery-based
// internal/services/crawler/content_processor.go (title/metadata
// extraction) and link_extractor.go (href discovery), generalized from
// hardcoded source-type filtering to the spec's container+sub-selector
// extraction model driven by a Website's configured Step.
package htmlx

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
)

// Extractor applies CSS selectors to parsed HTML documents.
type Extractor struct {
	logger arbor.ILogger
}

// New creates an Extractor.
func New(logger arbor.ILogger) *Extractor {
	return &Extractor{logger: logger}
}

// Row is one extracted record from a container+sub-selector pass: either a
// list-page row (url + field values) or, with a single implicit field, a
// flat anchor extraction.
type Row struct {
	URL    string
	Fields map[string]string
}

// ExtractRows runs the container+sub-selector extraction pattern:
// container selects each row, urlSelector locates the URL within a row (from
// the element's href; a row with no href is skipped), and fieldSelectors
// locates named fields within the row. baseURL resolves relative hrefs
// against the page's final, post-redirect URL.
func (e *Extractor) ExtractRows(html, baseURL, container, urlSelector string, fieldSelectors map[string]string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var rows []Row
	seen := make(map[string]bool) // intra-page dedup

	selection := doc.Selection
	if container != "" {
		selection = doc.Find(container)
	}

	selection.Each(func(_ int, row *goquery.Selection) {
		url := e.resolveURLFromSelector(row, urlSelector, baseURL)
		if url == "" {
			return
		}
		if seen[url] {
			return
		}
		seen[url] = true

		fields := make(map[string]string, len(fieldSelectors))
		for name, sel := range fieldSelectors {
			fields[name] = strings.TrimSpace(row.Find(sel).First().Text())
		}
		rows = append(rows, Row{URL: url, Fields: fields})
	})

	return rows, nil
}

func (e *Extractor) resolveURLFromSelector(scope *goquery.Selection, selector, baseURL string) string {
	target := scope
	if selector != "" {
		target = scope.Find(selector).First()
	}
	href, exists := target.Attr("href")
	if !exists || href == "" {
		return ""
	}
	return common.ResolveURL(baseURL, href)
}

// ExtractAllLinks extracts every <a href> in the document, resolved against
// baseURL, deduplicated within the page (§4.3.b "intra-page URL duplicates
// are dropped"). Fragment-only, javascript:, mailto:, and tel: hrefs are
// skipped.
func (e *Extractor) ExtractAllLinks(html, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}
		resolved := common.ResolveURL(baseURL, href)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links, nil
}

// FindNextPageURL locates the next-page link via an explicit selector
//, resolving it against baseURL.
func (e *Extractor) FindNextPageURL(html, baseURL, nextButtonSelector string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	sel := doc.Find(nextButtonSelector).First()
	href, exists := sel.Attr("href")
	if !exists || href == "" {
		return "", false
	}
	return common.ResolveURL(baseURL, href), true
}

// ExtractFields runs a detail-page field extraction pass (§4.3 step 6
// "extract fields per selectors" for a scrape_detail step), grounded on the
// teacher's extractTitle (internal/services/crawler/content_processor.go)
// fallback chain: <title>, then Open Graph, then Twitter Card.
func (e *Extractor) ExtractFields(html string, fieldSelectors map[string]string) (fields map[string]string, title string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", err
	}

	title = extractTitle(doc)

	fields = make(map[string]string, len(fieldSelectors))
	for name, sel := range fieldSelectors {
		fields[name] = strings.TrimSpace(doc.Find(sel).First().Text())
	}
	return fields, title, nil
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t, exists := doc.Find(`meta[property="og:title"]`).Attr("content"); exists && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	if t, exists := doc.Find(`meta[name="twitter:title"]`).Attr("content"); exists && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return ""
}

// NormalizedText extracts normalized text content for content-hash/Simhash
// comparison (§4.5 "strip script/style, collapse whitespace, drop known
// boilerplate selectors from config").
func (e *Extractor) NormalizedText(html string, boilerplateSelectors []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style").Remove()
	for _, sel := range boilerplateSelectors {
		if sel == "" {
			continue
		}
		doc.Find(sel).Remove()
	}

	text := doc.Text()
	return collapseWhitespace(text), nil
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
