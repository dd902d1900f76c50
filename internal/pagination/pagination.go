// Package pagination detects and walks list-page pagination for a crawl
// step, grounded on the variable-substitution-driven
// URL-template style the teacher's config-driven crawl steps use.
package pagination

import (
	"fmt"
	"strings"
)

// Strategy is the closed set of pagination detection strategies, tried in
// order.
type Strategy string

const (
	StrategyURLTemplate Strategy = "url_template"
	StrategyNextButton  Strategy = "next_button"
	StrategyHeuristic   Strategy = "heuristic"
	StrategyNone        Strategy = "none" // single-page mode
)

// Config mirrors models.PaginationConfig's fields without importing models,
// so this package stays a pure algorithm with no storage dependency.
type Config struct {
	URLTemplate        string // e.g. "?page={page}"
	NextButtonSelector string
	MaxPages           int
}

// StopReason is why the pagination walk ended.
type StopReason string

const (
	StopMaxPages           StopReason = "max_pages"
	StopCircularPagination StopReason = "circular_pagination"
	StopEmptyResponses     StopReason = "empty_pages"
	StopCancelled          StopReason = "cancelled"
	StopNoMorePages        StopReason = "no_more_pages"
)

// Detect chooses the pagination strategy for a step: explicit
// URL-template first, then explicit next-button selector, then heuristic
// detection on the seed URL's query string. hasNextLink reports whether the
// heuristic pass found a plausible "next page" link on the seed page.
func Detect(cfg Config, seedURL string, hasNextLink bool) Strategy {
	if cfg.URLTemplate != "" {
		return StrategyURLTemplate
	}
	if cfg.NextButtonSelector != "" {
		return StrategyNextButton
	}
	if looksPaginated(seedURL) || hasNextLink {
		return StrategyHeuristic
	}
	return StrategyNone
}

// looksPaginated applies a cheap heuristic over common pagination query
// parameter names (§4.3 step 4.c "heuristic pattern detection on the seed
// URL's query string").
func looksPaginated(seedURL string) bool {
	lower := strings.ToLower(seedURL)
	for _, marker := range []string{"page=", "p=", "offset=", "start=", "pg="} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// NextURLFromTemplate renders the URL-template strategy's page N url, e.g.
// "?page={page}" -> "?page=3" for page=3.
func NextURLFromTemplate(template string, page int) string {
	return strings.ReplaceAll(template, "{page}", fmt.Sprintf("%d", page))
}

// Walker drives the pagination loop, tracking the stop conditions in §4.3
// step 5: max_pages, a rolling content-hash window for circular-pagination
// detection, and a consecutive-empty-page counter.
type Walker struct {
	maxPages          int
	maxEmptyResponses int
	hashWindow        []string
	windowSize        int

	pagesProcessed int
	emptyStreak    int
}

// NewWalker creates a Walker. maxPages defaults to 50 (cap 500) and
// maxEmptyResponses to 3 when zero-valued, per §4.3 step 5 defaults.
func NewWalker(maxPages, maxEmptyResponses, hashWindowSize int) *Walker {
	if maxPages <= 0 {
		maxPages = 50
	}
	if maxPages > 500 {
		maxPages = 500
	}
	if maxEmptyResponses <= 0 {
		maxEmptyResponses = 3
	}
	if hashWindowSize <= 0 {
		hashWindowSize = 5
	}
	return &Walker{maxPages: maxPages, maxEmptyResponses: maxEmptyResponses, windowSize: hashWindowSize}
}

// Advance records one fetched page's content hash and detail-URL count,
// returning a non-empty StopReason if the walk must stop after this page.
func (w *Walker) Advance(contentHash string, detailURLCount int) StopReason {
	w.pagesProcessed++

	for _, seen := range w.hashWindow {
		if seen == contentHash {
			return StopCircularPagination
		}
	}
	w.hashWindow = append(w.hashWindow, contentHash)
	if len(w.hashWindow) > w.windowSize {
		w.hashWindow = w.hashWindow[1:]
	}

	if detailURLCount == 0 {
		w.emptyStreak++
	} else {
		w.emptyStreak = 0
	}

	if w.pagesProcessed >= w.maxPages {
		return StopMaxPages
	}
	if w.emptyStreak >= w.maxEmptyResponses {
		return StopEmptyResponses
	}
	return ""
}

// PagesProcessed returns the count of pages advanced so far.
func (w *Walker) PagesProcessed() int { return w.pagesProcessed }
