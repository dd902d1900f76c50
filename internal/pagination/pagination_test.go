package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_PrefersExplicitURLTemplateOverEverythingElse(t *testing.T) {
	strat := Detect(Config{URLTemplate: "?page={page}", NextButtonSelector: "a.next"}, "https://example.test/?page=1", true)
	assert.Equal(t, StrategyURLTemplate, strat)
}

func TestDetect_FallsBackToNextButtonSelector(t *testing.T) {
	strat := Detect(Config{NextButtonSelector: "a.next"}, "https://example.test/search", false)
	assert.Equal(t, StrategyNextButton, strat)
}

func TestDetect_HeuristicOnQueryString(t *testing.T) {
	strat := Detect(Config{}, "https://example.test/search?q=alpha&page=2", false)
	assert.Equal(t, StrategyHeuristic, strat)
}

func TestDetect_HeuristicOnDiscoveredNextLink(t *testing.T) {
	strat := Detect(Config{}, "https://example.test/search?q=alpha", true)
	assert.Equal(t, StrategyHeuristic, strat)
}

func TestDetect_NoneWhenNothingMatches(t *testing.T) {
	strat := Detect(Config{}, "https://example.test/search?q=alpha", false)
	assert.Equal(t, StrategyNone, strat)
}

func TestNextURLFromTemplate(t *testing.T) {
	assert.Equal(t, "?page=3", NextURLFromTemplate("?page={page}", 3))
}

func TestWalker_StopsAtMaxPages(t *testing.T) {
	w := NewWalker(3, 10, 5)
	assert.Empty(t, w.Advance("hash-1", 4))
	assert.Empty(t, w.Advance("hash-2", 4))
	assert.Equal(t, StopMaxPages, w.Advance("hash-3", 4))
	assert.Equal(t, 3, w.PagesProcessed())
}

func TestWalker_StopsOnCircularPagination(t *testing.T) {
	// Page 4 repeats page 2's content hash (scenario 3, spec §8).
	w := NewWalker(50, 10, 5)
	assert.Empty(t, w.Advance("hash-1", 4))
	assert.Empty(t, w.Advance("hash-2", 4))
	assert.Empty(t, w.Advance("hash-3", 4))
	assert.Equal(t, StopCircularPagination, w.Advance("hash-2", 4))
}

func TestWalker_StopsOnConsecutiveEmptyPages(t *testing.T) {
	w := NewWalker(50, 2, 5)
	assert.Empty(t, w.Advance("hash-1", 0))
	assert.Equal(t, StopEmptyResponses, w.Advance("hash-2", 0))
}

func TestWalker_EmptyStreakResetsOnNonEmptyPage(t *testing.T) {
	w := NewWalker(50, 2, 5)
	assert.Empty(t, w.Advance("hash-1", 0))
	assert.Empty(t, w.Advance("hash-2", 4)) // resets the streak
	assert.Empty(t, w.Advance("hash-3", 0))
	assert.Equal(t, StopEmptyResponses, w.Advance("hash-4", 0))
}

func TestNewWalker_ClampsMaxPagesAboveCap(t *testing.T) {
	w := NewWalker(1000, 0, 0)
	assert.Equal(t, 500, w.maxPages)
}

func TestNewWalker_DefaultsWhenZeroValued(t *testing.T) {
	w := NewWalker(0, 0, 0)
	assert.Equal(t, 50, w.maxPages)
	assert.Equal(t, 3, w.maxEmptyResponses)
	assert.Equal(t, 5, w.windowSize)
}
