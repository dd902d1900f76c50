package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/dedup"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/ternarybob/crawlerd/internal/pagination"
	"github.com/ternarybob/crawlerd/internal/variables"
)

// fallbackNextSelectors are tried, in order, when pagination.Detect chose
// the heuristic strategy and the step declared no explicit next-button
// selector.
var fallbackNextSelectors = []string{`a[rel="next"]`, ".pagination .next a", ".next a"}

// walkPagination implements §4.3 steps 4-5: detect the pagination strategy
// from the seed page, then walk forward extracting detail URLs with the
// configured crawl_list step until a stop condition fires.
func (c *SeedURLCrawler) walkPagination(ctx context.Context, job *models.CrawlJob, config models.WebsiteConfig, listStep *models.Step, seed FetchResult) ([]string, []string, pagination.StopReason) {
	if listStep == nil {
		// No crawl_list step configured: single-page mode treating the seed
		// page itself as the only detail URL (§4.3 step 4 "single-page mode
		// with a warning").
		return []string{seed.FinalURL}, []string{"single-page mode: no crawl_list step configured"}, ""
	}

	pcfg := pagination.Config{}
	if listStep.Pagination != nil {
		pcfg.URLTemplate = listStep.Pagination.URLTemplate
		pcfg.NextButtonSelector = listStep.Pagination.NextButtonSelector
		pcfg.MaxPages = listStep.Pagination.MaxPages
	}

	_, hasNextLink := c.nextPageURL(pagination.StrategyHeuristic, pcfg, seed.FinalURL, seed.HTML, new(int))
	strategy := pagination.Detect(pcfg, seed.FinalURL, hasNextLink)

	maxPages := pcfg.MaxPages
	if maxPages <= 0 {
		maxPages = config.MaxPages
	}
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}
	maxEmpty := config.MaxEmptyResponses
	if maxEmpty <= 0 {
		maxEmpty = c.cfg.MaxEmptyResponses
	}
	walker := pagination.NewWalker(maxPages, maxEmpty, c.cfg.CircularHashWindow)

	var warnings []string
	var detailURLs []string
	seenDetailURLs := make(map[string]bool)

	currentHTML, currentURL := seed.HTML, seed.FinalURL
	page := 1

	for {
		if c.isCancelled(ctx, job.ID) {
			return detailURLs, warnings, pagination.StopCancelled
		}

		rows, err := c.extractor.ExtractRows(currentHTML, currentURL, listStep.Container, listStep.URLSelector, listStep.Selectors)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: extraction failed: %v", page, err))
			rows = nil
		}

		newCount := 0
		for _, row := range rows {
			if row.URL == "" || seenDetailURLs[row.URL] {
				continue
			}
			seenDetailURLs[row.URL] = true
			detailURLs = append(detailURLs, row.URL)
			newCount++
		}

		normalizedContent, _ := c.extractor.NormalizedText(currentHTML, config.BoilerplateSelectors)
		contentHash := common.ContentHashHex(normalizedContent)
		if stop := walker.Advance(contentHash, newCount); stop != "" {
			return detailURLs, warnings, stop
		}

		if strategy == pagination.StrategyNone {
			return detailURLs, warnings, ""
		}

		nextURL, ok := c.nextPageURL(strategy, pcfg, currentURL, currentHTML, &page)
		if !ok {
			return detailURLs, warnings, pagination.StopNoMorePages
		}

		fetched, err := c.fetcher.Fetch(ctx, listStep.Method, nextURL)
		if err != nil || fetched.StatusCode >= 400 {
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("pagination fetch failed at page %d: %v", page, err))
			}
			return detailURLs, warnings, pagination.StopNoMorePages
		}
		currentHTML, currentURL = fetched.HTML, fetched.FinalURL
	}
}

func (c *SeedURLCrawler) nextPageURL(strategy pagination.Strategy, pcfg pagination.Config, currentURL, currentHTML string, page *int) (string, bool) {
	switch strategy {
	case pagination.StrategyURLTemplate:
		*page++
		rendered := pagination.NextURLFromTemplate(pcfg.URLTemplate, *page)
		return common.ResolveURL(currentURL, rendered), true
	case pagination.StrategyNextButton:
		return c.extractor.FindNextPageURL(currentHTML, currentURL, pcfg.NextButtonSelector)
	case pagination.StrategyHeuristic:
		for _, sel := range fallbackNextSelectors {
			if u, ok := c.extractor.FindNextPageURL(currentHTML, currentURL, sel); ok {
				return u, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

// scrapeOne runs one pass of §4.3 step 6: dedup check, fetch, field
// extraction, content dedup, blob write, and CrawledPage persistence.
func (c *SeedURLCrawler) scrapeOne(
	ctx context.Context,
	job *models.CrawlJob,
	websiteID, detailURL string,
	detailStep *models.Step,
	method models.ScrapeMethod,
	config models.WebsiteConfig,
	varCtx variables.Context,
	resolver *variables.Resolver,
	logger arbor.ILogger,
) error {
	normalizedURL := common.NormalizeURL(detailURL, config.TrackingParams...)
	urlHash, duplicate := c.dedup.CheckURL(ctx, websiteID, normalizedURL)
	if duplicate {
		marker, _ := c.cache.GetCrawled(ctx, websiteID, urlHash)
		page := &models.CrawledPage{
			ID: common.NewPageID(), WebsiteID: websiteID, JobID: job.ID,
			URL: detailURL, URLHash: urlHash, ContentHash: marker.ContentHash,
			IsDuplicate: true, DuplicateOf: marker.PageID, CreatedAt: time.Now(),
		}
		if err := c.storage.Page().Create(ctx, page); err != nil {
			return fmt.Errorf("failed to persist duplicate page: %w", err)
		}
		_ = c.logs.Append(ctx, job.ID, websiteID, "", models.LogLevelDebug, "duplicate url skipped", map[string]interface{}{"url": detailURL})
		return nil
	}

	fetched, err := c.fetcher.Fetch(ctx, method, detailURL)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if fetched.StatusCode >= 400 {
		return fmt.Errorf("detail page returned status %d", fetched.StatusCode)
	}

	var fields map[string]string
	var title string
	if detailStep != nil {
		fields, title, err = c.extractor.ExtractFields(fetched.HTML, detailStep.Selectors)
		if err != nil {
			return fmt.Errorf("field extraction failed: %w", err)
		}
	}

	normalizedContent, err := c.extractor.NormalizedText(fetched.HTML, config.BoilerplateSelectors)
	if err != nil {
		return fmt.Errorf("content normalization failed: %w", err)
	}

	contentResult, err := c.dedup.CheckContent(ctx, normalizedContent)
	if err != nil {
		return fmt.Errorf("content dedup check failed: %w", err)
	}

	blobPath, err := c.blobs.Put(ctx, detailURL, []byte(fetched.HTML))
	if err != nil {
		return fmt.Errorf("failed to write html blob: %w", err)
	}

	page := &models.CrawledPage{
		ID: common.NewPageID(), WebsiteID: websiteID, JobID: job.ID,
		URL: detailURL, URLHash: urlHash, ContentHash: contentResult.ContentHash,
		Title: title, Metadata: stringMapToInterfaceMap(fields),
		ExtractedText: normalizedContent, HTMLBlobPath: blobPath,
		CreatedAt: time.Now(),
	}
	if contentResult.Verdict == dedup.VerdictContentDuplicate {
		page.IsDuplicate = true
		page.DuplicateOf = contentResult.DuplicateOfPage
		page.SimilarityScore = contentResult.SimilarityScore
	}

	if err := c.storage.Page().Create(ctx, page); err != nil {
		return fmt.Errorf("failed to persist page: %w", err)
	}

	if contentResult.Verdict != dedup.VerdictContentDuplicate {
		if err := c.dedup.RecordFirstSeen(ctx, contentResult.ContentHash, contentResult.Simhash, page.ID); err != nil {
			logger.Warn().Err(err).Str("url", detailURL).Msg("failed to record first-seen content hash")
		}
	}
	if err := c.dedup.MarkURLCrawled(ctx, websiteID, urlHash, job.ID, contentResult.ContentHash, page.ID); err != nil {
		logger.Warn().Err(err).Str("url", detailURL).Msg("failed to mark url crawled in cache")
	}

	_ = c.logs.Append(ctx, job.ID, websiteID, "", models.LogLevelInfo, "page crawled", map[string]interface{}{"url": detailURL, "title": title})
	return nil
}

func stringMapToInterfaceMap(fields map[string]string) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
