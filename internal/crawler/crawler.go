// Package crawler implements SeedURLCrawler: the per-job pipeline
// that resolves a job's config, assembles its variable context, walks
// pagination, scrapes each discovered detail URL through the
// deduplicator, and writes CrawledPage rows. Grounded on the teacher's
// internal/services/crawler/service.go orchestration shape (config
// resolution, per-job context logger, terminal outcome accounting),
// rewired to call VariableResolver, Pagination, HTMLExtractor,
// Deduplicator and the badgerhold repositories directly instead of the
// teacher's in-process heap queue and worker pool.
package crawler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/blobstore"
	"github.com/ternarybob/crawlerd/internal/browser"
	"github.com/ternarybob/crawlerd/internal/cache"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/dedup"
	"github.com/ternarybob/crawlerd/internal/htmlx"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/logstream"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/ternarybob/crawlerd/internal/pagination"
	"github.com/ternarybob/crawlerd/internal/retry"
	"github.com/ternarybob/crawlerd/internal/variables"
	"golang.org/x/time/rate"
)

// Config holds the pipeline-wide defaults a job's config may override
//.
type Config struct {
	MaxPages             int
	MaxPagesCap          int
	MaxEmptyResponses    int
	CircularHashWindow   int
	DefaultRatePerSecond float64
	VariableRecursionCap int
	HammingThreshold     int
	URLCacheTTL          time.Duration
}

// SeedURLCrawler runs the per-job pipeline described in §4.3.
type SeedURLCrawler struct {
	storage   interfaces.StorageManager
	cache     *cache.Cache
	dedup     *dedup.Deduplicator
	extractor *htmlx.Extractor
	fetcher   *Fetcher
	blobs     blobstore.BlobStore
	logs      *logstream.LogStream
	logger    arbor.ILogger
	cfg       Config
}

// New creates a SeedURLCrawler over the given composition-root dependencies.
func New(
	storage interfaces.StorageManager,
	c *cache.Cache,
	d *dedup.Deduplicator,
	extractor *htmlx.Extractor,
	fetcher *Fetcher,
	blobs blobstore.BlobStore,
	logs *logstream.LogStream,
	logger arbor.ILogger,
	cfg Config,
) *SeedURLCrawler {
	return &SeedURLCrawler{
		storage: storage, cache: c, dedup: d, extractor: extractor,
		fetcher: fetcher, blobs: blobs, logs: logs, logger: logger, cfg: cfg,
	}
}

// Crawl runs the pipeline end to end for one leased job (§4.3 "Crawl(job) →
// CrawlResult"). cancelled is consulted at every step boundary named in
// §4.3 as a suspension point.
func (c *SeedURLCrawler) Crawl(ctx context.Context, job *models.CrawlJob, coordinator *browser.CleanupCoordinator) models.CrawlResult {
	contextLogger := c.logger.WithContextWriter(job.ID)

	// Step 1: config resolution.
	config, err := c.resolveConfig(ctx, job)
	if err != nil {
		contextLogger.Error().Err(err).Msg("config resolution failed")
		return models.CrawlResult{Outcome: models.OutcomeInvalidConfig, Err: err}
	}

	if c.isCancelled(ctx, job.ID) {
		return models.CrawlResult{Outcome: models.OutcomeCancelled}
	}

	// Step 2: variable context assembly.
	resolver := variables.New(variableMode(config.VariableMode), c.cfg.VariableRecursionCap)
	varCtx := variables.Context{
		Variables:  mergeMaps(config.Variables, job.Variables),
		Env:        envMap(),
		Metadata:   job.Metadata,
		Pagination: map[string]interface{}{"page": 1},
	}

	seedURL, err := resolver.Resolve(job.SeedURL, varCtx)
	if err != nil {
		contextLogger.Error().Err(err).Msg("seed URL variable resolution failed")
		return models.CrawlResult{Outcome: models.OutcomeInvalidConfig, Err: err}
	}

	// Step 3: seed fetch.
	listStep := findStep(config, models.StepKindCrawlList)
	detailStep := findStep(config, models.StepKindScrapeDetail)
	if listStep == nil && detailStep == nil {
		return models.CrawlResult{Outcome: models.OutcomeInvalidConfig, Err: fmt.Errorf("config declares no usable steps")}
	}

	fetchMethod := models.ScrapeMethodHTTP
	if listStep != nil {
		fetchMethod = listStep.Method
	}

	seedResult, err := c.fetcher.Fetch(ctx, fetchMethod, seedURL)
	if err != nil {
		contextLogger.Error().Err(err).Str("seed_url", seedURL).Msg("seed fetch failed")
		category := retry.ClassifyError(err)
		return models.CrawlResult{Outcome: models.OutcomeSeedURLError, Err: common.NewError(common.KindNetworkTimeout, "seed fetch failed", err).WithCategory(category)}
	}
	if seedResult.StatusCode == http.StatusNotFound {
		return models.CrawlResult{Outcome: models.OutcomeSeedURL404, Err: common.NewError(common.KindNotFound, "seed url returned 404", nil).WithCategory(models.CategoryNotFound)}
	}
	if seedResult.StatusCode >= 400 {
		category := retry.ClassifyHTTPStatus(seedResult.StatusCode)
		return models.CrawlResult{Outcome: models.OutcomeSeedURLError, Err: common.NewError(common.KindServerError, fmt.Sprintf("seed url returned status %d", seedResult.StatusCode), nil).WithCategory(category)}
	}

	if c.isCancelled(ctx, job.ID) {
		return models.CrawlResult{Outcome: models.OutcomeCancelled}
	}

	// Steps 4-5: pagination detection and walk.
	detailURLs, warnings, stop := c.walkPagination(ctx, job, config, listStep, seedResult)
	if stop == pagination.StopCancelled {
		return models.CrawlResult{Outcome: models.OutcomeCancelled, URLsDiscovered: len(detailURLs), Warnings: warnings}
	}

	if len(detailURLs) == 0 {
		return models.CrawlResult{
			Outcome:        paginationOutcome(stop, models.OutcomeSuccessNoURLs),
			URLsDiscovered: 0,
			Warnings:       warnings,
		}
	}

	// Step 6: per-URL scrape loop.
	websiteID := job.WebsiteID
	limiter := rate.NewLimiter(effectiveRate(config.RateLimit.RequestsPerSecond, c.cfg.DefaultRatePerSecond), 1)
	method := models.ScrapeMethodHTTP
	if detailStep != nil {
		method = detailStep.Method
	}

	pagesWritten, failedCount := 0, 0
	for i, detailURL := range detailURLs {
		if c.isCancelled(ctx, job.ID) {
			return models.CrawlResult{
				Outcome:        models.OutcomeCancelled,
				PagesWritten:   pagesWritten,
				URLsDiscovered: len(detailURLs),
				Warnings:       warnings,
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			return models.CrawlResult{
				Outcome:        models.OutcomeCancelled,
				PagesWritten:   pagesWritten,
				URLsDiscovered: len(detailURLs),
				Warnings:       warnings,
			}
		}

		if err := c.scrapeOne(ctx, job, websiteID, detailURL, detailStep, method, config, varCtx, resolver, contextLogger); err != nil {
			failedCount++
			warnings = append(warnings, fmt.Sprintf("url[%d] %s: %v", i, detailURL, err))
			continue
		}
		pagesWritten++

		progress := models.JobProgress{
			TotalURLs:     len(detailURLs),
			ProcessedURLs: i + 1,
			CompletedURLs: pagesWritten,
			FailedURLs:    failedCount,
		}
		if progress.TotalURLs > 0 {
			progress.Percentage = 100 * float64(progress.ProcessedURLs) / float64(progress.TotalURLs)
		}
		_ = c.cache.SetProgress(ctx, job.ID, progress)
		c.logs.PublishProgress(job.ID, progress)
	}

	outcome := models.OutcomeSuccess
	switch {
	case pagesWritten > 0 && failedCount > 0:
		outcome = models.OutcomePartialSuccess
	case pagesWritten == 0 && failedCount > 0:
		outcome = models.OutcomeFailed
	}
	if stop != "" && outcome == models.OutcomeSuccess {
		// The pagination walk stopped early (circular content, a run of
		// empty pages, or max_pages) even though every discovered URL
		// scraped cleanly; surface the stop reason instead of reporting a
		// plain success (§4.3 scenario 3: outcome circular_pagination,
		// status completed, pages 1-3 preserved).
		outcome = paginationOutcome(stop, outcome)
	}

	return models.CrawlResult{
		Outcome:        outcome,
		PagesWritten:   pagesWritten,
		URLsDiscovered: len(detailURLs),
		Warnings:       warnings,
	}
}

func (c *SeedURLCrawler) isCancelled(ctx context.Context, jobID string) bool {
	return c.cache.IsCancelled(ctx, jobID)
}

// resolveConfig loads the effective WebsiteConfig for a job: the website
// template merged with its ScheduledJob overrides, or the job's inline
// config.
func (c *SeedURLCrawler) resolveConfig(ctx context.Context, job *models.CrawlJob) (models.WebsiteConfig, error) {
	isTemplate, ok := job.EffectiveConfigSource()
	if !ok {
		return models.WebsiteConfig{}, fmt.Errorf("job violates the website_id/inline_config XOR invariant")
	}
	if !isTemplate {
		return *job.InlineConfig, nil
	}

	website, err := c.storage.Website().Get(ctx, job.WebsiteID)
	if err != nil {
		return models.WebsiteConfig{}, fmt.Errorf("failed to load website template: %w", err)
	}
	config := website.Config

	if job.ScheduledJobID != "" {
		scheduled, err := c.storage.ScheduledJob().Get(ctx, job.ScheduledJobID)
		if err == nil {
			config = mergeWebsiteConfig(config, scheduled.Overrides)
		}
	}
	return config, nil
}

// mergeWebsiteConfig overlays non-zero fields of overrides onto base.
func mergeWebsiteConfig(base, overrides models.WebsiteConfig) models.WebsiteConfig {
	merged := base
	if len(overrides.Steps) > 0 {
		merged.Steps = overrides.Steps
	}
	if len(overrides.Variables) > 0 {
		merged.Variables = mergeMaps(base.Variables, overrides.Variables)
	}
	if overrides.RateLimit.RequestsPerSecond > 0 {
		merged.RateLimit = overrides.RateLimit
	}
	if len(overrides.RetryOverrides) > 0 {
		merged.RetryOverrides = overrides.RetryOverrides
	}
	if len(overrides.TrackingParams) > 0 {
		merged.TrackingParams = overrides.TrackingParams
	}
	if len(overrides.BoilerplateSelectors) > 0 {
		merged.BoilerplateSelectors = overrides.BoilerplateSelectors
	}
	if overrides.MaxPages > 0 {
		merged.MaxPages = overrides.MaxPages
	}
	if overrides.MaxEmptyResponses > 0 {
		merged.MaxEmptyResponses = overrides.MaxEmptyResponses
	}
	if overrides.VariableMode != "" {
		merged.VariableMode = overrides.VariableMode
	}
	return merged
}

func findStep(config models.WebsiteConfig, kind models.StepKind) *models.Step {
	for i := range config.Steps {
		if config.Steps[i].Kind == kind {
			return &config.Steps[i]
		}
	}
	return nil
}

func variableMode(m models.VariableMode) variables.Mode {
	if m == models.VariableModeLenient {
		return variables.Lenient
	}
	return variables.Strict
}

func mergeMaps(base, overlay map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func envMap() map[string]interface{} {
	env := make(map[string]interface{})
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}

func effectiveRate(configured, fallback float64) rate.Limit {
	if configured > 0 {
		return rate.Limit(configured)
	}
	if fallback > 0 {
		return rate.Limit(fallback)
	}
	return rate.Limit(2.0)
}

func paginationOutcome(stop pagination.StopReason, noURLsDefault models.CrawlOutcome) models.CrawlOutcome {
	switch stop {
	case pagination.StopCircularPagination:
		return models.OutcomeCircularPagination
	case pagination.StopEmptyResponses:
		return models.OutcomeEmptyPages
	case pagination.StopMaxPages:
		return models.OutcomePaginationStopped
	default:
		return noURLsDefault
	}
}
