// Package cache layers the TTL/counter semantics of §6.4's cache-key table
// on top of the raw KeyValueStorage repository: crawled-URL dedup markers,
// the cancellation flag, rate-limit windows, browser-pool status snapshots
// and per-job progress snapshots all go through here instead of touching
// KeyValueStorage directly.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
)

// Cache wraps interfaces.KeyValueStorage with the typed operations the
// pipeline needs.
type Cache struct {
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// New creates a Cache over the given KV repository.
func New(kv interfaces.KeyValueStorage, logger arbor.ILogger) *Cache {
	return &Cache{kv: kv, logger: logger}
}

// CrawledMarker is the value stored at crawled:{website}:{url_hash}.
type CrawledMarker struct {
	JobID       string    `json:"job_id"`
	CrawledAt   time.Time `json:"crawled_at"`
	ContentHash string    `json:"content_hash"`
	PageID      string    `json:"page_id"`
}

func crawledKey(websiteID, urlHash string) string {
	return fmt.Sprintf("crawled:%s:%s", websiteID, urlHash)
}

// MarkCrawled records that a URL has been fetched for a website, the
// cache-side entry point of the Deduplicator's URL phase.
func (c *Cache) MarkCrawled(ctx context.Context, websiteID, urlHash string, marker CrawledMarker, ttl time.Duration) error {
	marker.CrawledAt = time.Now()
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal crawled marker: %w", err)
	}
	return c.kv.SetWithTTL(ctx, crawledKey(websiteID, urlHash), string(data), ttl)
}

// GetCrawled returns the marker for (website, url_hash) if present and not
// yet expired, reporting ok=false otherwise.
func (c *Cache) GetCrawled(ctx context.Context, websiteID, urlHash string) (marker CrawledMarker, ok bool) {
	raw, err := c.kv.Get(ctx, crawledKey(websiteID, urlHash))
	if err != nil {
		return CrawledMarker{}, false
	}
	if err := json.Unmarshal([]byte(raw), &marker); err != nil {
		c.logger.Warn().Err(err).Str("key", crawledKey(websiteID, urlHash)).Msg("failed to unmarshal crawled marker, treating as absent")
		return CrawledMarker{}, false
	}
	return marker, true
}

func cancelKey(jobID string) string { return fmt.Sprintf("cancel:job:%s", jobID) }

// SetCancelled writes the cancellation flag for a job with a 24h TTL.
// Producers: JobService.Cancel.
func (c *Cache) SetCancelled(ctx context.Context, jobID string) error {
	return c.kv.SetWithTTL(ctx, cancelKey(jobID), "1", 24*time.Hour)
}

// IsCancelled reports whether the cancellation flag is set for a job.
// Consumers: the worker's inner loop and every pipeline suspension point.
func (c *Cache) IsCancelled(ctx context.Context, jobID string) bool {
	_, err := c.kv.Get(ctx, cancelKey(jobID))
	return err == nil
}

// ClearCancelled removes the cancellation flag once the worker has written
// terminal status (§4.4: "flag cleared only after the worker writes
// terminal status cancelled"). Idempotent.
func (c *Cache) ClearCancelled(ctx context.Context, jobID string) {
	_ = c.kv.Delete(ctx, cancelKey(jobID))
}

func rateLimitKey(website, window string) string {
	return fmt.Sprintf("ratelimit:%s:%s", website, window)
}

// IncrementRateLimitWindow bumps the request counter for a website's current
// rate-limit window, creating it with the window's TTL if absent.
func (c *Cache) IncrementRateLimitWindow(ctx context.Context, website, window string, ttl time.Duration) (int, error) {
	key := rateLimitKey(website, window)
	raw, err := c.kv.Get(ctx, key)
	count := 0
	if err == nil {
		fmt.Sscanf(raw, "%d", &count)
	}
	count++
	if err := c.kv.SetWithTTL(ctx, key, fmt.Sprintf("%d", count), ttl); err != nil {
		return 0, fmt.Errorf("failed to update rate limit window: %w", err)
	}
	return count, nil
}

// BrowserPoolStatus is the value stored at browser:pool:status.
type BrowserPoolStatus struct {
	ActiveBrowsers     int `json:"active_browsers"`
	ContextsInUse      int `json:"contexts_in_use"`
	ContextsAvailable  int `json:"contexts_available"`
	MemoryMB           int `json:"memory_mb"`
}

const browserPoolStatusKey = "browser:pool:status"

// SetBrowserPoolStatus publishes a pool status snapshot with a 300s TTL.
func (c *Cache) SetBrowserPoolStatus(ctx context.Context, status BrowserPoolStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal browser pool status: %w", err)
	}
	return c.kv.SetWithTTL(ctx, browserPoolStatusKey, string(data), 300*time.Second)
}

func progressKey(jobID string) string { return fmt.Sprintf("progress:job:%s", jobID) }

// SetProgress publishes a job's live progress snapshot with a 24h TTL.
func (c *Cache) SetProgress(ctx context.Context, jobID string, progress interface{}) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal job progress: %w", err)
	}
	return c.kv.SetWithTTL(ctx, progressKey(jobID), string(data), 24*time.Hour)
}

// GetProgress returns the raw JSON progress snapshot for a job, if present.
func (c *Cache) GetProgress(ctx context.Context, jobID string) (string, bool) {
	raw, err := c.kv.Get(ctx, progressKey(jobID))
	if err != nil {
		return "", false
	}
	return raw, true
}
