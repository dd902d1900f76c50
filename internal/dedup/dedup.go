// Package dedup implements the two-phase deduplicator: a cheap
// URL-hash cache check, then a content phase combining exact SHA-256
// matching with Simhash near-duplicate detection. Grounded on the
// teacher's internal/services/crawler/queue.go normalizeURL/seen-map idiom
// for the URL phase, generalized to a persisted cache entry instead of an
// in-process map so duplicates are caught across worker restarts.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/cache"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
)

// Verdict is the outcome of a dedup check.
type Verdict string

const (
	VerdictUnique           Verdict = "unique"
	VerdictURLDuplicate     Verdict = "url_duplicate"
	VerdictContentDuplicate Verdict = "content_duplicate"
)

// Result carries the verdict plus the data needed to populate a
// CrawledPage row.
type Result struct {
	Verdict         Verdict
	ContentHash     string
	Simhash         uint64
	DuplicateOfPage string // first-seen page id, set when content_duplicate
	SimilarityScore int    // [0,100], set when content_duplicate (100 for an exact match)
}

// DefaultHammingThreshold is the maximum Hamming distance treated as a
// near-duplicate.
const DefaultHammingThreshold = 3

// DefaultURLCacheTTL is the per-website TTL for the URL-phase cache entry
//.
const DefaultURLCacheTTL = 14 * 24 * time.Hour

// Deduplicator runs the two-phase check.
type Deduplicator struct {
	cache            *cache.Cache
	contentHashes    interfaces.ContentHashStorage
	logger           arbor.ILogger
	hammingThreshold int
	urlCacheTTL      time.Duration
}

// New creates a Deduplicator.
func New(c *cache.Cache, contentHashes interfaces.ContentHashStorage, logger arbor.ILogger, hammingThreshold int, urlCacheTTL time.Duration) *Deduplicator {
	if hammingThreshold <= 0 {
		hammingThreshold = DefaultHammingThreshold
	}
	if urlCacheTTL <= 0 {
		urlCacheTTL = DefaultURLCacheTTL
	}
	return &Deduplicator{cache: c, contentHashes: contentHashes, logger: logger, hammingThreshold: hammingThreshold, urlCacheTTL: urlCacheTTL}
}

// CheckURL runs phase 1: a cache hit means the URL was
// already crawled for this website within the TTL window, skipping the
// fetch entirely.
func (d *Deduplicator) CheckURL(ctx context.Context, websiteID, normalizedURL string) (urlHash string, duplicate bool) {
	urlHash = common.URLHash(normalizedURL)
	_, ok := d.cache.GetCrawled(ctx, websiteID, urlHash)
	return urlHash, ok
}

// MarkURLCrawled records a fetched URL in the cache so later duplicates of
// it short-circuit at phase 1.
func (d *Deduplicator) MarkURLCrawled(ctx context.Context, websiteID, urlHash, jobID, contentHash, pageID string) error {
	return d.cache.MarkCrawled(ctx, websiteID, urlHash, cache.CrawledMarker{
		JobID:       jobID,
		ContentHash: contentHash,
		PageID:      pageID,
	}, d.urlCacheTTL)
}

// CheckContent runs phase 2: exact SHA-256 match first, then
// Simhash candidates within the configured Hamming threshold.
func (d *Deduplicator) CheckContent(ctx context.Context, normalizedContent string) (*Result, error) {
	contentHash := common.ContentHashHex(normalizedContent)
	simhash := Simhash(normalizedContent)

	if existing, err := d.contentHashes.IncrementOccurrence(ctx, contentHash); err == nil {
		return &Result{
			Verdict:         VerdictContentDuplicate,
			ContentHash:     contentHash,
			Simhash:         simhash,
			DuplicateOfPage: existing.FirstSeenPageID,
			SimilarityScore: 100,
		}, nil
	} else if err != interfaces.ErrNotFound {
		return nil, fmt.Errorf("failed to check exact content hash: %w", err)
	}

	candidates, err := d.contentHashes.ListSimhashCandidates(ctx, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to list simhash candidates: %w", err)
	}
	for _, candidate := range candidates {
		distance := HammingDistance64(simhash, candidate.Simhash)
		if distance > d.hammingThreshold {
			continue
		}
		similarity := Similarity(distance)
		if similarity < 0.95 {
			continue
		}
		updated, err := d.contentHashes.IncrementOccurrence(ctx, candidate.Hash)
		if err != nil {
			return nil, fmt.Errorf("failed to increment simhash-matched content hash: %w", err)
		}
		return &Result{
			Verdict:         VerdictContentDuplicate,
			ContentHash:     candidate.Hash,
			Simhash:         simhash,
			DuplicateOfPage: updated.FirstSeenPageID,
			SimilarityScore: int(similarity * 100),
		}, nil
	}

	return &Result{Verdict: VerdictUnique, ContentHash: contentHash, Simhash: simhash}, nil
}

// RecordFirstSeen registers a brand-new content fingerprint's first-seen
// page, called when CheckContent returns VerdictUnique and the page has
// been persisted.
func (d *Deduplicator) RecordFirstSeen(ctx context.Context, contentHash string, simhash uint64, pageID string) error {
	return d.contentHashes.Upsert(ctx, &models.ContentHash{
		Hash:            contentHash,
		FirstSeenPageID: pageID,
		OccurrenceCount: 1,
		Simhash:         simhash,
	})
}
