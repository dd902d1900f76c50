package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PageStorage implements interfaces.PageStorage for Badger. CrawledPage rows
// are owned exclusively by the worker executing the job.
type PageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPageStorage creates a new PageStorage instance.
func NewPageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PageStorage {
	return &PageStorage{db: db, logger: logger}
}

// pageURLReservation is the composite-key record backing the (website_id,
// url_hash) uniqueness invariant (P3, §5, §4.5): the first writer to insert
// this key owns the URL, and badgerhold.Insert's existing-key check gives
// us an atomic compare-and-set across concurrent workers racing the same
// detail URL.
type pageURLReservation struct {
	PageID string
}

// Create persists a page. A non-duplicate page first reserves its
// (website_id, url_hash) composite key; if another writer already holds
// that reservation, this page is the race loser and is stored as a
// duplicate, with DuplicateOf set to the first page found for the pair (left
// empty when no page row for it is found yet), so at most one non-duplicate
// row ever exists per (website_id, url_hash) (§4.5).
func (s *PageStorage) Create(ctx context.Context, p *models.CrawledPage) error {
	if p.ID == "" {
		return fmt.Errorf("page id is required")
	}
	if !p.IsDuplicate {
		key := models.WebsiteURLKey(p.WebsiteID, p.URLHash)
		if err := s.db.Store().Insert(key, &pageURLReservation{PageID: p.ID}); err != nil {
			if err != badgerhold.ErrKeyExists {
				return fmt.Errorf("failed to reserve url hash: %w", err)
			}
			p.IsDuplicate = true
			if winner, lookupErr := s.GetByWebsiteURLHash(ctx, p.WebsiteID, p.URLHash); lookupErr == nil {
				p.DuplicateOf = winner.ID
			} else {
				s.logger.Warn().Err(lookupErr).Str("page_id", p.ID).Msg("url hash reservation held but winning page lookup failed")
			}
		}
	}
	if err := s.db.Store().Insert(p.ID, p); err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	return nil
}

func (s *PageStorage) Get(ctx context.Context, id string) (*models.CrawledPage, error) {
	var p models.CrawledPage
	if err := s.db.Store().Get(id, &p); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &p, nil
}

// GetByWebsiteURLHash returns the first page found for the (website_id,
// url_hash) pair by scanning the website+url-hash composite; duplicate rows
// share the pair, so the row returned is not necessarily the non-duplicate
// one.
func (s *PageStorage) GetByWebsiteURLHash(ctx context.Context, websiteID, urlHash string) (*models.CrawledPage, error) {
	var matches []models.CrawledPage
	query := badgerhold.Where("WebsiteID").Eq(websiteID).And("URLHash").Eq(urlHash)
	if err := s.db.Store().Find(&matches, query); err != nil {
		return nil, fmt.Errorf("failed to get page by website/url hash: %w", err)
	}
	if len(matches) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &matches[0], nil
}

func (s *PageStorage) ListByJob(ctx context.Context, jobID string) ([]*models.CrawledPage, error) {
	var pages []models.CrawledPage
	if err := s.db.Store().Find(&pages, badgerhold.Where("JobID").Eq(jobID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list pages for job: %w", err)
	}

	result := make([]*models.CrawledPage, len(pages))
	for i := range pages {
		result[i] = &pages[i]
	}
	return result, nil
}

func (s *PageStorage) CountByJob(ctx context.Context, jobID string) (int, error) {
	count, err := s.db.Store().Count(&models.CrawledPage{}, badgerhold.Where("JobID").Eq(jobID))
	if err != nil {
		return 0, fmt.Errorf("failed to count pages for job: %w", err)
	}
	return int(count), nil
}
