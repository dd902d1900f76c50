package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ScheduledJobStorage implements interfaces.ScheduledJobStorage for Badger,
// persisting cron dispatch entries.
type ScheduledJobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScheduledJobStorage creates a new ScheduledJobStorage instance.
func NewScheduledJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScheduledJobStorage {
	return &ScheduledJobStorage{db: db, logger: logger}
}

func (s *ScheduledJobStorage) Create(ctx context.Context, sj *models.ScheduledJob) error {
	if sj.ID == "" {
		return fmt.Errorf("scheduled job id is required")
	}
	if err := s.db.Store().Insert(sj.ID, sj); err != nil {
		return fmt.Errorf("failed to create scheduled job: %w", err)
	}
	return nil
}

func (s *ScheduledJobStorage) Get(ctx context.Context, id string) (*models.ScheduledJob, error) {
	var sj models.ScheduledJob
	if err := s.db.Store().Get(id, &sj); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scheduled job: %w", err)
	}
	return &sj, nil
}

func (s *ScheduledJobStorage) Update(ctx context.Context, sj *models.ScheduledJob) error {
	sj.UpdatedAt = time.Now()
	if err := s.db.Store().Update(sj.ID, sj); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update scheduled job: %w", err)
	}
	return nil
}

// ListDue returns active entries whose next_run_time has passed, the set
// the ticker dispatches on each pass.
func (s *ScheduledJobStorage) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error) {
	query := badgerhold.Where("IsActive").Eq(true).And("NextRunTime").Le(now).SortBy("NextRunTime")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.ScheduledJob
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list due scheduled jobs: %w", err)
	}

	result := make([]*models.ScheduledJob, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *ScheduledJobStorage) ListByWebsite(ctx context.Context, websiteID string) ([]*models.ScheduledJob, error) {
	var entries []models.ScheduledJob
	if err := s.db.Store().Find(&entries, badgerhold.Where("WebsiteID").Eq(websiteID)); err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs by website: %w", err)
	}

	result := make([]*models.ScheduledJob, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}
