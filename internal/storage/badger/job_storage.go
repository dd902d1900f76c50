package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements interfaces.JobStorage for Badger. CrawlJob rows are
// owned exclusively by JobService.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance.
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) Create(ctx context.Context, j *models.CrawlJob) error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if err := s.db.Store().Insert(j.ID, j); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) Get(ctx context.Context, id string) (*models.CrawlJob, error) {
	var job models.CrawlJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) Update(ctx context.Context, j *models.CrawlJob) error {
	if err := s.db.Store().Update(j.ID, j); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.CrawlJob{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *JobStorage) List(ctx context.Context, filter models.JobListFilter, offset, limit int) ([]*models.CrawlJob, int, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	if filter.WebsiteID != "" {
		query = query.And("WebsiteID").Eq(filter.WebsiteID)
	}

	total, err := s.db.Store().Count(&models.CrawlJob{}, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	listQuery := query.SortBy("CreatedAt").Reverse()
	if offset > 0 {
		listQuery = listQuery.Skip(offset)
	}
	if limit > 0 {
		listQuery = listQuery.Limit(limit)
	}

	var jobs []models.CrawlJob
	if err := s.db.Store().Find(&jobs, listQuery); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, int(total), nil
}

// casMu serialises CompareAndSetStatus calls in this process, so one call's
// status read and write are never interleaved with another call's.
var casMu sync.Mutex

// CompareAndSetStatus performs an optimistic `status = from` guard before
// writing `to`, rejecting a duplicate pending->running transition when two
// workers race on the same lease.
func (s *JobStorage) CompareAndSetStatus(ctx context.Context, id string, from, to models.JobStatus) (bool, error) {
	casMu.Lock()
	defer casMu.Unlock()
	var job models.CrawlJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, interfaces.ErrNotFound
		}
		return false, fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	if err := s.db.Store().Update(id, &job); err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	return true, nil
}

func (s *JobStorage) ListNonTerminalByScheduledJob(ctx context.Context, scheduledJobID string) ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("ScheduledJobID").Eq(scheduledJobID).And("Status").In(
		models.JobStatusPending, models.JobStatusRunning, models.JobStatusCancelling,
	)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list non-terminal jobs: %w", err)
	}
	result := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
