// Package jobs implements JobService and WebsiteService: the
// only components permitted to transition a CrawlJob's status or mutate a
// Website template. Grounded on the teacher's
// internal/services/scheduler/scheduler_service.go for the validate-then-
// persist-then-publish submission shape, generalized from that file's
// in-process orchestration into a storage+queue+cache composition that
// matches the project's explicit ownership rule: JobService alone mutates
// CrawlJob status.
package jobs

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/cache"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/ternarybob/crawlerd/internal/queue"
)

// JobService owns CrawlJob status transitions. No other
// component may call JobStorage.Update with a changed Status field.
type JobService struct {
	jobs      interfaces.JobStorage
	websites  interfaces.WebsiteStorage
	scheduled interfaces.ScheduledJobStorage
	queue     *queue.Queue
	cache     *cache.Cache
	logger    arbor.ILogger
	validate  *validator.Validate
	clock     common.Clock
}

// New creates a JobService over the given repositories and queue/cache.
func New(
	jobs interfaces.JobStorage,
	websites interfaces.WebsiteStorage,
	scheduled interfaces.ScheduledJobStorage,
	q *queue.Queue,
	c *cache.Cache,
	logger arbor.ILogger,
	clock common.Clock,
) *JobService {
	if clock == nil {
		clock = common.NewSystemClock()
	}
	return &JobService{
		jobs:      jobs,
		websites:  websites,
		scheduled: scheduled,
		queue:     q,
		cache:     c,
		logger:    logger,
		validate:  validator.New(),
		clock:     clock,
	}
}

// Submit validates a SubmitRequest, persists a pending CrawlJob, and
// publishes it to the queue. A publish failure rolls back the inserted row
// so a failed publish never leaves an orphan pending job.
func (s *JobService) Submit(ctx context.Context, req models.SubmitRequest) (*models.CrawlJob, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, common.NewError(common.KindInvalidConfig, "submit request failed validation", err)
	}
	if _, err := url.ParseRequestURI(req.SeedURL); err != nil {
		return nil, common.NewError(common.KindInvalidConfig, "seed_url is not a valid URL", err)
	}

	hasWebsite := req.WebsiteID != ""
	hasInline := req.InlineConfig != nil
	if hasWebsite == hasInline {
		return nil, common.NewError(common.KindInvalidConfig, "exactly one of website_id or inline_config must be set", nil)
	}

	jobType := models.JobTypeOneTime
	if req.Schedule != nil {
		jobType = req.Schedule.Type
		if jobType == models.JobTypeRecurring {
			if _, err := common.ParseCron(req.Schedule.CronExpression); err != nil {
				return nil, common.NewError(common.KindInvalidCron, "schedule.cron_expression is not parseable", err)
			}
		}
	}

	if hasWebsite {
		website, err := s.websites.Get(ctx, req.WebsiteID)
		if err != nil {
			return nil, common.NewError(common.KindInvalidConfig, "website_id does not reference an existing website", err)
		}
		if website.IsDeleted() {
			return nil, common.NewError(common.KindInvalidConfig, "website_id references a soft-deleted website", nil)
		}
	} else if err := validateWebsiteConfig(req.InlineConfig); err != nil {
		return nil, common.NewError(common.KindInvalidConfig, "inline_config failed schema validation", err)
	}

	priority := req.Priority
	if priority == 0 {
		priority = 5
	}

	now := s.clock.Now()
	job := &models.CrawlJob{
		ID:           common.NewJobID(),
		WebsiteID:    req.WebsiteID,
		InlineConfig: req.InlineConfig,
		JobType:      jobType,
		SeedURL:      req.SeedURL,
		Status:       models.JobStatusPending,
		Priority:     priority,
		Variables:    req.Variables,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	payload := map[string]interface{}{"job_id": job.ID}
	if _, err := s.queue.Publish(ctx, job.ID, payload, job.ID, priority); err != nil {
		// Publish failure must not leave an orphan pending job.
		if delErr := s.jobs.Delete(ctx, job.ID); delErr != nil {
			s.logger.Error().Err(delErr).Str("job_id", job.ID).Msg("failed to roll back job row after publish failure")
		}
		return nil, common.NewError(common.KindQueueUnavailable, "failed to publish job to queue", err)
	}

	s.logger.Info().Str("job_id", job.ID).Str("job_type", string(jobType)).Msg("job submitted")
	return job, nil
}

// Cancel transitions a job out of pending or running depending on its
// current status.
func (s *JobService) Cancel(ctx context.Context, jobID, by, reason string) (*models.CrawlJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, common.NewError(common.KindNotFound, "job not found", err)
	}

	if job.Status.IsTerminal() {
		return nil, common.ErrAlreadyTerminal
	}

	now := s.clock.Now()

	if job.Status == models.JobStatusPending {
		deleted, delErr := s.queue.Delete(ctx, jobID)
		if delErr != nil {
			return nil, fmt.Errorf("failed to delete pending queue entry: %w", delErr)
		}
		if deleted {
			ok, csErr := s.jobs.CompareAndSetStatus(ctx, jobID, models.JobStatusPending, models.JobStatusCancelled)
			if csErr != nil {
				return nil, fmt.Errorf("failed to set job cancelled: %w", csErr)
			}
			if ok {
				job.Status = models.JobStatusCancelled
				job.CancelledAt = &now
				job.CancelledBy = by
				job.CancelReason = reason
				job.UpdatedAt = now
				if updErr := s.jobs.Update(ctx, job); updErr != nil {
					return nil, fmt.Errorf("failed to persist cancellation metadata: %w", updErr)
				}
				s.logger.Info().Str("job_id", jobID).Msg("pending job cancelled before lease")
				return job, nil
			}
		}
		// Not found in queue, or lost the compare-and-set race: a worker
		// already leased it. Fall through to the running-path.
	}

	if err := s.cache.SetCancelled(ctx, jobID); err != nil {
		return nil, common.NewError(common.KindCacheUnavailable, "failed to set cancellation flag", err)
	}

	ok, csErr := s.jobs.CompareAndSetStatus(ctx, jobID, job.Status, models.JobStatusCancelling)
	if csErr != nil {
		return nil, fmt.Errorf("failed to set job cancelling: %w", csErr)
	}
	if !ok {
		// Status moved under us (e.g. to a terminal state); re-read and report.
		latest, getErr := s.jobs.Get(ctx, jobID)
		if getErr != nil {
			return nil, fmt.Errorf("failed to re-read job after cancel race: %w", getErr)
		}
		if latest.Status.IsTerminal() {
			return nil, common.ErrAlreadyTerminal
		}
		return latest, nil
	}

	job.Status = models.JobStatusCancelling
	job.CancelledBy = by
	job.CancelReason = reason
	job.UpdatedAt = now
	if updErr := s.jobs.Update(ctx, job); updErr != nil {
		return nil, fmt.Errorf("failed to persist cancelling metadata: %w", updErr)
	}
	s.logger.Info().Str("job_id", jobID).Str("by", by).Msg("cancellation requested for running job")
	return job, nil
}

// Get returns a job by id.
func (s *JobService) Get(ctx context.Context, jobID string) (*models.CrawlJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, common.NewError(common.KindNotFound, "job not found", err)
	}
	return job, nil
}

// List returns a filtered, paginated set of jobs.
func (s *JobService) List(ctx context.Context, filter models.JobListFilter, offset, limit int) (models.Page[*models.CrawlJob], error) {
	if limit <= 0 {
		limit = 50
	}
	items, total, err := s.jobs.List(ctx, filter, offset, limit)
	if err != nil {
		return models.Page[*models.CrawlJob]{}, fmt.Errorf("failed to list jobs: %w", err)
	}
	return models.Page[*models.CrawlJob]{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// StartRunning performs the pending→running compare-and-set the worker
// uses to lease a job, rejecting a duplicate start when two workers race on
// the same message. Owned by JobService even though it is invoked from the
// worker loop.
func (s *JobService) StartRunning(ctx context.Context, jobID string) (*models.CrawlJob, bool, error) {
	ok, err := s.jobs.CompareAndSetStatus(ctx, jobID, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return nil, false, fmt.Errorf("failed to compare-and-set job to running: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload leased job: %w", err)
	}
	now := s.clock.Now()
	job.StartedAt = &now
	job.UpdatedAt = now
	if err := s.jobs.Update(ctx, job); err != nil {
		return nil, false, fmt.Errorf("failed to persist job start: %w", err)
	}
	return job, true, nil
}

// CompleteSuccess transitions a running job to completed.
func (s *JobService) CompleteSuccess(ctx context.Context, jobID string, result models.CrawlResult) error {
	return s.finishTerminal(ctx, jobID, models.JobStatusCompleted, result.Outcome, "", result)
}

// CompleteFailure transitions a running job to failed, either on a
// non-retryable terminal error or once retries are exhausted.
func (s *JobService) CompleteFailure(ctx context.Context, jobID, lastError string, result models.CrawlResult) error {
	return s.finishTerminal(ctx, jobID, models.JobStatusFailed, models.OutcomeFailed, lastError, result)
}

// CompleteCancelled transitions a cancelling job to cancelled and clears
// the cancellation flag. The flag is cleared only after this terminal
// write, once the worker has finished resource cleanup.
func (s *JobService) CompleteCancelled(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for cancellation completion: %w", err)
	}
	now := s.clock.Now()
	job.Status = models.JobStatusCancelled
	job.Outcome = models.OutcomeCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job cancellation: %w", err)
	}
	s.cache.ClearCancelled(ctx, jobID)
	return nil
}

// RequeueForRetry transitions a running job back to pending with a
// backoff-delayed scheduled_at. The caller (worker, via RetryClassifier)
// computes delay.
func (s *JobService) RequeueForRetry(ctx context.Context, jobID string, delay time.Duration, lastError string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for retry: %w", err)
	}
	now := s.clock.Now()
	scheduledAt := now.Add(delay)
	job.Status = models.JobStatusPending
	job.RetryCount++
	job.LastError = lastError
	job.ScheduledAt = &scheduledAt
	job.UpdatedAt = now
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job retry: %w", err)
	}
	return nil
}

func (s *JobService) finishTerminal(ctx context.Context, jobID string, status models.JobStatus, outcome models.CrawlOutcome, lastError string, result models.CrawlResult) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for terminal write: %w", err)
	}
	now := s.clock.Now()
	job.Status = status
	job.Outcome = outcome
	job.CompletedAt = &now
	job.UpdatedAt = now
	if lastError != "" {
		job.LastError = lastError
	}
	job.Progress.ProcessedURLs = result.URLsDiscovered
	job.Progress.CompletedURLs = result.PagesWritten
	job.Progress.TotalURLs = result.URLsDiscovered
	if job.Progress.TotalURLs > 0 {
		job.Progress.Percentage = 100 * float64(job.Progress.CompletedURLs) / float64(job.Progress.TotalURLs)
	}
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to persist terminal job state: %w", err)
	}
	s.cache.ClearCancelled(ctx, jobID)
	return nil
}

// validateWebsiteConfig performs the schema checks an inline config must
// pass: known step kinds, non-empty selectors per step kind, sane
// pagination fields.
func validateWebsiteConfig(cfg *models.WebsiteConfig) error {
	if cfg == nil {
		return fmt.Errorf("inline_config is nil")
	}
	if len(cfg.Steps) == 0 {
		return fmt.Errorf("inline_config must declare at least one step")
	}
	for i, step := range cfg.Steps {
		switch step.Kind {
		case models.StepKindCrawlList, models.StepKindScrapeDetail:
		default:
			return fmt.Errorf("step[%d]: unknown step kind %q", i, step.Kind)
		}
		switch step.Method {
		case models.ScrapeMethodHTTP, models.ScrapeMethodAPI, models.ScrapeMethodBrowser:
		default:
			return fmt.Errorf("step[%d]: unknown scrape method %q", i, step.Method)
		}
		if step.Kind == models.StepKindCrawlList && step.Container == "" {
			return fmt.Errorf("step[%d]: crawl_list step requires a container selector", i)
		}
		if step.Pagination != nil && step.Pagination.MaxPages < 0 {
			return fmt.Errorf("step[%d]: pagination.max_pages must be >= 0", i)
		}
	}
	return nil
}
