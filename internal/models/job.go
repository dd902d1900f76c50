package models

import "time"

// JobStatus is the state-machine status of a CrawlJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusPaused     JobStatus = "paused" // reserved, §3
)

// IsTerminal reports whether a status is absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobType distinguishes how a CrawlJob was created.
type JobType string

const (
	JobTypeOneTime   JobType = "one_time"
	JobTypeScheduled JobType = "scheduled"
	JobTypeRecurring JobType = "recurring"
)

// CrawlOutcome is the closed set of terminal pipeline outcomes.
type CrawlOutcome string

const (
	OutcomeSuccess            CrawlOutcome = "success"
	OutcomeSuccessNoURLs      CrawlOutcome = "success_no_urls"
	OutcomeSeedURL404         CrawlOutcome = "seed_url_404"
	OutcomeSeedURLError       CrawlOutcome = "seed_url_error"
	OutcomeInvalidConfig      CrawlOutcome = "invalid_config"
	OutcomePaginationStopped  CrawlOutcome = "pagination_stopped"
	OutcomeCircularPagination CrawlOutcome = "circular_pagination"
	OutcomeEmptyPages         CrawlOutcome = "empty_pages"
	OutcomePartialSuccess     CrawlOutcome = "partial_success"
	OutcomeCancelled          CrawlOutcome = "cancelled"
	OutcomeFailed             CrawlOutcome = "failed"
)

// CrawlJob is one unit of crawl work. Exactly one of
// WebsiteID/InlineConfig is set.
type CrawlJob struct {
	ID            string        `json:"id"`
	WebsiteID     string        `badgerhold:"index" json:"website_id,omitempty"`
	InlineConfig  *WebsiteConfig `json:"inline_config,omitempty"`
	ScheduledJobID string       `badgerhold:"index" json:"scheduled_job_id,omitempty"`
	JobType       JobType       `json:"job_type"`
	SeedURL       string        `json:"seed_url"`
	Status        JobStatus     `badgerhold:"index" json:"status"`
	Priority      int           `json:"priority"` // [1,10], default 5

	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`

	CancelledBy     string `json:"cancelled_by,omitempty"`
	CancelReason    string `json:"cancellation_reason,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	RetryCount      int    `json:"retry_count"`
	Outcome         CrawlOutcome `json:"outcome,omitempty"`

	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Progress  JobProgress            `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveConfigSource reports whether the job resolves its config from a
// website template or an inline config, enforcing the XOR invariant (P1).
func (j *CrawlJob) EffectiveConfigSource() (isTemplate bool, ok bool) {
	hasWebsite := j.WebsiteID != ""
	hasInline := j.InlineConfig != nil
	if hasWebsite == hasInline {
		return false, false // both or neither set: invalid
	}
	return hasWebsite, true
}

// JobProgress is the live progress snapshot written to the job row and the
// progress:job:{id} cache entry.
type JobProgress struct {
	CurrentStep    string  `json:"current_step,omitempty"`
	TotalURLs      int     `json:"total_urls"`
	ProcessedURLs  int     `json:"processed_urls"`
	CompletedURLs  int     `json:"completed_urls"`
	FailedURLs     int     `json:"failed_urls"`
	DuplicateURLs  int     `json:"duplicate_urls"`
	PagesProcessed int     `json:"pages_processed"`
	Percentage     float64 `json:"percentage"`
}

// CrawlResult is the outcome of one SeedURLCrawler.Crawl invocation.
type CrawlResult struct {
	Outcome        CrawlOutcome
	PagesWritten   int
	URLsDiscovered int
	Warnings       []string
	Err            error
}

// SubmitRequest is the XOR union of template-mode and inline-mode job
// submission.
type SubmitRequest struct {
	WebsiteID    string                  `json:"website_id,omitempty" validate:"required_without=InlineConfig"`
	InlineConfig *WebsiteConfig          `json:"inline_config,omitempty" validate:"required_without=WebsiteID"`
	SeedURL      string                  `json:"seed_url" validate:"required,url"`
	Variables    map[string]interface{}  `json:"variables,omitempty"`
	Schedule     *ScheduleRequest        `json:"schedule,omitempty"`
	Priority     int                     `json:"priority,omitempty" validate:"omitempty,min=1,max=10"`
	Metadata     map[string]interface{}  `json:"metadata,omitempty"`
}

// ScheduleRequest describes recurring-submission intent carried on a
// SubmitRequest.
type ScheduleRequest struct {
	Type           JobType `json:"type" validate:"required,oneof=one_time scheduled recurring"`
	CronExpression string  `json:"cron_expression,omitempty"`
	Timezone       string  `json:"timezone,omitempty"`
}

// JobListFilter narrows JobService.List.
type JobListFilter struct {
	Status    JobStatus
	WebsiteID string
}

// Page is a generic paginated result envelope.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
}
