// Package scheduler implements the cron dispatcher described in §4.2: a
// ticking loop that finds due ScheduledJob entries, re-checks eligibility,
// submits a CrawlJob through JobService, and advances next_run_time.
// Grounded on the teacher's internal/services/scheduler/scheduler_service.go
// robfig/cron usage, simplified from that file's named-job-registry model
// (RegisterJob/jobEntry/executeJobHandler) down to a single poll loop over
// storage-backed ScheduledJob rows, since this redesign's schedule entries
// are data rows rather than process-registered closures.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/jobs"
	"github.com/ternarybob/crawlerd/internal/models"
)

// TickInterval is how often the dispatcher polls for due entries (§4.2
// "polls every 60 seconds").
const TickInterval = 60 * time.Second

// DefaultMissedFiringGrace is used when the caller passes a zero grace
// period to New (§4.2 "missed firings within a grace period still fire
// once", default 1h).
const DefaultMissedFiringGrace = time.Hour

// listLimit bounds one poll's ListDue page size.
const listLimit = 200

// Scheduler polls ScheduledJob rows and dispatches due ones through
// JobService.Submit.
type Scheduler struct {
	scheduled interfaces.ScheduledJobStorage
	websites  interfaces.WebsiteStorage
	jobs      interfaces.JobStorage
	jobSvc    *jobs.JobService
	logger    arbor.ILogger
	clock     common.Clock
	grace     time.Duration

	stop chan struct{}
	done chan struct{}
}

// New creates a Scheduler. grace is the missed-firing grace period; a zero
// value falls back to DefaultMissedFiringGrace.
func New(
	scheduled interfaces.ScheduledJobStorage,
	websites interfaces.WebsiteStorage,
	jobStorage interfaces.JobStorage,
	jobSvc *jobs.JobService,
	logger arbor.ILogger,
	clock common.Clock,
	grace time.Duration,
) *Scheduler {
	if clock == nil {
		clock = common.NewSystemClock()
	}
	if grace <= 0 {
		grace = DefaultMissedFiringGrace
	}
	return &Scheduler{
		scheduled: scheduled,
		websites:  websites,
		jobs:      jobStorage,
		jobSvc:    jobSvc,
		logger:    logger,
		clock:     clock,
		grace:     grace,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run blocks, ticking every TickInterval until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop requests the run loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.scheduled.ListDue(ctx, now, listLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list due scheduled jobs")
		return
	}
	for _, entry := range due {
		s.dispatch(ctx, entry, now)
	}
}

// dispatch re-validates an entry's eligibility immediately before firing it
// (§4.2 step 2 "re-check is_active and the website's status at fire time,
// not just at the last poll"), prevents overlapping runs of the same
// schedule, submits the job, then advances
// next_run_time from the entry's cron expression in its own timezone (P11).
func (s *Scheduler) dispatch(ctx context.Context, entry *models.ScheduledJob, now time.Time) {
	if !entry.IsEligible(now) {
		return
	}

	website, err := s.websites.Get(ctx, entry.WebsiteID)
	if err != nil {
		s.logger.Warn().Err(err).Str("scheduled_job_id", entry.ID).Msg("skipping dispatch: website lookup failed")
		return
	}
	if website.IsDeleted() || website.Status != models.WebsiteStatusActive {
		s.logger.Debug().Str("scheduled_job_id", entry.ID).Str("website_id", entry.WebsiteID).Msg("skipping dispatch: website inactive or deleted")
		s.advance(ctx, entry, now)
		return
	}

	running, err := s.jobs.ListNonTerminalByScheduledJob(ctx, entry.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("scheduled_job_id", entry.ID).Msg("failed to check for overlapping runs")
		return
	}
	// Jobs submitted below carry no ScheduledJobID, so the entry's last
	// dispatched job is checked as well.
	if entry.LastJobID != "" {
		if last, getErr := s.jobs.Get(ctx, entry.LastJobID); getErr == nil && !last.Status.IsTerminal() {
			running = append(running, last)
		}
	}
	if len(running) > 0 {
		s.logger.Debug().Str("scheduled_job_id", entry.ID).Int("non_terminal_count", len(running)).Msg("skipping dispatch: previous run still in flight")
		s.advance(ctx, entry, now)
		return
	}

	job, err := s.jobSvc.Submit(ctx, models.SubmitRequest{
		WebsiteID: entry.WebsiteID,
		SeedURL:   website.BaseURL,
		Priority:  5,
		Schedule:  &models.ScheduleRequest{Type: models.JobTypeRecurring, CronExpression: entry.CronExpression, Timezone: entry.Timezone},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("scheduled_job_id", entry.ID).Msg("scheduled submission failed")
		s.advance(ctx, entry, now)
		return
	}

	entry.LastJobID = job.ID
	s.advance(ctx, entry, now)
}

// advance computes the entry's next firing time from its cron expression
// and persists it along with last_run_time, anchoring missed firings to
// "now" once they fall outside the grace window.
func (s *Scheduler) advance(ctx context.Context, entry *models.ScheduledJob, now time.Time) {
	loc := time.UTC
	if entry.Timezone != "" {
		if l, err := time.LoadLocation(entry.Timezone); err == nil {
			loc = l
		} else {
			s.logger.Warn().Err(err).Str("scheduled_job_id", entry.ID).Str("timezone", entry.Timezone).Msg("unknown timezone, falling back to UTC")
		}
	}

	schedule, err := common.ParseCron(entry.CronExpression)
	if err != nil {
		s.logger.Error().Err(err).Str("scheduled_job_id", entry.ID).Msg("entry carries an unparseable cron expression, deactivating")
		entry.IsActive = false
		entry.UpdatedAt = now
		_ = s.scheduled.Update(ctx, entry)
		return
	}

	anchor := entry.NextRunTime
	if now.Sub(anchor) > s.grace {
		s.logger.Warn().Str("scheduled_job_id", entry.ID).Time("missed_run_time", anchor).Msg("missed_fire: next_run_time exceeded grace period, re-anchoring to now")
		anchor = now
	}

	next := schedule.Next(anchor.In(loc))
	lastRun := now
	entry.LastRunTime = &lastRun
	entry.NextRunTime = next.UTC()
	entry.UpdatedAt = now

	if err := s.scheduled.Update(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("scheduled_job_id", entry.ID).Msg("failed to persist advanced schedule")
	}
}

// ParseCronInZone validates a cron expression and timezone together,
// computing the first firing after `from` (§4.1 "validates cron_expression
// at submission time").
func ParseCronInZone(cronExpr, timezone string, from time.Time) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q: %w", timezone, err)
		}
		loc = l
	}
	schedule, err := common.ParseCron(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(from.In(loc)).UTC(), nil
}
