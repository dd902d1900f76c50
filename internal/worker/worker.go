// Package worker implements the Worker component: it
// pulls leased messages off the Queue, hands each job to the
// SeedURLCrawler, classifies the outcome through the RetryClassifier, and
// acks/naks the message. Grounded on the teacher's
// internal/services/crawler/worker.go pull-dispatch-ack loop, generalized
// from that file's in-process heap queue and bounded worker-pool
// semaphore (sem chan struct{}) to the persisted, lease-based Queue this
// redesign's §4.4 requires; the classify-then-requeue-or-DLQ branch is new
// since the teacher has no DLQ concept.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/browser"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/crawler"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/jobs"
	"github.com/ternarybob/crawlerd/internal/logstream"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/ternarybob/crawlerd/internal/queue"
	"github.com/ternarybob/crawlerd/internal/retry"
)

// Config controls the worker's pull/concurrency/cleanup behavior.
type Config struct {
	Consumer        string        // consumer group member name
	Concurrency     int           // default 10 (cmd/crawlerd passes P*C)
	PullBatch       int           // messages per Pull call, default 10
	AckWait         time.Duration // default 300s
	PollInterval    time.Duration // how often Pull is retried when idle, default 2s
	CleanupDeadline time.Duration // §4.8 "Cleanup(deadline = 5s)"
}

func (c Config) withDefaults() Config {
	if c.Consumer == "" {
		c.Consumer = "crawler-worker"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.PullBatch <= 0 {
		c.PullBatch = 10
	}
	if c.AckWait <= 0 {
		c.AckWait = queue.DefaultAckWait
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.CleanupDeadline <= 0 {
		c.CleanupDeadline = 5 * time.Second
	}
	return c
}

// Worker is one member of the "crawler-workers" consumer group: it
// leases messages, runs the pipeline, and owns the retry/DLQ decision for
// every job that leaves running.
type Worker struct {
	queue      *queue.Queue
	jobSvc     *jobs.JobService
	storage    interfaces.StorageManager
	crawler    *crawler.SeedURLCrawler
	classifier *retry.Classifier
	logs       *logstream.LogStream
	logger     arbor.ILogger
	cfg        Config

	sem chan struct{}
}

// New creates a Worker over the given composition-root dependencies.
func New(
	q *queue.Queue,
	jobSvc *jobs.JobService,
	storage interfaces.StorageManager,
	c *crawler.SeedURLCrawler,
	classifier *retry.Classifier,
	logs *logstream.LogStream,
	logger arbor.ILogger,
	cfg Config,
) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		queue: q, jobSvc: jobSvc, storage: storage, crawler: c,
		classifier: classifier, logs: logs, logger: logger, cfg: cfg,
		sem: make(chan struct{}, cfg.Concurrency),
	}
}

// Run blocks, pulling and dispatching jobs until ctx is cancelled (§5 "the
// worker process runs N concurrent task handlers").
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pullAndDispatch(ctx)
		}
	}
}

func (w *Worker) pullAndDispatch(ctx context.Context) {
	available := w.availableSlots()
	if available <= 0 {
		return
	}
	batch := w.cfg.PullBatch
	if available < batch {
		batch = available
	}
	msgs, err := w.queue.Pull(ctx, w.cfg.Consumer, batch, w.cfg.AckWait)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to pull queue messages")
		return
	}
	for _, msg := range msgs {
		msg := msg
		w.sem <- struct{}{}
		common.SafeGo(w.logger, "worker.process", func() {
			defer func() { <-w.sem }()
			w.process(ctx, msg)
		})
	}
}

func (w *Worker) availableSlots() int {
	return cap(w.sem) - len(w.sem)
}

// process runs one leased message end to end: lease the job row via
// JobService's compare-and-set, run the pipeline, then classify the
// outcome into completed/failed/cancelled/retry/DLQ.
func (w *Worker) process(ctx context.Context, msg *models.QueueMessage) {
	jobID := msg.JobID
	contextLogger := w.logger.WithContextWriter(jobID)

	job, leased, err := w.jobSvc.StartRunning(ctx, jobID)
	if err != nil {
		contextLogger.Error().Err(err).Msg("failed to lease job")
		return
	}
	if !leased {
		// Lost the compare-and-set race (duplicate delivery of an
		// already-running/terminal job, §4.4 "workers are expected to be
		// idempotent per job id"): this delivery is redundant, ack it away.
		if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
			contextLogger.Warn().Err(ackErr).Msg("failed to ack redundant delivery")
		}
		return
	}

	w.logs.PublishStatusChange(jobID, models.JobStatusRunning)
	contextLogger.Info().Str("seed_url", job.SeedURL).Msg("job leased, starting crawl")

	coordinator := browser.NewCleanupCoordinator(w.logger)
	result := w.crawler.Crawl(ctx, job, coordinator)
	coordinator.Cleanup(ctx, w.cfg.CleanupDeadline)

	switch result.Outcome {
	case models.OutcomeCancelled:
		w.finishCancelled(ctx, msg, jobID, contextLogger)
	case models.OutcomeSuccess, models.OutcomeSuccessNoURLs, models.OutcomePartialSuccess,
		models.OutcomeCircularPagination, models.OutcomeEmptyPages, models.OutcomePaginationStopped:
		w.finishSuccess(ctx, msg, jobID, result, contextLogger)
	default:
		w.finishFailure(ctx, msg, job, result, contextLogger)
	}
}

func (w *Worker) finishCancelled(ctx context.Context, msg *models.QueueMessage, jobID string, logger arbor.ILogger) {
	if err := w.jobSvc.CompleteCancelled(ctx, jobID); err != nil {
		logger.Error().Err(err).Msg("failed to persist cancellation")
	}
	w.logs.PublishStatusChange(jobID, models.JobStatusCancelled)
	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to ack cancelled job message")
	}
	logger.Info().Msg("job cancelled")
}

func (w *Worker) finishSuccess(ctx context.Context, msg *models.QueueMessage, jobID string, result models.CrawlResult, logger arbor.ILogger) {
	if err := w.jobSvc.CompleteSuccess(ctx, jobID, result); err != nil {
		logger.Error().Err(err).Msg("failed to persist terminal success")
	}
	w.logs.PublishStatusChange(jobID, models.JobStatusCompleted)
	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to ack completed job message")
	}
	logger.Info().
		Str("outcome", string(result.Outcome)).
		Int("pages_written", result.PagesWritten).
		Int("urls_discovered", result.URLsDiscovered).
		Int("warnings", len(result.Warnings)).
		Msg("job finished")
}

// finishFailure classifies a non-success, non-cancelled outcome into a
// retry or a DLQ entry, the only place in the system that decides
// between "running → pending" and "running → failed".
func (w *Worker) finishFailure(ctx context.Context, msg *models.QueueMessage, job *models.CrawlJob, result models.CrawlResult, logger arbor.ILogger) {
	category := categoryFor(result)
	retryAfter := 0
	if herr, ok := result.Err.(*common.Error); ok {
		retryAfter = herr.RetryAfter
	}

	decision := w.classifier.Decide(category, job.RetryCount, retryAfter)
	errMsg := errorMessage(result)

	if decision.Retry && !w.queue.ExceedsMaxDeliver(msg) {
		if err := w.storage.RetryHistory().Append(ctx, &models.RetryHistory{
			ID: common.NewRetryID(), JobID: job.ID, Attempt: job.RetryCount + 1,
			ErrorCategory: category, ErrorMessage: errMsg,
			DelaySeconds: decision.Delay.Seconds(), CreatedAt: time.Now(),
		}); err != nil {
			logger.Error().Err(err).Msg("failed to record retry history")
		}
		if err := w.jobSvc.RequeueForRetry(ctx, job.ID, decision.Delay, errMsg); err != nil {
			logger.Error().Err(err).Msg("failed to requeue job for retry")
		}
		w.logs.PublishStatusChange(job.ID, models.JobStatusPending)
		if err := w.queue.Nak(ctx, msg.ID, decision.Delay); err != nil {
			logger.Error().Err(err).Msg("failed to nak message for retry")
		}
		logger.Warn().
			Str("category", string(category)).
			Dur("delay", decision.Delay).
			Str("error", errMsg).
			Msg("job failed, scheduled for retry")
		return
	}

	if err := w.storage.DeadLetter().Append(ctx, &models.DeadLetterQueue{
		ID: common.NewDLQID(), JobID: job.ID, WebsiteID: job.WebsiteID,
		ErrorCategory: category, Attempts: job.RetryCount + 1,
		ErrorMessage: errMsg, CreatedAt: time.Now(),
	}); err != nil {
		logger.Error().Err(err).Msg("failed to write dead-letter entry")
	}
	if err := w.jobSvc.CompleteFailure(ctx, job.ID, errMsg, result); err != nil {
		logger.Error().Err(err).Msg("failed to persist terminal failure")
	}
	w.logs.PublishStatusChange(job.ID, models.JobStatusFailed)
	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to ack failed job message")
	}
	logger.Error().Str("category", string(category)).Str("error", errMsg).Msg("job failed, routed to dead-letter queue")
}

// categoryFor maps a CrawlResult's outcome/error to the ErrorCategory the
// RetryClassifier consumes.
// invalid_config is always a non-retryable validation failure regardless
// of what produced it (§4.3 step 1 "Validation failures ... terminal, no
// retry"); seed_url_404 is always terminal.
func categoryFor(result models.CrawlResult) models.ErrorCategory {
	switch result.Outcome {
	case models.OutcomeInvalidConfig:
		return models.CategoryValidationError
	case models.OutcomeSeedURL404:
		return models.CategoryNotFound
	}
	if herr, ok := result.Err.(*common.Error); ok && herr.Category != "" {
		return herr.Category
	}
	if result.Err != nil {
		return retry.ClassifyError(result.Err)
	}
	return models.CategoryUnknown
}

func errorMessage(result models.CrawlResult) string {
	if result.Err != nil {
		return fmt.Sprintf("%s: %v", result.Outcome, result.Err)
	}
	return string(result.Outcome)
}
