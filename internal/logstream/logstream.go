// Package logstream implements LogStream: an
// append-only per-job log store with live subscriber fan-out and
// cursor-based replay. Grounded on the teacher's internal/logs package
// (base64 cursor encoding, per-job ordering) but built against the
// redesigned models.CrawlLog/interfaces.LogStorage rather than the
// teacher's JobLogEntry/JobLogStorage types, and replacing its heap-based
// multi-job aggregation with a single bounded drop-oldest fan-out channel
// per subscriber, since §5 calls for live push delivery rather than
// cursor-polled aggregation across jobs.
package logstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
)

// EventKind distinguishes the union type carried on a subscriber channel
//.
type EventKind string

const (
	EventKindLog          EventKind = "log"
	EventKindStatusChange EventKind = "status_change"
	EventKindProgress     EventKind = "progress"
)

// Event is one item delivered to a LogStream subscriber.
type Event struct {
	Kind      EventKind
	Log       *models.CrawlLog
	Status    models.JobStatus
	Progress  *models.JobProgress
	CreatedAt time.Time
}

// Filter narrows a subscription to particular levels.
// A zero-value Filter matches everything.
type Filter struct {
	MinLevel LogLevelRank
}

// LogLevelRank orders LogLevel for MinLevel filtering.
type LogLevelRank int

const (
	RankTrace LogLevelRank = iota
	RankDebug
	RankInfo
	RankWarn
	RankError
)

func rankOf(l models.LogLevel) LogLevelRank {
	switch l {
	case models.LogLevelTrace:
		return RankTrace
	case models.LogLevelDebug:
		return RankDebug
	case models.LogLevelWarn:
		return RankWarn
	case models.LogLevelError:
		return RankError
	default:
		return RankInfo
	}
}

func (f Filter) matches(level models.LogLevel) bool {
	return rankOf(level) >= f.MinLevel
}

// defaultBufferSize bounds each subscriber's channel; once full, the oldest
// buffered event is dropped to admit the newest (§5 "bounded per-subscriber
// drop-oldest buffer").
const defaultBufferSize = 256

type subscriber struct {
	id     int
	jobID  string
	filter Filter
	ch     chan Event
	mu     sync.Mutex
	buf    []Event
	done   chan struct{}
}

func newSubscriber(id int, jobID string, filter Filter) *subscriber {
	return &subscriber{
		id:     id,
		jobID:  jobID,
		filter: filter,
		ch:     make(chan Event, defaultBufferSize),
		done:   make(chan struct{}),
	}
}

// deliver pushes ev to the subscriber's channel, dropping the oldest
// buffered event if the channel is full rather than blocking the producer.
func (s *subscriber) deliver(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// LogStream is the append-only log store plus live subscriber fan-out
//.
type LogStream struct {
	storage interfaces.LogStorage
	logger  arbor.ILogger

	mu        sync.RWMutex
	nextSubID int
	subsByJob map[string][]*subscriber
}

// New creates a LogStream over the given append-only log repository.
func New(storage interfaces.LogStorage, logger arbor.ILogger) *LogStream {
	return &LogStream{
		storage:   storage,
		logger:    logger,
		subsByJob: make(map[string][]*subscriber),
	}
}

// Append persists a log entry and fans it out to live subscribers of its
// job. Called by every pipeline component that logs job-scoped events.
func (l *LogStream) Append(ctx context.Context, jobID, websiteID, traceID string, level models.LogLevel, message string, fields map[string]interface{}) error {
	entry := &models.CrawlLog{
		ID:           common.NewLogID(),
		JobID:        jobID,
		WebsiteID:    websiteID,
		TraceID:      traceID,
		Level:        level,
		Message:      message,
		Fields:       fields,
		PartitionKey: models.LogPartitionKey(time.Now()),
		CreatedAt:    time.Now(),
	}
	if err := l.storage.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	l.publish(jobID, Event{Kind: EventKindLog, Log: entry, CreatedAt: entry.CreatedAt})
	return nil
}

// PublishStatusChange fans out a job status transition to live subscribers
// without touching durable storage (status is persisted on CrawlJob, not
// CrawlLog).
func (l *LogStream) PublishStatusChange(jobID string, status models.JobStatus) {
	l.publish(jobID, Event{Kind: EventKindStatusChange, Status: status, CreatedAt: time.Now()})
}

// PublishProgress fans out a progress snapshot to live subscribers.
func (l *LogStream) PublishProgress(jobID string, progress models.JobProgress) {
	l.publish(jobID, Event{Kind: EventKindProgress, Progress: &progress, CreatedAt: time.Now()})
}

func (l *LogStream) publish(jobID string, ev Event) {
	l.mu.RLock()
	subs := l.subsByJob[jobID]
	l.mu.RUnlock()

	for _, sub := range subs {
		if ev.Kind == EventKindLog && !sub.filter.matches(ev.Log.Level) {
			continue
		}
		sub.deliver(ev)
	}
}

// Subscribe registers a live subscriber for a job's events (§6.1
// "Subscribe(job_id, filter) → Stream<...>"). The returned channel is
// closed when ctx is cancelled or Unsubscribe-equivalent cleanup runs.
func (l *LogStream) Subscribe(ctx context.Context, jobID string, filter Filter) <-chan Event {
	l.mu.Lock()
	l.nextSubID++
	sub := newSubscriber(l.nextSubID, jobID, filter)
	l.subsByJob[jobID] = append(l.subsByJob[jobID], sub)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.unsubscribe(sub)
	}()

	return sub.ch
}

func (l *LogStream) unsubscribe(sub *subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	subs := l.subsByJob[sub.jobID]
	for i, s := range subs {
		if s.id == sub.id {
			l.subsByJob[sub.jobID] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			break
		}
	}
	if len(l.subsByJob[sub.jobID]) == 0 {
		delete(l.subsByJob, sub.jobID)
	}
}

// Cursor positions a Replay call after a specific log entry, grounded on
// the teacher's CursorKey/base64 encoding (internal/logs/common.go).
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	LogID     string    `json:"log_id"`
}

// EncodeCursor serializes a Cursor to an opaque, URL-safe string.
func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a cursor string produced by EncodeCursor. An empty
// string decodes to the zero Cursor (replay from the beginning).
func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor payload: %w", err)
	}
	return c, nil
}

// Replay returns log entries for a job created at or after the cursor
// position, in creation order.
func (l *LogStream) Replay(ctx context.Context, jobID string, since *Cursor) ([]*models.CrawlLog, error) {
	var sinceTime *time.Time
	if since != nil && !since.CreatedAt.IsZero() {
		t := since.CreatedAt
		sinceTime = &t
	}
	entries, err := l.storage.ListByJob(ctx, jobID, sinceTime)
	if err != nil {
		return nil, fmt.Errorf("failed to replay logs: %w", err)
	}
	if since == nil || since.LogID == "" {
		return entries, nil
	}
	// Drop entries at exactly since.CreatedAt that were already delivered,
	// keyed by id, to avoid re-delivering the cursor's own row.
	filtered := entries[:0]
	skipping := true
	for _, e := range entries {
		if skipping {
			if e.ID == since.LogID {
				skipping = false
				continue
			}
			if e.CreatedAt.After(since.CreatedAt) {
				skipping = false
			} else {
				continue
			}
		}
		filtered = append(filtered, e)
	}
	return filtered, nil
}

// DropOldPartitions removes log partitions older than the retention cutoff
//.
func (l *LogStream) DropOldPartitions(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	n, err := l.storage.DropPartitionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to drop old log partitions: %w", err)
	}
	if n > 0 {
		l.logger.Info().Int("rows_dropped", n).Msg("dropped expired log partitions")
	}
	return n, nil
}
