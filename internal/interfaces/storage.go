package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/crawlerd/internal/models"
)

// ErrKeyNotFound is returned by KeyValueStorage when a key is absent.
var ErrKeyNotFound = errors.New("key not found")

// ErrNotFound is returned by repository Get methods when a row is absent.
var ErrNotFound = errors.New("not found")

// WebsiteStorage persists Website templates and their config history
//.
type WebsiteStorage interface {
	Create(ctx context.Context, w *models.Website) error
	Get(ctx context.Context, id string) (*models.Website, error)
	GetByName(ctx context.Context, name string) (*models.Website, error)
	Update(ctx context.Context, w *models.Website) error
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, onlyActive bool) ([]*models.Website, error)

	AppendConfigHistory(ctx context.Context, h *models.WebsiteConfigHistory) error
	GetConfigHistory(ctx context.Context, websiteID string) ([]*models.WebsiteConfigHistory, error)
	GetConfigVersion(ctx context.Context, websiteID string, version int) (*models.WebsiteConfigHistory, error)
}

// JobStorage persists CrawlJob rows, owned exclusively by JobService (§3
// "Ownership: Jobs are owned by the JobService").
type JobStorage interface {
	Create(ctx context.Context, j *models.CrawlJob) error
	Get(ctx context.Context, id string) (*models.CrawlJob, error)
	Update(ctx context.Context, j *models.CrawlJob) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.JobListFilter, offset, limit int) ([]*models.CrawlJob, int, error)

	// CompareAndSetStatus performs `UPDATE ... WHERE status = from` (§4.4
	// "compare-and-set to reject duplicate starts").
	CompareAndSetStatus(ctx context.Context, id string, from, to models.JobStatus) (bool, error)

	ListNonTerminalByScheduledJob(ctx context.Context, scheduledJobID string) ([]*models.CrawlJob, error)
}

// ScheduledJobStorage persists cron dispatch entries.
type ScheduledJobStorage interface {
	Create(ctx context.Context, s *models.ScheduledJob) error
	Get(ctx context.Context, id string) (*models.ScheduledJob, error)
	Update(ctx context.Context, s *models.ScheduledJob) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	ListByWebsite(ctx context.Context, websiteID string) ([]*models.ScheduledJob, error)
}

// PageStorage persists CrawledPage rows, owned exclusively by the worker
// executing the job.
type PageStorage interface {
	Create(ctx context.Context, p *models.CrawledPage) error
	Get(ctx context.Context, id string) (*models.CrawledPage, error)
	GetByWebsiteURLHash(ctx context.Context, websiteID, urlHash string) (*models.CrawledPage, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.CrawledPage, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
}

// ContentHashStorage persists the exact-hash side of the two-phase
// deduplicator.
type ContentHashStorage interface {
	Get(ctx context.Context, hash string) (*models.ContentHash, error)
	Upsert(ctx context.Context, c *models.ContentHash) error
	IncrementOccurrence(ctx context.Context, hash string) (*models.ContentHash, error)
	ListSimhashCandidates(ctx context.Context, limit int) ([]*models.ContentHash, error)
}

// LogStorage persists append-only CrawlLog entries, partitioned by month
//.
type LogStorage interface {
	Append(ctx context.Context, entry *models.CrawlLog) error
	ListByJob(ctx context.Context, jobID string, since *time.Time) ([]*models.CrawlLog, error)
	DropPartitionsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// RetryHistoryStorage persists one row per retry attempt.
type RetryHistoryStorage interface {
	Append(ctx context.Context, r *models.RetryHistory) error
	ListByJob(ctx context.Context, jobID string) ([]*models.RetryHistory, error)
}

// DeadLetterStorage persists terminal job failures (§3 "DeadLetterQueue",
// GLOSSARY "DLQ").
type DeadLetterStorage interface {
	Append(ctx context.Context, d *models.DeadLetterQueue) error
	Get(ctx context.Context, id string) (*models.DeadLetterQueue, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.DeadLetterQueue, error)
	List(ctx context.Context, offset, limit int) ([]*models.DeadLetterQueue, int, error)
	MarkRetried(ctx context.Context, id, newJobID string) error
}

// KeyValuePair is a stored key/value row with bookkeeping timestamps,
// grounded on the teacher's KeyValueStorage contract.
type KeyValuePair struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"` // zero means no TTL
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KeyValueStorage is the raw, untyped KV backing store, with an optional
// per-key expiry (SetWithTTL). Counter semantics are layered on top by
// internal/cache.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	GetPair(ctx context.Context, key string) (*KeyValuePair, error)
	Set(ctx context.Context, key, value, description string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Upsert(ctx context.Context, key, value, description string) (created bool, err error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	List(ctx context.Context) ([]KeyValuePair, error)
	GetAll(ctx context.Context) (map[string]string, error)
}

// QueueStorage is the durable backing store for the work queue (§4.4,
// §6.3). The internal/queue package layers publish/pull/ack/nak/dedup
// semantics on top.
type QueueStorage interface {
	Insert(ctx context.Context, m *models.QueueMessage) error
	GetByDedupKey(ctx context.Context, dedupKey string, within time.Duration) (*models.QueueMessage, error)
	DeleteByJobID(ctx context.Context, jobID string) (bool, error)
	LeaseNext(ctx context.Context, n int, owner string, leaseFor time.Duration, now time.Time) ([]*models.QueueMessage, error)
	Ack(ctx context.Context, messageID string) error
	Nak(ctx context.Context, messageID string, notBefore time.Time) error
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, messageID string) (*models.QueueMessage, error)
	Count(ctx context.Context) (int, error)
}

// StorageManager is the composition-root handle over every repository
// (§9 "Settings and repositories are injected via a single composition
// root").
type StorageManager interface {
	Website() WebsiteStorage
	Job() JobStorage
	ScheduledJob() ScheduledJobStorage
	Page() PageStorage
	ContentHash() ContentHashStorage
	Log() LogStorage
	RetryHistory() RetryHistoryStorage
	DeadLetter() DeadLetterStorage
	KV() KeyValueStorage
	Queue() QueueStorage
	Close() error
}
