package badger

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// logSequence is a global counter to ensure unique log keys even within the
// same nanosecond.
var logSequence uint64

// LogStorage implements interfaces.LogStorage for Badger, partitioning
// CrawlLog rows by month.
type LogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLogStorage creates a new LogStorage instance.
func NewLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LogStorage {
	return &LogStorage{
		db:     db,
		logger: logger,
	}
}

func (s *LogStorage) Append(ctx context.Context, entry *models.CrawlLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.PartitionKey == "" {
		entry.PartitionKey = models.LogPartitionKey(entry.CreatedAt)
	}

	seq := atomic.AddUint64(&logSequence, 1)
	key := fmt.Sprintf("%019d_%010d", entry.CreatedAt.UnixNano(), seq)
	if entry.ID == "" {
		entry.ID = key
	}

	if err := s.db.Store().Insert(key, entry); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *LogStorage) ListByJob(ctx context.Context, jobID string, since *time.Time) ([]*models.CrawlLog, error) {
	query := badgerhold.Where("JobID").Eq(jobID)
	if since != nil {
		query = query.And("CreatedAt").Ge(*since)
	}

	var logs []models.CrawlLog
	if err := s.db.Store().Find(&logs, query); err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	sort.SliceStable(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })

	result := make([]*models.CrawlLog, len(logs))
	for i := range logs {
		result[i] = &logs[i]
	}
	return result, nil
}

// DropPartitionsOlderThan deletes every CrawlLog row whose PartitionKey is
// older than cutoff's month, the mechanism LogStream.DropOldPartitions uses
// to bound log storage growth. It returns the number of rows deleted.
func (s *LogStorage) DropPartitionsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	cutoffKey := models.LogPartitionKey(cutoff)

	var logs []models.CrawlLog
	if err := s.db.Store().Find(&logs, badgerhold.Where("PartitionKey").Lt(cutoffKey)); err != nil {
		return 0, fmt.Errorf("failed to find old log partitions: %w", err)
	}

	if err := s.db.Store().DeleteMatching(&models.CrawlLog{}, badgerhold.Where("PartitionKey").Lt(cutoffKey)); err != nil {
		return 0, fmt.Errorf("failed to drop old log partitions: %w", err)
	}

	return len(logs), nil
}
