package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RetryHistoryStorage implements interfaces.RetryHistoryStorage for Badger,
// recording one row per retry attempt.
type RetryHistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRetryHistoryStorage creates a new RetryHistoryStorage instance.
func NewRetryHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RetryHistoryStorage {
	return &RetryHistoryStorage{db: db, logger: logger}
}

func (s *RetryHistoryStorage) Append(ctx context.Context, r *models.RetryHistory) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := s.db.Store().Insert(r.ID, r); err != nil {
		return fmt.Errorf("failed to append retry history: %w", err)
	}
	return nil
}

func (s *RetryHistoryStorage) ListByJob(ctx context.Context, jobID string) ([]*models.RetryHistory, error) {
	var entries []models.RetryHistory
	query := badgerhold.Where("JobID").Eq(jobID).SortBy("Attempt")
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list retry history: %w", err)
	}

	result := make([]*models.RetryHistory, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}
