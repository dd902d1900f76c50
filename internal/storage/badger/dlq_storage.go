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

// DeadLetterStorage implements interfaces.DeadLetterStorage for Badger,
// capturing terminal job failures.
type DeadLetterStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDeadLetterStorage creates a new DeadLetterStorage instance.
func NewDeadLetterStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeadLetterStorage {
	return &DeadLetterStorage{db: db, logger: logger}
}

func (s *DeadLetterStorage) Append(ctx context.Context, d *models.DeadLetterQueue) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if err := s.db.Store().Insert(d.ID, d); err != nil {
		return fmt.Errorf("failed to append dead letter entry: %w", err)
	}
	return nil
}

func (s *DeadLetterStorage) Get(ctx context.Context, id string) (*models.DeadLetterQueue, error) {
	var d models.DeadLetterQueue
	if err := s.db.Store().Get(id, &d); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dead letter entry: %w", err)
	}
	return &d, nil
}

func (s *DeadLetterStorage) ListByJob(ctx context.Context, jobID string) ([]*models.DeadLetterQueue, error) {
	var entries []models.DeadLetterQueue
	if err := s.db.Store().Find(&entries, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries for job: %w", err)
	}

	result := make([]*models.DeadLetterQueue, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *DeadLetterStorage) List(ctx context.Context, offset, limit int) ([]*models.DeadLetterQueue, int, error) {
	query := badgerhold.Where("ID").Ne("")

	total, err := s.db.Store().Count(&models.DeadLetterQueue{}, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count dead letter entries: %w", err)
	}

	listQuery := query.SortBy("CreatedAt").Reverse()
	if offset > 0 {
		listQuery = listQuery.Skip(offset)
	}
	if limit > 0 {
		listQuery = listQuery.Limit(limit)
	}

	var entries []models.DeadLetterQueue
	if err := s.db.Store().Find(&entries, listQuery); err != nil {
		return nil, 0, fmt.Errorf("failed to list dead letter entries: %w", err)
	}

	result := make([]*models.DeadLetterQueue, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, int(total), nil
}

// MarkRetried records that a dead-lettered job was manually re-entered as
// newJobID.
func (s *DeadLetterStorage) MarkRetried(ctx context.Context, id, newJobID string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	d.RetriedAt = &now
	d.RetriedJobID = newJobID
	if err := s.db.Store().Update(id, d); err != nil {
		return fmt.Errorf("failed to mark dead letter entry retried: %w", err)
	}
	return nil
}
