package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// QueueStorage implements interfaces.QueueStorage for Badger, the durable
// backing store the work queue layers lease-based pull/ack/nak semantics on
// top of.
type QueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewQueueStorage creates a new QueueStorage instance.
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QueueStorage {
	return &QueueStorage{
		db:     db,
		logger: logger,
	}
}

func (s *QueueStorage) Insert(ctx context.Context, m *models.QueueMessage) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if err := s.db.Store().Insert(m.ID, m); err != nil {
		return fmt.Errorf("failed to insert queue message: %w", err)
	}
	return nil
}

// GetByDedupKey returns the most recent message carrying dedupKey that was
// created within `within` of now, used to reject a resubmission while the
// original is still in flight.
func (s *QueueStorage) GetByDedupKey(ctx context.Context, dedupKey string, within time.Duration) (*models.QueueMessage, error) {
	cutoff := time.Now().Add(-within)
	var matches []models.QueueMessage
	if err := s.db.Store().Find(&matches, badgerhold.Where("DedupKey").Eq(dedupKey).And("CreatedAt").Ge(cutoff)); err != nil {
		return nil, fmt.Errorf("failed to query dedup key: %w", err)
	}
	if len(matches) == 0 {
		return nil, interfaces.ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return &matches[0], nil
}

func (s *QueueStorage) DeleteByJobID(ctx context.Context, jobID string) (bool, error) {
	var matches []models.QueueMessage
	if err := s.db.Store().Find(&matches, badgerhold.Where("JobID").Eq(jobID).And("Leased").Eq(false)); err != nil {
		return false, fmt.Errorf("failed to find messages for job: %w", err)
	}
	if len(matches) == 0 {
		return false, nil
	}
	if err := s.db.Store().DeleteMatching(&models.QueueMessage{}, badgerhold.Where("JobID").Eq(jobID).And("Leased").Eq(false)); err != nil {
		return false, fmt.Errorf("failed to delete messages for job: %w", err)
	}
	return true, nil
}

// leaseMu serialises LeaseNext calls in this process, so two callers never
// read the same unleased row before either has written its lease.
var leaseMu sync.Mutex

// LeaseNext claims up to n unleased, eligible messages for owner, the
// mechanism workers use to pull work without two owners racing on the same
// message.
func (s *QueueStorage) LeaseNext(ctx context.Context, n int, owner string, leaseFor time.Duration, now time.Time) ([]*models.QueueMessage, error) {
	leaseMu.Lock()
	defer leaseMu.Unlock()
	var candidates []models.QueueMessage
	query := badgerhold.Where("Leased").Eq(false).SortBy("Priority").Reverse()
	if err := s.db.Store().Find(&candidates, query); err != nil {
		return nil, fmt.Errorf("failed to find leasable messages: %w", err)
	}

	leased := make([]*models.QueueMessage, 0, n)
	for i := range candidates {
		if len(leased) >= n {
			break
		}
		m := candidates[i]
		if !m.NotBefore.IsZero() && m.NotBefore.After(now) {
			continue
		}

		m.Leased = true
		m.LeaseOwner = owner
		m.LeaseExpiry = now.Add(leaseFor)
		m.DeliveryCount++
		if err := s.db.Store().Update(m.ID, &m); err != nil {
			s.logger.Warn().Err(err).Str("message_id", m.ID).Msg("failed to lease queue message")
			continue
		}
		leased = append(leased, &m)
	}
	return leased, nil
}

func (s *QueueStorage) Ack(ctx context.Context, messageID string) error {
	if err := s.db.Store().Delete(messageID, &models.QueueMessage{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nak releases the lease on messageID and schedules it for retry no earlier
// than notBefore, used by the retry classifier's backoff delay.
func (s *QueueStorage) Nak(ctx context.Context, messageID string, notBefore time.Time) error {
	var m models.QueueMessage
	if err := s.db.Store().Get(messageID, &m); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to get message: %w", err)
	}
	m.Leased = false
	m.LeaseOwner = ""
	m.LeaseExpiry = time.Time{}
	m.NotBefore = notBefore
	if err := s.db.Store().Update(messageID, &m); err != nil {
		return fmt.Errorf("failed to nak message: %w", err)
	}
	return nil
}

// ReclaimExpired releases leases whose expiry has passed, returning work to
// the pool after a worker crash without a matching ack or nak.
func (s *QueueStorage) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	var leased []models.QueueMessage
	if err := s.db.Store().Find(&leased, badgerhold.Where("Leased").Eq(true).And("LeaseExpiry").Lt(now)); err != nil {
		return 0, fmt.Errorf("failed to find expired leases: %w", err)
	}

	count := 0
	for i := range leased {
		m := leased[i]
		m.Leased = false
		m.LeaseOwner = ""
		m.LeaseExpiry = time.Time{}
		if err := s.db.Store().Update(m.ID, &m); err != nil {
			s.logger.Warn().Err(err).Str("message_id", m.ID).Msg("failed to reclaim expired lease")
			continue
		}
		count++
	}
	return count, nil
}

func (s *QueueStorage) Get(ctx context.Context, messageID string) (*models.QueueMessage, error) {
	var m models.QueueMessage
	if err := s.db.Store().Get(messageID, &m); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &m, nil
}

func (s *QueueStorage) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.QueueMessage{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return int(count), nil
}
