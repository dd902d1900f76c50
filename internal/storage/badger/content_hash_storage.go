package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ContentHashStorage implements interfaces.ContentHashStorage for Badger,
// the exact-hash side of the two-phase deduplicator.
type ContentHashStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewContentHashStorage creates a new ContentHashStorage instance.
func NewContentHashStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ContentHashStorage {
	return &ContentHashStorage{db: db, logger: logger}
}

func (s *ContentHashStorage) Get(ctx context.Context, hash string) (*models.ContentHash, error) {
	var c models.ContentHash
	if err := s.db.Store().Get(hash, &c); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content hash: %w", err)
	}
	return &c, nil
}

func (s *ContentHashStorage) Upsert(ctx context.Context, c *models.ContentHash) error {
	if c.Hash == "" {
		return fmt.Errorf("content hash is required")
	}
	if c.LastSeenAt.IsZero() {
		c.LastSeenAt = time.Now()
	}
	if err := s.db.Store().Upsert(c.Hash, c); err != nil {
		return fmt.Errorf("failed to upsert content hash: %w", err)
	}
	return nil
}

// IncrementOccurrence bumps the occurrence counter for an already-seen exact
// hash match, the first phase of the deduplication check.
func (s *ContentHashStorage) IncrementOccurrence(ctx context.Context, hash string) (*models.ContentHash, error) {
	var c models.ContentHash
	if err := s.db.Store().Get(hash, &c); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content hash: %w", err)
	}
	c.OccurrenceCount++
	c.LastSeenAt = time.Now()
	if err := s.db.Store().Update(hash, &c); err != nil {
		return nil, fmt.Errorf("failed to increment content hash occurrence: %w", err)
	}
	return &c, nil
}

// ListSimhashCandidates returns recently-seen fingerprints for the second,
// near-duplicate phase of the dedup check: Hamming distance <= 3 between
// 64-bit Simhash values approximates 95% textual similarity.
func (s *ContentHashStorage) ListSimhashCandidates(ctx context.Context, limit int) ([]*models.ContentHash, error) {
	query := badgerhold.Where("Simhash").Ne(uint64(0)).SortBy("LastSeenAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var hashes []models.ContentHash
	if err := s.db.Store().Find(&hashes, query); err != nil {
		return nil, fmt.Errorf("failed to list simhash candidates: %w", err)
	}

	result := make([]*models.ContentHash, len(hashes))
	for i := range hashes {
		result[i] = &hashes[i]
	}
	return result, nil
}
