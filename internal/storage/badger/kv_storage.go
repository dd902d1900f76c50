package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// KVStorage implements interfaces.KeyValueStorage for Badger. This is the
// raw, untyped backing store; it keeps an optional per-key expiry
// (SetWithTTL) and hides expired entries, while the cache keys and counters
// used by progress snapshots and cancellation flags are layered on top by
// internal/cache.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance.
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeKey converts a key to lowercase for case-insensitive storage.
func (s *KVStorage) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (s *KVStorage) expired(pair *interfaces.KeyValuePair) bool {
	return !pair.ExpiresAt.IsZero() && time.Now().After(pair.ExpiresAt)
}

// Get retrieves a value by key (case-insensitive). An expired entry reads
// back as not-found, and that read deletes it; no background sweep removes
// expired entries.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	pair, err := s.GetPair(ctx, key)
	if err != nil {
		return "", err
	}
	return pair.Value, nil
}

// GetPair retrieves a full KeyValuePair by key (case-insensitive).
func (s *KVStorage) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	normalizedKey := s.normalizeKey(key)
	var pair interfaces.KeyValuePair
	err := s.db.Store().Get(normalizedKey, &pair)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key/value pair: %w", err)
	}
	if s.expired(&pair) {
		_ = s.db.Store().Delete(normalizedKey, &interfaces.KeyValuePair{})
		return nil, interfaces.ErrKeyNotFound
	}
	return &pair, nil
}

// Set inserts or updates a key/value pair with no expiry (case-insensitive).
func (s *KVStorage) Set(ctx context.Context, key string, value string, description string) error {
	_, err := s.upsert(key, value, description, time.Time{})
	return err
}

// SetWithTTL inserts or updates a key/value pair that expires after ttl,
// the mechanism the cancellation flag and progress cache rely on.
func (s *KVStorage) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	_, err := s.upsert(key, value, "", expiresAt)
	return err
}

// Upsert inserts or updates a key/value pair, reporting whether it was new.
func (s *KVStorage) Upsert(ctx context.Context, key string, value string, description string) (bool, error) {
	return s.upsert(key, value, description, time.Time{})
}

func (s *KVStorage) upsert(key, value, description string, expiresAt time.Time) (bool, error) {
	normalizedKey := s.normalizeKey(key)
	now := time.Now()

	pair := interfaces.KeyValuePair{
		Key:         normalizedKey,
		Value:       value,
		Description: description,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var existing interfaces.KeyValuePair
	err := s.db.Store().Get(normalizedKey, &existing)
	isNewKey := err == badgerhold.ErrNotFound
	if !isNewKey && err == nil {
		pair.CreatedAt = existing.CreatedAt
		if description == "" {
			pair.Description = existing.Description
		}
	} else if err != nil && err != badgerhold.ErrNotFound {
		return false, fmt.Errorf("failed to check key existence: %w", err)
	}

	if err := s.db.Store().Upsert(normalizedKey, &pair); err != nil {
		return false, fmt.Errorf("failed to upsert key/value: %w", err)
	}

	return isNewKey, nil
}

// Delete removes a key/value pair (case-insensitive).
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	normalizedKey := s.normalizeKey(key)
	err := s.db.Store().Delete(normalizedKey, &interfaces.KeyValuePair{})
	if err == badgerhold.ErrNotFound {
		return interfaces.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// DeleteAll removes all key/value pairs from storage.
func (s *KVStorage) DeleteAll(ctx context.Context) error {
	var pairs []interfaces.KeyValuePair
	err := s.db.Store().Find(&pairs, nil)
	if err != nil {
		return fmt.Errorf("failed to list key/value pairs for deletion: %w", err)
	}

	for _, pair := range pairs {
		if err := s.db.Store().Delete(pair.Key, &interfaces.KeyValuePair{}); err != nil {
			s.logger.Warn().Str("key", pair.Key).Err(err).Msg("Failed to delete key during DeleteAll")
		}
	}

	s.logger.Info().Int("count", len(pairs)).Msg("Deleted all key/value pairs")
	return nil
}

// List returns all non-expired key/value pairs ordered by updated_at DESC.
func (s *KVStorage) List(ctx context.Context) ([]interfaces.KeyValuePair, error) {
	var pairs []interfaces.KeyValuePair
	err := s.db.Store().Find(&pairs, badgerhold.Where("Key").Ne("").SortBy("UpdatedAt").Reverse())
	if err != nil {
		return nil, fmt.Errorf("failed to list key/value pairs: %w", err)
	}

	result := pairs[:0]
	for _, pair := range pairs {
		if !s.expired(&pair) {
			result = append(result, pair)
		}
	}
	return result, nil
}

// GetAll returns all non-expired key/value pairs as a map, the shape
// internal/common's config KV-replacement pass consumes.
func (s *KVStorage) GetAll(ctx context.Context) (map[string]string, error) {
	var pairs []interfaces.KeyValuePair
	err := s.db.Store().Find(&pairs, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get all key/value pairs: %w", err)
	}

	kvMap := make(map[string]string)
	for _, pair := range pairs {
		if !s.expired(&pair) {
			kvMap[pair.Key] = pair.Value
		}
	}

	return kvMap, nil
}
