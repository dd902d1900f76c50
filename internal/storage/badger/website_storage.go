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

// WebsiteStorage implements interfaces.WebsiteStorage for Badger, owning
// Website templates and their immutable config history.
type WebsiteStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWebsiteStorage creates a new WebsiteStorage instance.
func NewWebsiteStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WebsiteStorage {
	return &WebsiteStorage{db: db, logger: logger}
}

func (s *WebsiteStorage) Create(ctx context.Context, w *models.Website) error {
	if w.ID == "" {
		return fmt.Errorf("website id is required")
	}
	if err := s.db.Store().Insert(w.ID, w); err != nil {
		return fmt.Errorf("failed to create website: %w", err)
	}
	return nil
}

func (s *WebsiteStorage) Get(ctx context.Context, id string) (*models.Website, error) {
	var w models.Website
	if err := s.db.Store().Get(id, &w); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get website: %w", err)
	}
	return &w, nil
}

func (s *WebsiteStorage) GetByName(ctx context.Context, name string) (*models.Website, error) {
	var matches []models.Website
	if err := s.db.Store().Find(&matches, badgerhold.Where("Name").Eq(name)); err != nil {
		return nil, fmt.Errorf("failed to get website by name: %w", err)
	}
	if len(matches) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &matches[0], nil
}

func (s *WebsiteStorage) Update(ctx context.Context, w *models.Website) error {
	w.UpdatedAt = time.Now()
	if err := s.db.Store().Update(w.ID, w); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update website: %w", err)
	}
	return nil
}

// SoftDelete marks the template deleted without removing it; jobs already
// holding its config keep running, while new submissions against it are
// rejected.
func (s *WebsiteStorage) SoftDelete(ctx context.Context, id string) error {
	w, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	w.SoftDeletedAt = &now
	w.Status = models.WebsiteStatusInactive
	return s.Update(ctx, w)
}

func (s *WebsiteStorage) List(ctx context.Context, onlyActive bool) ([]*models.Website, error) {
	query := badgerhold.Where("ID").Ne("")
	if onlyActive {
		query = query.And("Status").Eq(models.WebsiteStatusActive)
	}

	var websites []models.Website
	if err := s.db.Store().Find(&websites, query.SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}

	result := make([]*models.Website, 0, len(websites))
	for i := range websites {
		if onlyActive && websites[i].IsDeleted() {
			continue
		}
		result = append(result, &websites[i])
	}
	return result, nil
}

func (s *WebsiteStorage) AppendConfigHistory(ctx context.Context, h *models.WebsiteConfigHistory) error {
	if h.ID == "" {
		return fmt.Errorf("config history id is required")
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	if err := s.db.Store().Insert(h.ID, h); err != nil {
		return fmt.Errorf("failed to append config history: %w", err)
	}
	return nil
}

func (s *WebsiteStorage) GetConfigHistory(ctx context.Context, websiteID string) ([]*models.WebsiteConfigHistory, error) {
	var history []models.WebsiteConfigHistory
	query := badgerhold.Where("WebsiteID").Eq(websiteID).SortBy("Version").Reverse()
	if err := s.db.Store().Find(&history, query); err != nil {
		return nil, fmt.Errorf("failed to get config history: %w", err)
	}

	result := make([]*models.WebsiteConfigHistory, len(history))
	for i := range history {
		result[i] = &history[i]
	}
	return result, nil
}

func (s *WebsiteStorage) GetConfigVersion(ctx context.Context, websiteID string, version int) (*models.WebsiteConfigHistory, error) {
	var matches []models.WebsiteConfigHistory
	query := badgerhold.Where("WebsiteID").Eq(websiteID).And("Version").Eq(version)
	if err := s.db.Store().Find(&matches, query); err != nil {
		return nil, fmt.Errorf("failed to get config version: %w", err)
	}
	if len(matches) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &matches[0], nil
}
