package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlerd/internal/common"
	"github.com/ternarybob/crawlerd/internal/interfaces"
	"github.com/ternarybob/crawlerd/internal/models"
)

// WebsiteService owns Website templates and their config history (§3
// "Website rows and their history are owned by the management API"). The
// scheduler and crawler only read through WebsiteStorage directly; all
// writes go through here.
type WebsiteService struct {
	websites interfaces.WebsiteStorage
	logger   arbor.ILogger
	clock    common.Clock
}

// NewWebsiteService creates a WebsiteService over the given repository.
func NewWebsiteService(websites interfaces.WebsiteStorage, logger arbor.ILogger, clock common.Clock) *WebsiteService {
	if clock == nil {
		clock = common.NewSystemClock()
	}
	return &WebsiteService{websites: websites, logger: logger, clock: clock}
}

// CreateWebsiteRequest is the create-time input (§6.1 "WebsiteService:
// Create/Read/Update/Delete/Pause/Resume/History/Rollback").
type CreateWebsiteRequest struct {
	Name        string
	BaseURL     string
	Config      models.WebsiteConfig
	DefaultCron string
}

// defaultCron is the spec's default for new websites (§6.5: "1st and 15th
// at 00:00").
const defaultCron = "0 0 1,15 * *"

// Create validates and inserts a new Website template with version 1.
func (s *WebsiteService) Create(ctx context.Context, req CreateWebsiteRequest) (*models.Website, error) {
	if req.Name == "" {
		return nil, common.NewError(common.KindInvalidConfig, "name is required", nil)
	}
	if req.BaseURL == "" {
		return nil, common.NewError(common.KindInvalidConfig, "base_url is required", nil)
	}
	if err := validateWebsiteConfig(&req.Config); err != nil {
		return nil, common.NewError(common.KindInvalidConfig, "config failed schema validation", err)
	}
	if existing, err := s.websites.GetByName(ctx, req.Name); err == nil && existing != nil {
		return nil, common.NewError(common.KindInvalidConfig, "website name already in use", nil)
	}

	cronExpr := req.DefaultCron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if _, err := common.ParseCron(cronExpr); err != nil {
		return nil, common.NewError(common.KindInvalidCron, "default_cron is not parseable", err)
	}

	now := s.clock.Now()
	website := &models.Website{
		ID:          common.NewWebsiteID(),
		Name:        req.Name,
		BaseURL:     req.BaseURL,
		Config:      req.Config,
		Status:      models.WebsiteStatusActive,
		DefaultCron: cronExpr,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.websites.Create(ctx, website); err != nil {
		return nil, fmt.Errorf("failed to persist website: %w", err)
	}
	if err := s.appendHistory(ctx, website, ""); err != nil {
		s.logger.Warn().Err(err).Str("website_id", website.ID).Msg("failed to record initial config history")
	}
	s.logger.Info().Str("website_id", website.ID).Str("name", website.Name).Msg("website created")
	return website, nil
}

// Read returns a website by id.
func (s *WebsiteService) Read(ctx context.Context, id string) (*models.Website, error) {
	w, err := s.websites.Get(ctx, id)
	if err != nil {
		return nil, common.NewError(common.KindNotFound, "website not found", err)
	}
	return w, nil
}

// List returns all templates, optionally restricted to active ones.
func (s *WebsiteService) List(ctx context.Context, onlyActive bool) ([]*models.Website, error) {
	items, err := s.websites.List(ctx, onlyActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list websites: %w", err)
	}
	return items, nil
}

// Update mutates a website's config, producing a new immutable
// WebsiteConfigHistory row with a monotonically incremented version (§3
// "mutations produce a new immutable WebsiteConfigHistory row").
func (s *WebsiteService) Update(ctx context.Context, id string, config models.WebsiteConfig, by string) (*models.Website, error) {
	if err := validateWebsiteConfig(&config); err != nil {
		return nil, common.NewError(common.KindInvalidConfig, "config failed schema validation", err)
	}
	website, err := s.websites.Get(ctx, id)
	if err != nil {
		return nil, common.NewError(common.KindNotFound, "website not found", err)
	}

	website.Config = config
	website.Version++
	website.UpdatedAt = s.clock.Now()
	if err := s.websites.Update(ctx, website); err != nil {
		return nil, fmt.Errorf("failed to persist website update: %w", err)
	}
	if err := s.appendHistory(ctx, website, by); err != nil {
		s.logger.Warn().Err(err).Str("website_id", website.ID).Msg("failed to record config history")
	}
	return website, nil
}

// Delete soft-deletes a website. Running jobs referencing it continue with
// their already-loaded config.
func (s *WebsiteService) Delete(ctx context.Context, id string) error {
	if err := s.websites.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("failed to soft-delete website: %w", err)
	}
	s.logger.Info().Str("website_id", id).Msg("website soft-deleted")
	return nil
}

// Pause sets status = inactive, excluding the template's schedule entries
// from future scheduler eligibility checks.
func (s *WebsiteService) Pause(ctx context.Context, id string) (*models.Website, error) {
	return s.setStatus(ctx, id, models.WebsiteStatusInactive)
}

// Resume sets status = active.
func (s *WebsiteService) Resume(ctx context.Context, id string) (*models.Website, error) {
	return s.setStatus(ctx, id, models.WebsiteStatusActive)
}

func (s *WebsiteService) setStatus(ctx context.Context, id string, status models.WebsiteStatus) (*models.Website, error) {
	website, err := s.websites.Get(ctx, id)
	if err != nil {
		return nil, common.NewError(common.KindNotFound, "website not found", err)
	}
	website.Status = status
	website.UpdatedAt = s.clock.Now()
	if err := s.websites.Update(ctx, website); err != nil {
		return nil, fmt.Errorf("failed to persist website status: %w", err)
	}
	return website, nil
}

// History returns the full immutable config-version history for a website.
func (s *WebsiteService) History(ctx context.Context, id string) ([]*models.WebsiteConfigHistory, error) {
	items, err := s.websites.GetConfigHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load config history: %w", err)
	}
	return items, nil
}

// Rollback restores a website's config to a prior version, itself recorded
// as a new history row (rollback is a mutation, not a history rewrite).
func (s *WebsiteService) Rollback(ctx context.Context, id string, version int, by string) (*models.Website, error) {
	historical, err := s.websites.GetConfigVersion(ctx, id, version)
	if err != nil {
		return nil, common.NewError(common.KindNotFound, "config version not found", err)
	}
	return s.Update(ctx, id, historical.Config, by)
}

func (s *WebsiteService) appendHistory(ctx context.Context, website *models.Website, by string) error {
	history := &models.WebsiteConfigHistory{
		ID:        common.NewConfigHistoryID(),
		WebsiteID: website.ID,
		Version:   website.Version,
		Config:    website.Config,
		CreatedAt: s.clock.Now(),
		CreatedBy: by,
	}
	return s.websites.AppendConfigHistory(ctx, history)
}
