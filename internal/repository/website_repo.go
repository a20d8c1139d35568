package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/talkline-io/talkline-api/internal/models"
)

// WebsiteRepository resolves registered tenant sites and their domains.
type WebsiteRepository interface {
	Create(ctx context.Context, website *models.Website) error
	GetByID(ctx context.Context, id string) (models.Website, error)
	ListDomains(ctx context.Context) ([]string, error)
}

type websiteRepository struct {
	db *gorm.DB
}

// NewWebsiteRepository constructs a website repository backed by GORM.
func NewWebsiteRepository(db *gorm.DB) WebsiteRepository {
	return &websiteRepository{db: db}
}

func (r *websiteRepository) Create(ctx context.Context, website *models.Website) error {
	return r.db.WithContext(ctx).Create(website).Error
}

func (r *websiteRepository) GetByID(ctx context.Context, id string) (models.Website, error) {
	var website models.Website
	if err := r.db.WithContext(ctx).First(&website, "id = ?", id).Error; err != nil {
		return models.Website{}, err
	}
	return website, nil
}

func (r *websiteRepository) ListDomains(ctx context.Context) ([]string, error) {
	var domains []string
	err := r.db.WithContext(ctx).Model(&models.Website{}).
		Distinct().
		Pluck("domain", &domains).Error
	if err != nil {
		return nil, err
	}
	return domains, nil
}
