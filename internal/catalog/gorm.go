package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"followup-templates/internal/models"
)

// GormAccessor reads templates from a SQL database through gorm.
type GormAccessor struct {
	db *gorm.DB
}

func NewGormAccessor(db *gorm.DB) *GormAccessor {
	return &GormAccessor{db: db}
}

func (a *GormAccessor) scope(ctx context.Context, q Query) *gorm.DB {
	tx := a.db.WithContext(ctx).
		Model(&models.Template{}).
		Where("is_active = ?", true)
	if q.StepKey != "" {
		tx = tx.Where("step_key = ?", q.StepKey)
	}
	if q.Vertical != "" {
		tx = tx.Where("vertical = ?", q.Vertical.String())
	}
	if q.Channel != models.ChannelAny {
		tx = tx.Where("channel = ?", string(q.Channel))
	}
	return tx.Order("priority DESC").Order("id ASC")
}

func (a *GormAccessor) First(ctx context.Context, q Query) (*models.Template, error) {
	if a.db == nil {
		return nil, ErrNotConfigured
	}

	var t models.Template
	if err := a.scope(ctx, q).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	return &t, nil
}

func (a *GormAccessor) Find(ctx context.Context, q Query) ([]models.Template, error) {
	if a.db == nil {
		return nil, ErrNotConfigured
	}

	var templates []models.Template
	if err := a.scope(ctx, q).Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// Upsert saves all templates in one transaction.
func (a *GormAccessor) Upsert(ctx context.Context, templates []models.Template) error {
	if a.db == nil {
		return ErrNotConfigured
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range templates {
			if err := tx.Save(&templates[i]).Error; err != nil {
				return fmt.Errorf("failed to save template %s/%s: %w", templates[i].StepKey, templates[i].Vertical, err)
			}
		}
		return nil
	})
}
