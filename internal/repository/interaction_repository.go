package repository

import (
	"context"

	"gorm.io/gorm"

	"chatbot/internal/model"
)

// InteractionRepository defines interaction persistence operations.
type InteractionRepository interface {
	Create(ctx context.Context, interaction *model.Interaction) error
	// FindRecentByUser returns at most limit interactions of the user,
	// newest first. Rows sharing a timestamp are ordered by insertion.
	FindRecentByUser(ctx context.Context, userID uint, limit int) ([]model.Interaction, error)
}

type interactionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository creates a new interaction repository.
func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

// Create appends a new interaction. CreatedAt is assigned by GORM when zero.
func (r *interactionRepository) Create(ctx context.Context, interaction *model.Interaction) error {
	return r.db.WithContext(ctx).Create(interaction).Error
}

func (r *interactionRepository) FindRecentByUser(ctx context.Context, userID uint, limit int) ([]model.Interaction, error) {
	var interactions []model.Interaction
	if err := recentByUser(r.db.WithContext(ctx), userID, limit).Find(&interactions).Error; err != nil {
		return nil, err
	}
	return interactions, nil
}

func recentByUser(tx *gorm.DB, userID uint, limit int) *gorm.DB {
	return tx.Model(&model.Interaction{}).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
}
