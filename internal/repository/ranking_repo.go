package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/dishrank/internal/domain"
)

// RankingRepository stores users' ranking interactions.
type RankingRepository struct {
	db *gorm.DB
}

// NewRankingRepository creates a new RankingRepository.
func NewRankingRepository(db *gorm.DB) *RankingRepository {
	return &RankingRepository{db: db}
}

// Upsert creates or replaces interactions keyed by (user, restaurant, menu item).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - interactions: rows to write; ids are kept only for new rows.
// Returns:
//   - error: non-nil if the write fails.
func (r *RankingRepository) Upsert(ctx context.Context, interactions []domain.RankingInteraction) error {
	if len(interactions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "restaurant_id"}, {Name: "menu_item"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "rank_position", "updated_at"}),
	}).Create(&interactions).Error
}

// ListByUser returns one user's interactions in insertion order.
func (r *RankingRepository) ListByUser(ctx context.Context, userID string) ([]domain.RankingInteraction, error) {
	var rows []domain.RankingInteraction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ListAll returns every stored interaction grouped by user.
func (r *RankingRepository) ListAll(ctx context.Context) ([]domain.RankingInteraction, error) {
	var rows []domain.RankingInteraction
	err := r.db.WithContext(ctx).
		Order("user_id ASC, created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteByUser removes all interactions of a user.
func (r *RankingRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&domain.RankingInteraction{})
	return res.RowsAffected, res.Error
}
