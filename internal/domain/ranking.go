package domain

import "time"

// RankingCategory classifies a user's interaction with a restaurant.
type RankingCategory string

const (
	CategoryTop          RankingCategory = "TOP"
	CategoryVisited      RankingCategory = "VISITED"
	CategoryPlanToVisit  RankingCategory = "PLAN_TO_VISIT"
	CategorySecondChance RankingCategory = "SECOND_CHANCE"
	CategoryDissatisfied RankingCategory = "DISSATISFIED"
)

// Valid reports whether c is a known category.
func (c RankingCategory) Valid() bool {
	switch c {
	case CategoryTop, CategoryVisited, CategoryPlanToVisit, CategorySecondChance, CategoryDissatisfied:
		return true
	}
	return false
}

// RankingItem is one ranked restaurant in a user's list. UserID is the owner
// whose TOP list is normalized together.
type RankingItem struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Name         string          `json:"name"`
	Category     RankingCategory `json:"category"`
	MenuItem     string          `json:"menuItem,omitempty"`
	RankPosition *int            `json:"rankPosition,omitempty"`
}

// RankingItemWithScore is a RankingItem with its computed scores. It is never
// persisted.
type RankingItemWithScore struct {
	RankingItem
	RankingPoints     float64 `json:"rankingPoints"`
	NormalizedPoints  float64 `json:"normalizedPoints"`
	InteractionPoints float64 `json:"interactionPoints"`
	TotalScore        float64 `json:"totalScore"`
}

// RankingInteraction is the stored form of a ranking interaction.
type RankingInteraction struct {
	ID           string          `gorm:"type:text;primaryKey" json:"id"`
	UserID       string          `gorm:"type:text;not null;uniqueIndex:idx_ranking_user_restaurant_item" json:"userId"`
	RestaurantID string          `gorm:"type:text;not null;uniqueIndex:idx_ranking_user_restaurant_item" json:"restaurantId"`
	Name         string          `gorm:"type:text;not null" json:"name"`
	Category     RankingCategory `gorm:"type:text;not null;index:idx_ranking_category" json:"category"`
	MenuItem     string          `gorm:"type:text;not null;default:'';uniqueIndex:idx_ranking_user_restaurant_item" json:"menuItem"`
	RankPosition *int            `json:"rankPosition,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// TableName returns the database table name for RankingInteraction.
func (RankingInteraction) TableName() string {
	return "ranking_interactions"
}

// Item converts the stored interaction into the scoring input.
func (r RankingInteraction) Item() RankingItem {
	return RankingItem{
		ID:           r.RestaurantID,
		UserID:       r.UserID,
		Name:         r.Name,
		Category:     r.Category,
		MenuItem:     r.MenuItem,
		RankPosition: r.RankPosition,
	}
}
