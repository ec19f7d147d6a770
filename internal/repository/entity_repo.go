package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/dishrank/internal/domain"
)

// ErrLinkNotFound is returned when no ImportLink exists for an external identity.
var ErrLinkNotFound = errors.New("import link not found")

// ErrEntityNotFound is returned when a canonical restaurant or dish is missing.
var ErrEntityNotFound = errors.New("entity not found")

// EntityRepository stores canonical restaurants and dishes together with the
// ImportLink rows that map external identities onto them.
type EntityRepository struct {
	db *gorm.DB
}

// NewEntityRepository creates a new EntityRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *EntityRepository: repository instance bound to db.
func NewEntityRepository(db *gorm.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// Transaction runs fn against a repository bound to a single transaction.
// Returning an error from fn rolls everything back.
func (r *EntityRepository) Transaction(ctx context.Context, fn func(tx *EntityRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&EntityRepository{db: tx})
	})
}

// FindLink looks up the link for one external identity.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sourceID: external source identifier.
//   - entityType: RESTAURANT or DISH.
//   - externalID: identity inside the source.
// Returns:
//   - *domain.ImportLink: link if found.
//   - error: ErrLinkNotFound if missing, or the query error.
func (r *EntityRepository) FindLink(ctx context.Context, sourceID string, entityType domain.EntityType, externalID string) (*domain.ImportLink, error) {
	var link domain.ImportLink
	err := r.db.WithContext(ctx).
		First(&link, "source_id = ? AND entity_type = ? AND external_id = ?", sourceID, entityType, externalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// CreateLink inserts a new link. A concurrent creator of the same external
// identity makes this fail with gorm.ErrDuplicatedKey.
func (r *EntityRepository) CreateLink(ctx context.Context, link *domain.ImportLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

// RefreshLink records a repeat match on an existing link.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - importID: link identifier.
//   - confidence: match confidence in [0, 1].
//   - method: match method label.
//   - now: match time.
// Returns:
//   - error: non-nil if the update fails.
func (r *EntityRepository) RefreshLink(ctx context.Context, importID string, confidence float64, method string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.ImportLink{}).
		Where("import_id = ?", importID).
		Updates(map[string]interface{}{
			"confidence_score": confidence,
			"match_method":     method,
			"status":           domain.LinkStatusActive,
			"last_updated":     now,
		}).Error
}

// ListLinks returns every link pointing at an entity.
func (r *EntityRepository) ListLinks(ctx context.Context, entityType domain.EntityType, entityID string) ([]domain.ImportLink, error) {
	var links []domain.ImportLink
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&links).Error
	return links, err
}

// CreateRestaurant inserts a new canonical restaurant.
func (r *EntityRepository) CreateRestaurant(ctx context.Context, restaurant *domain.Restaurant) error {
	return r.db.WithContext(ctx).Create(restaurant).Error
}

// MergeRestaurant applies column updates to an existing restaurant and bumps
// its external source count.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: restaurant id.
//   - updates: column values to write; absent keys are left untouched.
// Returns:
//   - error: ErrEntityNotFound if no row matched, or the update error.
func (r *EntityRepository) MergeRestaurant(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.merge(ctx, &domain.Restaurant{}, id, updates)
}

// GetRestaurant retrieves a restaurant by id.
func (r *EntityRepository) GetRestaurant(ctx context.Context, id string) (*domain.Restaurant, error) {
	var restaurant domain.Restaurant
	if err := r.db.WithContext(ctx).First(&restaurant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return &restaurant, nil
}

// CountRestaurants returns the number of canonical restaurants.
func (r *EntityRepository) CountRestaurants(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Restaurant{}).Count(&count).Error
	return count, err
}

// CreateDish inserts a new canonical dish.
func (r *EntityRepository) CreateDish(ctx context.Context, dish *domain.Dish) error {
	return r.db.WithContext(ctx).Create(dish).Error
}

// MergeDish applies column updates to an existing dish and bumps its
// external source count.
func (r *EntityRepository) MergeDish(ctx context.Context, id string, updates map[string]interface{}) error {
	return r.merge(ctx, &domain.Dish{}, id, updates)
}

// GetDish retrieves a dish by id.
func (r *EntityRepository) GetDish(ctx context.Context, id string) (*domain.Dish, error) {
	var dish domain.Dish
	if err := r.db.WithContext(ctx).First(&dish, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, err
	}
	return &dish, nil
}

// ListDishesByRestaurant returns the dishes of one restaurant ordered by name.
func (r *EntityRepository) ListDishesByRestaurant(ctx context.Context, restaurantID string) ([]domain.Dish, error) {
	var dishes []domain.Dish
	err := r.db.WithContext(ctx).
		Where("restaurant_id = ?", restaurantID).
		Order("name ASC").
		Find(&dishes).Error
	return dishes, err
}

func (r *EntityRepository) merge(ctx context.Context, model interface{}, id string, updates map[string]interface{}) error {
	updates["external_source_count"] = gorm.Expr("external_source_count + 1")
	updates["data_source"] = domain.DataSourceImported

	res := r.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}
