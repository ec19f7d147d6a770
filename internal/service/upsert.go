package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/validation"
)

const defaultUpsertAttempts = 3

// UpsertResult identifies the canonical entity a record was merged into.
type UpsertResult struct {
	EntityID string
	Created  bool
}

// Upserter matches raw records to canonical entities through ImportLink and
// merges them non-destructively.
type Upserter struct {
	entities    *repository.EntityRepository
	now         func() time.Time
	maxAttempts int
}

// NewUpserter creates a new Upserter.
func NewUpserter(entities *repository.EntityRepository) *Upserter {
	return &Upserter{
		entities:    entities,
		now:         time.Now,
		maxAttempts: defaultUpsertAttempts,
	}
}

// Upsert dispatches rec to the routine for its variant.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sourceID: external source the record came from.
//   - rec: RestaurantRecord or DishRecord.
// Returns:
//   - *UpsertResult: canonical entity id.
//   - error: *domain.ValidationError for bad input (nothing written),
//     *domain.StoreError for store faults.
func (u *Upserter) Upsert(ctx context.Context, sourceID string, rec domain.RawRecord) (*UpsertResult, error) {
	switch r := rec.(type) {
	case domain.RestaurantRecord:
		return u.UpsertRestaurant(ctx, sourceID, r)
	case domain.DishRecord:
		return u.UpsertDish(ctx, sourceID, r)
	default:
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported record type %T", rec))
	}
}

// UpsertRestaurant creates or merges the restaurant identified by
// (sourceID, rec.ExternalID).
func (u *Upserter) UpsertRestaurant(ctx context.Context, sourceID string, rec domain.RestaurantRecord) (*UpsertResult, error) {
	if err := validation.Struct(rec); err != nil {
		return nil, err
	}

	var result *UpsertResult
	err := u.inTransaction(ctx, "upsert restaurant", func(tx *repository.EntityRepository) error {
		res, err := u.upsertRestaurant(ctx, tx, sourceID, rec)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertDish creates or merges the dish identified by (sourceID,
// rec.ExternalID). The owning restaurant is resolved through its own link;
// an unknown restaurant is created from rec.RestaurantName.
func (u *Upserter) UpsertDish(ctx context.Context, sourceID string, rec domain.DishRecord) (*UpsertResult, error) {
	if err := validation.Struct(rec); err != nil {
		return nil, err
	}

	var result *UpsertResult
	err := u.inTransaction(ctx, "upsert dish", func(tx *repository.EntityRepository) error {
		restaurantID, err := u.resolveRestaurant(ctx, tx, sourceID, rec)
		if err != nil {
			return err
		}
		res, err := u.upsertDish(ctx, tx, sourceID, restaurantID, rec)
		result = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// inTransaction runs fn in a transaction. Losing a race on the external
// identity index rolls back and retries, at which point the link exists and
// the record takes the merge path.
func (u *Upserter) inTransaction(ctx context.Context, op string, fn func(tx *repository.EntityRepository) error) error {
	var err error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		err = u.entities.Transaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) || ctx.Err() != nil {
			break
		}
	}
	if domain.IsValidation(err) {
		return err
	}
	return domain.NewStoreError(op, err)
}

func (u *Upserter) upsertRestaurant(ctx context.Context, tx *repository.EntityRepository, sourceID string, rec domain.RestaurantRecord) (*UpsertResult, error) {
	now := u.now()
	link, err := tx.FindLink(ctx, sourceID, domain.EntityTypeRestaurant, rec.ExternalID)
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"name": rec.Name,
			"slug": slugOrFallback(rec.Name, rec.ExternalID),
		}
		setIfPresent(updates, "address", rec.Address)
		setIfPresent(updates, "city", rec.City)
		setIfPresent(updates, "latitude", rec.Latitude)
		setIfPresent(updates, "longitude", rec.Longitude)
		setIfPresent(updates, "cuisine_type", rec.CuisineType)
		setIfPresent(updates, "price_range", rec.PriceRange)
		setIfPresent(updates, "phone", rec.Phone)
		setIfPresent(updates, "website", rec.Website)

		if err := tx.MergeRestaurant(ctx, link.EntityID, updates); err != nil {
			return nil, fmt.Errorf("merge restaurant %s: %w", link.EntityID, err)
		}
		if err := tx.RefreshLink(ctx, link.ImportID, 1.0, domain.MatchMethodExternalID, now); err != nil {
			return nil, fmt.Errorf("refresh link %s: %w", link.ImportID, err)
		}
		return &UpsertResult{EntityID: link.EntityID}, nil

	case errors.Is(err, repository.ErrLinkNotFound):
		restaurant := &domain.Restaurant{
			ID:                  uuid.New().String(),
			Name:                rec.Name,
			Slug:                slugOrFallback(rec.Name, rec.ExternalID),
			Address:             rec.Address,
			City:                rec.City,
			Latitude:            rec.Latitude,
			Longitude:           rec.Longitude,
			CuisineType:         rec.CuisineType,
			PriceRange:          rec.PriceRange,
			Phone:               rec.Phone,
			Website:             rec.Website,
			ExternalSourceCount: 1,
			DataSource:          domain.DataSourceImported,
		}
		if err := tx.CreateRestaurant(ctx, restaurant); err != nil {
			return nil, fmt.Errorf("create restaurant: %w", err)
		}
		if err := tx.CreateLink(ctx, newLink(restaurant.ID, domain.EntityTypeRestaurant, sourceID, rec.ExternalID, now)); err != nil {
			return nil, fmt.Errorf("create link: %w", err)
		}
		return &UpsertResult{EntityID: restaurant.ID, Created: true}, nil

	default:
		return nil, fmt.Errorf("find restaurant link: %w", err)
	}
}

func (u *Upserter) resolveRestaurant(ctx context.Context, tx *repository.EntityRepository, sourceID string, rec domain.DishRecord) (string, error) {
	link, err := tx.FindLink(ctx, sourceID, domain.EntityTypeRestaurant, rec.RestaurantID)
	if err == nil {
		return link.EntityID, nil
	}
	if !errors.Is(err, repository.ErrLinkNotFound) {
		return "", fmt.Errorf("find restaurant link: %w", err)
	}

	res, err := u.upsertRestaurant(ctx, tx, sourceID, domain.RestaurantRecord{
		Name:       rec.RestaurantName,
		ExternalID: rec.RestaurantID,
	})
	if err != nil {
		return "", err
	}
	return res.EntityID, nil
}

func (u *Upserter) upsertDish(ctx context.Context, tx *repository.EntityRepository, sourceID, restaurantID string, rec domain.DishRecord) (*UpsertResult, error) {
	now := u.now()
	link, err := tx.FindLink(ctx, sourceID, domain.EntityTypeDish, rec.ExternalID)
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"name":          rec.Name,
			"slug":          slugOrFallback(rec.Name, rec.ExternalID),
			"restaurant_id": restaurantID,
		}
		setIfPresent(updates, "category", rec.Category)
		setIfPresent(updates, "description", rec.Description)
		setIfPresent(updates, "price", rec.Price)
		setIfPresent(updates, "is_vegetarian", rec.IsVegetarian)
		setIfPresent(updates, "spicy_level", rec.SpicyLevel)

		if err := tx.MergeDish(ctx, link.EntityID, updates); err != nil {
			return nil, fmt.Errorf("merge dish %s: %w", link.EntityID, err)
		}
		if err := tx.RefreshLink(ctx, link.ImportID, 1.0, domain.MatchMethodExternalID, now); err != nil {
			return nil, fmt.Errorf("refresh link %s: %w", link.ImportID, err)
		}
		return &UpsertResult{EntityID: link.EntityID}, nil

	case errors.Is(err, repository.ErrLinkNotFound):
		dish := &domain.Dish{
			ID:                  uuid.New().String(),
			RestaurantID:        restaurantID,
			Name:                rec.Name,
			Slug:                slugOrFallback(rec.Name, rec.ExternalID),
			Category:            rec.Category,
			Description:         rec.Description,
			Price:               rec.Price,
			IsVegetarian:        rec.IsVegetarian,
			SpicyLevel:          rec.SpicyLevel,
			ExternalSourceCount: 1,
			DataSource:          domain.DataSourceImported,
		}
		if err := tx.CreateDish(ctx, dish); err != nil {
			return nil, fmt.Errorf("create dish: %w", err)
		}
		if err := tx.CreateLink(ctx, newLink(dish.ID, domain.EntityTypeDish, sourceID, rec.ExternalID, now)); err != nil {
			return nil, fmt.Errorf("create link: %w", err)
		}
		return &UpsertResult{EntityID: dish.ID, Created: true}, nil

	default:
		return nil, fmt.Errorf("find dish link: %w", err)
	}
}

func newLink(entityID string, entityType domain.EntityType, sourceID, externalID string, now time.Time) *domain.ImportLink {
	return &domain.ImportLink{
		ImportID:        uuid.New().String(),
		EntityID:        entityID,
		EntityType:      entityType,
		SourceID:        sourceID,
		ExternalID:      externalID,
		ConfidenceScore: 1.0,
		MatchMethod:     domain.MatchMethodCreated,
		Status:          domain.LinkStatusActive,
		LastUpdated:     now,
	}
}

// setIfPresent writes column only when the incoming value is non-nil, so a
// sparse record never erases data another source supplied.
func setIfPresent[T any](updates map[string]interface{}, column string, value *T) {
	if value != nil {
		updates[column] = *value
	}
}

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single hyphen, trimming hyphens at both ends.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

func slugOrFallback(name, externalID string) string {
	if slug := Slugify(name); slug != "" {
		return slug
	}
	if slug := Slugify(externalID); slug != "" {
		return slug
	}
	return "item"
}
