package service

import (
	"context"
	"sync"
	"testing"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/repository/repotest"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Joe's Pizza", "joe-s-pizza"},
		{"  Café   Central!! ", "caf-central"},
		{"Burger & Co. 2", "burger-co-2"},
		{"---", ""},
		{"ALL CAPS", "all-caps"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slugify(tt.in); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if got := slugOrFallback("!!!", "ext 42"); got != "ext-42" {
		t.Errorf("slugOrFallback() = %q, want ext-42", got)
	}
}

func TestUpsertRestaurant_Idempotent(t *testing.T) {
	ctx := context.Background()
	entities := repository.NewEntityRepository(repotest.OpenDB(t))
	u := NewUpserter(entities)

	rec := domain.RestaurantRecord{Name: "Joe's Pizza", ExternalID: "yelp-1", City: strPtr("Austin")}

	first, err := u.UpsertRestaurant(ctx, "yelp", rec)
	if err != nil {
		t.Fatalf("first UpsertRestaurant() error = %v", err)
	}
	if !first.Created {
		t.Error("first UpsertRestaurant() did not create")
	}

	second, err := u.UpsertRestaurant(ctx, "yelp", rec)
	if err != nil {
		t.Fatalf("second UpsertRestaurant() error = %v", err)
	}
	if second.EntityID != first.EntityID || second.Created {
		t.Errorf("second UpsertRestaurant() = %+v, want merge into %s", second, first.EntityID)
	}

	count, _ := entities.CountRestaurants(ctx)
	if count != 1 {
		t.Errorf("restaurants = %d, want 1", count)
	}
	links, _ := entities.ListLinks(ctx, domain.EntityTypeRestaurant, first.EntityID)
	if len(links) != 1 {
		t.Fatalf("links = %d, want 1", len(links))
	}
	if links[0].MatchMethod != domain.MatchMethodExternalID {
		t.Errorf("link match method = %s, want EXTERNAL_ID", links[0].MatchMethod)
	}

	got, _ := entities.GetRestaurant(ctx, first.EntityID)
	if got.ExternalSourceCount != 2 || got.DataSource != domain.DataSourceImported || got.Slug != "joe-s-pizza" {
		t.Errorf("restaurant = %+v", got)
	}

	// same external id in another source is a different identity
	other, err := u.UpsertRestaurant(ctx, "google", rec)
	if err != nil {
		t.Fatalf("UpsertRestaurant(google) error = %v", err)
	}
	if other.EntityID == first.EntityID {
		t.Error("different source matched the same entity")
	}
}

func TestUpsertRestaurant_Coalesce(t *testing.T) {
	ctx := context.Background()
	entities := repository.NewEntityRepository(repotest.OpenDB(t))
	u := NewUpserter(entities)

	res, err := u.UpsertRestaurant(ctx, "yelp", domain.RestaurantRecord{
		Name:        "Old Name",
		ExternalID:  "r-1",
		City:        strPtr("Austin"),
		Phone:       strPtr("555-0100"),
		Latitude:    floatPtr(30.2),
		CuisineType: strPtr("Pizza"),
	})
	if err != nil {
		t.Fatalf("UpsertRestaurant() error = %v", err)
	}

	_, err = u.UpsertRestaurant(ctx, "yelp", domain.RestaurantRecord{
		Name:        "New Name",
		ExternalID:  "r-1",
		CuisineType: strPtr("Italian"),
	})
	if err != nil {
		t.Fatalf("merge UpsertRestaurant() error = %v", err)
	}

	got, err := entities.GetRestaurant(ctx, res.EntityID)
	if err != nil {
		t.Fatalf("GetRestaurant() error = %v", err)
	}
	if got.Name != "New Name" || got.Slug != "new-name" {
		t.Errorf("name/slug = %q/%q, want overwritten", got.Name, got.Slug)
	}
	if got.City == nil || *got.City != "Austin" {
		t.Errorf("city = %v, want Austin kept", got.City)
	}
	if got.Phone == nil || *got.Phone != "555-0100" {
		t.Errorf("phone = %v, want kept", got.Phone)
	}
	if got.Latitude == nil || *got.Latitude != 30.2 {
		t.Errorf("latitude = %v, want kept", got.Latitude)
	}
	if got.CuisineType == nil || *got.CuisineType != "Italian" {
		t.Errorf("cuisineType = %v, want Italian", got.CuisineType)
	}
}

func TestUpsertRestaurant_Validation(t *testing.T) {
	ctx := context.Background()
	entities := repository.NewEntityRepository(repotest.OpenDB(t))
	u := NewUpserter(entities)

	tests := []struct {
		name string
		rec  domain.RestaurantRecord
	}{
		{"missing name", domain.RestaurantRecord{ExternalID: "r-1"}},
		{"blank name", domain.RestaurantRecord{Name: "   ", ExternalID: "r-1"}},
		{"missing external id", domain.RestaurantRecord{Name: "X"}},
		{"bad latitude", domain.RestaurantRecord{Name: "X", ExternalID: "r-1", Latitude: floatPtr(123)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.UpsertRestaurant(ctx, "yelp", tt.rec)
			if !domain.IsValidation(err) {
				t.Errorf("UpsertRestaurant() error = %v, want ValidationError", err)
			}
		})
	}

	count, _ := entities.CountRestaurants(ctx)
	if count != 0 {
		t.Errorf("restaurants = %d after invalid input, want 0", count)
	}
}

func TestUpsertDish(t *testing.T) {
	ctx := context.Background()
	entities := repository.NewEntityRepository(repotest.OpenDB(t))
	u := NewUpserter(entities)

	dish := domain.DishRecord{
		Name:           "Margherita",
		ExternalID:     "d-1",
		RestaurantID:   "r-1",
		RestaurantName: "Joe's Pizza",
		Price:          floatPtr(12.5),
	}

	res, err := u.UpsertDish(ctx, "yelp", dish)
	if err != nil {
		t.Fatalf("UpsertDish() error = %v", err)
	}

	link, err := entities.FindLink(ctx, "yelp", domain.EntityTypeRestaurant, "r-1")
	if err != nil {
		t.Fatalf("restaurant link missing: %v", err)
	}
	restaurant, _ := entities.GetRestaurant(ctx, link.EntityID)
	if restaurant.Name != "Joe's Pizza" || restaurant.ExternalSourceCount != 1 {
		t.Errorf("minimal restaurant = %+v", restaurant)
	}

	got, _ := entities.GetDish(ctx, res.EntityID)
	if got.RestaurantID != link.EntityID || got.Slug != "margherita" {
		t.Errorf("dish = %+v", got)
	}

	// a later dish from the same restaurant reuses it without merging it
	if _, err := u.UpsertDish(ctx, "yelp", domain.DishRecord{
		Name: "Marinara", ExternalID: "d-2", RestaurantID: "r-1", RestaurantName: "Joe's Pizza",
	}); err != nil {
		t.Fatalf("UpsertDish(d-2) error = %v", err)
	}
	dishes, _ := entities.ListDishesByRestaurant(ctx, link.EntityID)
	if len(dishes) != 2 {
		t.Errorf("dishes = %d, want 2", len(dishes))
	}
	if count, _ := entities.CountRestaurants(ctx); count != 1 {
		t.Errorf("restaurants = %d, want 1", count)
	}

	// merge keeps the price when the update omits it
	if _, err := u.UpsertDish(ctx, "yelp", domain.DishRecord{
		Name: "Pizza Margherita", ExternalID: "d-1", RestaurantID: "r-1", RestaurantName: "Joe's Pizza",
	}); err != nil {
		t.Fatalf("merge UpsertDish() error = %v", err)
	}
	got, _ = entities.GetDish(ctx, res.EntityID)
	if got.Name != "Pizza Margherita" || got.Price == nil || *got.Price != 12.5 || got.ExternalSourceCount != 2 {
		t.Errorf("merged dish = %+v", got)
	}

	if _, err := u.UpsertDish(ctx, "yelp", domain.DishRecord{Name: "X", ExternalID: "d-3", RestaurantID: "r-1"}); !domain.IsValidation(err) {
		t.Errorf("UpsertDish() without restaurantName error = %v, want ValidationError", err)
	}
}

func TestUpsertRestaurant_Concurrent(t *testing.T) {
	ctx := context.Background()
	entities := repository.NewEntityRepository(repotest.OpenDB(t))
	u := NewUpserter(entities)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := u.UpsertRestaurant(ctx, "yelp", domain.RestaurantRecord{Name: "Same", ExternalID: "r-1"})
			errs[i] = err
			if res != nil {
				ids[i] = res.EntityID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("UpsertRestaurant() #%d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("UpsertRestaurant() #%d = %s, want %s", i, ids[i], ids[0])
		}
	}
	got, _ := entities.GetRestaurant(ctx, ids[0])
	if got.ExternalSourceCount != n {
		t.Errorf("externalSourceCount = %d, want %d", got.ExternalSourceCount, n)
	}
}
