package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/repository"
)

func TestBadgerAnalyticsStore_PutIfAbsent(t *testing.T) {
	db, err := repository.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	defer db.Close()

	store := repository.NewBadgerAnalyticsStore(db)
	ctx := context.Background()
	record := &domain.AnalyticsRecord{
		EventID:      "e1",
		RestaurantID: "r-1",
		Timestamp:    "2024-05-01T12:00:00Z",
		EventType:    "VIEW",
		EventSource:  "web",
		Action:       "open",
		TTL:          time.Now().Add(time.Hour).Unix(),
	}

	if err := store.PutIfAbsent(ctx, record); err != nil {
		t.Fatalf("first PutIfAbsent() error = %v", err)
	}
	err = store.PutIfAbsent(ctx, record)
	if !domain.IsDuplicate(err) {
		t.Fatalf("second PutIfAbsent() error = %v, want DuplicateError", err)
	}

	got, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RestaurantID != "r-1" || got.Action != "open" {
		t.Errorf("Get() = %+v", got)
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, repository.ErrAnalyticsRecordNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrAnalyticsRecordNotFound", err)
	}
}

func TestBadgerAnalyticsStore_ConcurrentSameEvent(t *testing.T) {
	db, err := repository.OpenBadger("")
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	defer db.Close()
	store := repository.NewBadgerAnalyticsStore(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, dupes := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.PutIfAbsent(context.Background(), &domain.AnalyticsRecord{EventID: "same", Action: "view"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case domain.IsDuplicate(err):
				dupes++
			default:
				t.Errorf("PutIfAbsent() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want 1 (dupes %d)", created, dupes)
	}
	n, _ := store.Count(context.Background())
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := in.Item["eventId"].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[key]; ok {
		return nil, &types.ConditionalCheckFailedException{Message: stringPtr("exists")}
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key["eventId"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func stringPtr(s string) *string { return &s }

func TestDynamoAnalyticsStore(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	store := repository.NewDynamoAnalyticsStore(fake, "analytics")

	record := &domain.AnalyticsRecord{
		EventID:      "e1",
		RestaurantID: "r-1",
		EventType:    "CLICK",
		EventSource:  "app",
		Action:       "menu",
		Data:         map[string]interface{}{"restaurantId": "r-1", "section": "mains"},
		TTL:          1700000000,
	}
	if err := store.PutIfAbsent(ctx, record); err != nil {
		t.Fatalf("PutIfAbsent() error = %v", err)
	}
	if err := store.PutIfAbsent(ctx, record); !domain.IsDuplicate(err) {
		t.Fatalf("repeat PutIfAbsent() error = %v, want DuplicateError", err)
	}

	got, err := store.Get(ctx, "e1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TTL != 1700000000 || got.Data["section"] != "mains" {
		t.Errorf("Get() = %+v", got)
	}

	fake.err = errors.New("throttled")
	if err := store.PutIfAbsent(ctx, &domain.AnalyticsRecord{EventID: "e2"}); !domain.IsStore(err) {
		t.Errorf("PutIfAbsent() with client error = %v, want StoreError", err)
	}
}
