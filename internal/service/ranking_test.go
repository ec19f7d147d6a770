package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/repository/repotest"
)

func intPtr(i int) *int { return &i }

func scoredIDs(items []domain.RankingItemWithScore) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = s.ID
	}
	return out
}

func newRankingService(t *testing.T) (*RankingService, *MemoryRankingCache) {
	t.Helper()
	cache := NewMemoryRankingCache(time.Minute)
	return NewRankingService(repository.NewRankingRepository(repotest.OpenDB(t)), cache, 10), cache
}

func TestRankingService_UserRankings(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRankingService(t)

	_, err := svc.SaveRankings(ctx, "u1", []RankingInput{
		{RestaurantID: "A", Name: "Alpha", Category: domain.CategoryTop, RankPosition: intPtr(1)},
		{RestaurantID: "B", Name: "Bravo", Category: domain.CategoryTop, RankPosition: intPtr(2)},
		{RestaurantID: "C", Name: "Charlie", Category: domain.CategoryTop, RankPosition: intPtr(3)},
		{RestaurantID: "D", Name: "Delta", Category: domain.CategoryDissatisfied},
	})
	if err != nil {
		t.Fatalf("SaveRankings() error = %v", err)
	}

	top, err := svc.UserRankings(ctx, "u1", RankingQuery{Category: domain.CategoryTop})
	if err != nil {
		t.Fatalf("UserRankings() error = %v", err)
	}
	want := []struct {
		id    string
		score float64
	}{{"A", 0.576}, {"B", 0.313}, {"C", 0.111}}
	if len(top) != len(want) {
		t.Fatalf("UserRankings(TOP) = %d items, want 3", len(top))
	}
	for i, w := range want {
		if top[i].ID != w.id || math.Abs(top[i].TotalScore-w.score) > 1e-3 {
			t.Errorf("top[%d] = %s %.3f, want %s %.3f", i, top[i].ID, top[i].TotalScore, w.id, w.score)
		}
	}

	all, _ := svc.UserRankings(ctx, "u1", RankingQuery{Limit: 2})
	if len(all) != 2 || all[0].ID != "A" {
		t.Errorf("UserRankings(limit 2) = %v", scoredIDs(all))
	}

	// re-ranking replaces the stored row and invalidates the cached view
	if _, err := svc.SaveRankings(ctx, "u1", []RankingInput{
		{RestaurantID: "C", Name: "Charlie", Category: domain.CategoryTop, RankPosition: intPtr(1)},
		{RestaurantID: "A", Name: "Alpha", Category: domain.CategoryTop, RankPosition: intPtr(3)},
	}); err != nil {
		t.Fatalf("SaveRankings() error = %v", err)
	}
	top, _ = svc.UserRankings(ctx, "u1", RankingQuery{Category: domain.CategoryTop})
	if len(top) != 3 || top[0].ID != "C" {
		t.Errorf("after re-rank = %v, want C first", scoredIDs(top))
	}
}

func TestRankingService_SaveDuplicateInputs(t *testing.T) {
	ctx := context.Background()
	svc, _ := newRankingService(t)

	rows, err := svc.SaveRankings(ctx, "u1", []RankingInput{
		{RestaurantID: "A", Name: "Alpha", Category: domain.CategoryTop, RankPosition: intPtr(1)},
		{RestaurantID: "B", Name: "Bravo", Category: domain.CategoryTop, RankPosition: intPtr(2)},
		{RestaurantID: " A ", Name: "Alpha", Category: domain.CategoryVisited},
		{RestaurantID: "A", Name: "Alpha", Category: domain.CategoryTop, MenuItem: "Ramen", RankPosition: intPtr(1)},
	})
	if err != nil {
		t.Fatalf("SaveRankings() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("SaveRankings() = %d rows, want 3", len(rows))
	}
	if rows[0].RestaurantID != "A" || rows[0].Category != domain.CategoryVisited || rows[0].MenuItem != "" {
		t.Errorf("rows[0] = %+v, want the later VISITED input for A", rows[0])
	}

	visited, _ := svc.UserRankings(ctx, "u1", RankingQuery{Category: domain.CategoryVisited})
	if len(visited) != 1 || visited[0].ID != "A" {
		t.Errorf("UserRankings(VISITED) = %v, want [A]", scoredIDs(visited))
	}
}

func TestRankingService_Validation(t *testing.T) {
	svc, _ := newRankingService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		inputs []RankingInput
	}{
		{"no user", "", []RankingInput{{RestaurantID: "A", Name: "A", Category: domain.CategoryTop}}},
		{"no inputs", "u1", nil},
		{"bad category", "u1", []RankingInput{{RestaurantID: "A", Name: "A", Category: "FAVORITE"}}},
		{"missing name", "u1", []RankingInput{{RestaurantID: "A", Category: domain.CategoryVisited}}},
		{"zero position", "u1", []RankingInput{{RestaurantID: "A", Name: "A", Category: domain.CategoryTop, RankPosition: intPtr(0)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SaveRankings(ctx, tt.userID, tt.inputs); !domain.IsValidation(err) {
				t.Errorf("SaveRankings() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestRankingService_Leaderboard(t *testing.T) {
	ctx := context.Background()
	svc, cache := newRankingService(t)

	mustSave := func(user string, inputs ...RankingInput) {
		t.Helper()
		if _, err := svc.SaveRankings(ctx, user, inputs); err != nil {
			t.Fatalf("SaveRankings(%s) error = %v", user, err)
		}
	}
	mustSave("u1",
		RankingInput{RestaurantID: "A", Name: "Alpha", Category: domain.CategoryTop, RankPosition: intPtr(1)},
		RankingInput{RestaurantID: "B", Name: "Bravo", Category: domain.CategoryTop, RankPosition: intPtr(2)},
	)
	mustSave("u2", RankingInput{RestaurantID: "B", Name: "Bravo", Category: domain.CategoryTop, RankPosition: intPtr(1)})

	board, err := svc.Leaderboard(ctx, 0)
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(board) != 2 || board[0].RestaurantID != "B" || board[0].Rankings != 2 {
		t.Fatalf("Leaderboard() = %+v, want B first with 2 rankings", board)
	}

	var cached []interface{}
	if hit, _ := cache.Get(ctx, leaderboardKey, &cached); !hit {
		t.Error("leaderboard was not cached")
	}

	mustSave("u3", RankingInput{RestaurantID: "C", Name: "Charlie", Category: domain.CategoryTop, RankPosition: intPtr(1)})
	if hit, _ := cache.Get(ctx, leaderboardKey, &cached); hit {
		t.Error("leaderboard cache survived a write")
	}

	board, _ = svc.Leaderboard(ctx, 1)
	if len(board) != 1 {
		t.Errorf("Leaderboard(1) = %d entries", len(board))
	}

	if n, err := svc.DeleteRankings(ctx, "u2"); err != nil || n != 1 {
		t.Errorf("DeleteRankings() = %d, %v", n, err)
	}
}

func TestMemoryRankingCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryRankingCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	if err := cache.Set(ctx, "k", []string{"x"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	var got []string
	if hit, err := cache.Get(ctx, "k", &got); !hit || err != nil || got[0] != "x" {
		t.Errorf("Get() = %v, %v, %v", hit, err, got)
	}

	now = now.Add(2 * time.Minute)
	if hit, _ := cache.Get(ctx, "k", &got); hit {
		t.Error("expired entry was returned")
	}
}
