package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/metrics"
	"github.com/timmy/dishrank/internal/ranking"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/validation"
)

// RankingInput is one ranking interaction submitted by a user.
type RankingInput struct {
	RestaurantID string                 `json:"restaurantId" validate:"notblank"`
	Name         string                 `json:"name" validate:"notblank"`
	Category     domain.RankingCategory `json:"category" validate:"oneof=TOP VISITED PLAN_TO_VISIT SECOND_CHANCE DISSATISFIED"`
	MenuItem     string                 `json:"menuItem"`
	RankPosition *int                   `json:"rankPosition,omitempty" validate:"omitempty,gte=1"`
}

// RankingQuery narrows a user's scored view.
type RankingQuery struct {
	Category domain.RankingCategory
	MenuItem string
	Limit    int
}

// RankingService stores ranking interactions and serves scored views.
type RankingService struct {
	repo         *repository.RankingRepository
	cache        RankingCache
	defaultLimit int
}

// NewRankingService creates a new RankingService. A nil cache disables caching.
func NewRankingService(repo *repository.RankingRepository, cache RankingCache, defaultLimit int) *RankingService {
	return &RankingService{repo: repo, cache: cache, defaultLimit: defaultLimit}
}

// SaveRankings validates and stores a user's interactions, replacing earlier
// ones for the same (restaurant, menu item).
func (s *RankingService) SaveRankings(ctx context.Context, userID string, inputs []RankingInput) ([]domain.RankingInteraction, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewValidationError("userId is required", "userId")
	}
	if len(inputs) == 0 {
		return nil, domain.NewValidationError("no rankings given", "rankings")
	}

	rows := make([]domain.RankingInteraction, 0, len(inputs))
	// one row per (restaurant, menu item); a later input replaces an earlier one
	slot := make(map[string]int, len(inputs))
	for i, in := range inputs {
		if err := validation.Struct(in); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("rankings[%d]: %v", i, err), "rankings")
		}
		row := domain.RankingInteraction{
			ID:           uuid.New().String(),
			UserID:       userID,
			RestaurantID: strings.TrimSpace(in.RestaurantID),
			Name:         strings.TrimSpace(in.Name),
			Category:     in.Category,
			MenuItem:     strings.TrimSpace(in.MenuItem),
			RankPosition: in.RankPosition,
		}
		key := row.RestaurantID + "\x00" + row.MenuItem
		if j, ok := slot[key]; ok {
			rows[j] = row
			continue
		}
		slot[key] = len(rows)
		rows = append(rows, row)
	}

	if err := s.repo.Upsert(ctx, rows); err != nil {
		return nil, domain.NewStoreError("save rankings", err)
	}
	s.invalidate(ctx, userID)
	return rows, nil
}

// DeleteRankings removes all of a user's interactions.
func (s *RankingService) DeleteRankings(ctx context.Context, userID string) (int64, error) {
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, domain.NewStoreError("delete rankings", err)
	}
	s.invalidate(ctx, userID)
	return n, nil
}

// UserRankings returns a user's scored interactions, best first.
func (s *RankingService) UserRankings(ctx context.Context, userID string, q RankingQuery) ([]domain.RankingItemWithScore, error) {
	var scored []domain.RankingItemWithScore
	if !s.cached(ctx, userRankingKey(userID), &scored) {
		rows, err := s.repo.ListByUser(ctx, userID)
		if err != nil {
			return nil, domain.NewStoreError("list rankings", err)
		}
		items := make([]domain.RankingItem, len(rows))
		for i, row := range rows {
			items[i] = row.Item()
		}
		scored = ranking.Score(items)
		s.store(ctx, userRankingKey(userID), scored)
	}
	return ranking.Filter(scored, q.Category, q.MenuItem, s.limit(q.Limit)), nil
}

// Leaderboard sums every user's scores per restaurant, best first.
func (s *RankingService) Leaderboard(ctx context.Context, limit int) ([]ranking.LeaderboardEntry, error) {
	var board []ranking.LeaderboardEntry
	if !s.cached(ctx, leaderboardKey, &board) {
		rows, err := s.repo.ListAll(ctx)
		if err != nil {
			return nil, domain.NewStoreError("list rankings", err)
		}
		items := make([]domain.RankingItem, len(rows))
		for i, row := range rows {
			items[i] = row.Item()
		}
		board = ranking.Aggregate(items, 0)
		s.store(ctx, leaderboardKey, board)
	}
	if limit = s.limit(limit); limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	return board, nil
}

func (s *RankingService) limit(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.defaultLimit
}

// cache failures degrade to a store read
func (s *RankingService) cached(ctx context.Context, key string, dst interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dst)
	switch {
	case err != nil:
		metrics.RankingCacheTotal.WithLabelValues("error").Inc()
		logger.FromContext(ctx).WithError(err).Warn("Ranking cache read failed")
		return false
	case hit:
		metrics.RankingCacheTotal.WithLabelValues("hit").Inc()
		return true
	default:
		metrics.RankingCacheTotal.WithLabelValues("miss").Inc()
		return false
	}
}

func (s *RankingService) store(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Ranking cache write failed")
	}
}

func (s *RankingService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userRankingKey(userID), leaderboardKey); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Ranking cache invalidation failed")
	}
}
