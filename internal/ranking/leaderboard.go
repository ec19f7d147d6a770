package ranking

import (
	"sort"

	"github.com/timmy/dishrank/internal/domain"
)

// LeaderboardEntry is one restaurant's score summed across all owners.
type LeaderboardEntry struct {
	RestaurantID string  `json:"restaurantId"`
	Name         string  `json:"name"`
	TotalScore   float64 `json:"totalScore"`
	Rankings     int     `json:"rankings"`
}

// Aggregate scores items from many owners and sums TotalScore per restaurant
// id, best first. limit <= 0 returns every restaurant.
func Aggregate(items []domain.RankingItem, limit int) []LeaderboardEntry {
	scored := Score(items)

	index := make(map[string]int)
	var entries []LeaderboardEntry
	for _, s := range scored {
		i, ok := index[s.ID]
		if !ok {
			i = len(entries)
			index[s.ID] = i
			entries = append(entries, LeaderboardEntry{RestaurantID: s.ID, Name: s.Name})
		}
		entries[i].TotalScore += s.TotalScore
		entries[i].Rankings++
	}

	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].TotalScore > entries[b].TotalScore
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
