// Package ranking computes position- and interaction-weighted scores for
// users' restaurant lists.
//
// Only TOP items earn position points. For an owner with N TOP items the item
// at effective position p earns (N+1-p)^1.5 raw points, and raw points are
// normalized so that each owner's TOP items sum to 1. Every item then gets a
// fixed adjustment for its category, and totalScore is the sum of the two.
package ranking

import (
	"math"
	"sort"

	"github.com/timmy/dishrank/internal/domain"
)

const positionExponent = 1.5

var interactionWeights = map[domain.RankingCategory]float64{
	domain.CategoryDissatisfied: -1.0,
	domain.CategorySecondChance: -0.5,
	domain.CategoryPlanToVisit:  0.3,
	domain.CategoryVisited:      0.0,
	domain.CategoryTop:          0.0,
}

// InteractionWeight returns the fixed score adjustment for a category.
// Unknown categories weigh 0.
func InteractionWeight(c domain.RankingCategory) float64 {
	return interactionWeights[c]
}

// Score computes scores for items, preserving their order. Items are grouped
// by UserID for normalization.
func Score(items []domain.RankingItem) []domain.RankingItemWithScore {
	out := make([]domain.RankingItemWithScore, len(items))
	topByOwner := make(map[string][]int)
	var owners []string

	for i, item := range items {
		out[i] = domain.RankingItemWithScore{
			RankingItem:       item,
			InteractionPoints: InteractionWeight(item.Category),
		}
		if item.Category == domain.CategoryTop {
			if _, seen := topByOwner[item.UserID]; !seen {
				owners = append(owners, item.UserID)
			}
			topByOwner[item.UserID] = append(topByOwner[item.UserID], i)
		}
	}

	for _, owner := range owners {
		idx := topByOwner[owner]
		// positioned items first by stored position, the rest in encounter order
		sort.SliceStable(idx, func(a, b int) bool {
			pa, pb := items[idx[a]].RankPosition, items[idx[b]].RankPosition
			switch {
			case pa == nil:
				return false
			case pb == nil:
				return true
			default:
				return *pa < *pb
			}
		})

		n := len(idx)
		total := 0.0
		for pos, i := range idx {
			raw := math.Pow(float64(n+1-(pos+1)), positionExponent)
			out[i].RankingPoints = raw
			total += raw
		}
		if total == 0 {
			continue
		}
		for _, i := range idx {
			out[i].NormalizedPoints = out[i].RankingPoints / total
		}
	}

	for i := range out {
		out[i].TotalScore = out[i].NormalizedPoints + out[i].InteractionPoints
	}
	return out
}

// ByCategory scores items and returns those in category, best first.
// limit <= 0 returns all of them.
func ByCategory(items []domain.RankingItem, category domain.RankingCategory, limit int) []domain.RankingItemWithScore {
	return filterSorted(Score(items), func(s domain.RankingItemWithScore) bool {
		return s.Category == category
	}, limit)
}

// ByMenuItem scores items and returns those for menuItem, best first.
// limit <= 0 returns all of them.
func ByMenuItem(items []domain.RankingItem, menuItem string, limit int) []domain.RankingItemWithScore {
	return filterSorted(Score(items), func(s domain.RankingItemWithScore) bool {
		return s.MenuItem == menuItem
	}, limit)
}

// Sorted scores items and returns all of them, best first.
func Sorted(items []domain.RankingItem, limit int) []domain.RankingItemWithScore {
	return filterSorted(Score(items), nil, limit)
}

// Filter narrows already scored items to category and menuItem, best first.
// An empty category or menuItem matches everything.
func Filter(scored []domain.RankingItemWithScore, category domain.RankingCategory, menuItem string, limit int) []domain.RankingItemWithScore {
	return filterSorted(scored, func(s domain.RankingItemWithScore) bool {
		return (category == "" || s.Category == category) && (menuItem == "" || s.MenuItem == menuItem)
	}, limit)
}

func filterSorted(scored []domain.RankingItemWithScore, keep func(domain.RankingItemWithScore) bool, limit int) []domain.RankingItemWithScore {
	out := make([]domain.RankingItemWithScore, 0, len(scored))
	for _, s := range scored {
		if keep == nil || keep(s) {
			out = append(out, s)
		}
	}
	SortByScore(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortByScore orders items by TotalScore descending; ties keep input order.
func SortByScore(items []domain.RankingItemWithScore) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].TotalScore > items[b].TotalScore
	})
}
