package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/service"
)

// RankingHandler serves user rankings and the restaurant leaderboard.
type RankingHandler struct {
	rankings *service.RankingService
}

// NewRankingHandler creates a new ranking handler.
func NewRankingHandler(rankings *service.RankingService) *RankingHandler {
	return &RankingHandler{rankings: rankings}
}

// SaveRankingsRequest is the body of POST /api/v1/users/:userId/rankings.
type SaveRankingsRequest struct {
	Rankings []service.RankingInput `json:"rankings" binding:"required"`
}

// SaveRankings handles POST /api/v1/users/:userId/rankings.
func (h *RankingHandler) SaveRankings(c *gin.Context) {
	var req SaveRankingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	saved, err := h.rankings.SaveRankings(c.Request.Context(), c.Param("userId"), req.Rankings)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": len(saved), "rankings": saved})
}

// GetRankings handles GET /api/v1/users/:userId/rankings.
// Query: category, menuItem, limit.
func (h *RankingHandler) GetRankings(c *gin.Context) {
	category := domain.RankingCategory(strings.ToUpper(c.Query("category")))
	if category != "" && !category.Valid() {
		respondError(c, domain.NewValidationError("unknown category "+string(category), "category"))
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}

	userID := c.Param("userId")
	items, err := h.rankings.UserRankings(c.Request.Context(), userID, service.RankingQuery{
		Category: category,
		MenuItem: c.Query("menuItem"),
		Limit:    limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "rankings": items, "total": len(items)})
}

// DeleteRankings handles DELETE /api/v1/users/:userId/rankings.
func (h *RankingHandler) DeleteRankings(c *gin.Context) {
	n, err := h.rankings.DeleteRankings(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// Leaderboard handles GET /api/v1/rankings/leaderboard.
func (h *RankingHandler) Leaderboard(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		respondError(c, err)
		return
	}
	board, err := h.rankings.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": board, "total": len(board)})
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, domain.NewValidationError("limit must be a positive integer", "limit")
	}
	return limit, nil
}
