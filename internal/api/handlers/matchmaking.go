package handlers

import (
	"context"
	"net/http"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/gin-gonic/gin"
)

// BasicMatcher 레벨별 FIFO 매칭 (service.MatchmakingService)
type BasicMatcher interface {
	Join(ctx context.Context, userID, level, topic string) error
	CheckMatch(ctx context.Context, userID, level string) (*models.CheckMatchResult, error)
	Leave(ctx context.Context, userID, level string) error
}

// TieredMatcher 조건 완화 매칭 (service.TieredMatchmakingService)
type TieredMatcher interface {
	FindMatch(ctx context.Context, userID, structure string) (*models.StructuredMatchResult, error)
}

type MatchmakingHandler struct {
	basic  BasicMatcher
	tiered TieredMatcher
}

func NewMatchmakingHandler(basic BasicMatcher, tiered TieredMatcher) *MatchmakingHandler {
	return &MatchmakingHandler{
		basic:  basic,
		tiered: tiered,
	}
}

// Join POST /matchmaking/join
func (h *MatchmakingHandler) Join(c *gin.Context) {
	var req models.JoinQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !authorize(c, req.UserID) {
		return
	}

	if err := h.basic.Join(c.Request.Context(), req.UserID, req.Level, req.Topic); err != nil {
		respondError(c, err, "Failed to join queue")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// Status GET /matchmaking/status?userId=&level=
func (h *MatchmakingHandler) Status(c *gin.Context) {
	var query models.MatchStatusQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}
	if !authorize(c, query.UserID) {
		return
	}

	result, err := h.basic.CheckMatch(c.Request.Context(), query.UserID, query.Level)
	if err != nil {
		respondError(c, err, "Failed to check match")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Leave POST /matchmaking/leave
func (h *MatchmakingHandler) Leave(c *gin.Context) {
	var req models.LeaveQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !authorize(c, req.UserID) {
		return
	}

	if err := h.basic.Leave(c.Request.Context(), req.UserID, req.Level); err != nil {
		respondError(c, err, "Failed to leave queue")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

// FindStructured POST /matchmaking/find-structured
// 최대 탐색 시간 동안 응답을 붙잡으며, 클라이언트가 끊으면 탐색도 취소된다.
func (h *MatchmakingHandler) FindStructured(c *gin.Context) {
	var req models.FindStructuredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !authorize(c, req.UserID) {
		return
	}

	result, err := h.tiered.FindMatch(c.Request.Context(), req.UserID, req.Structure)
	if err != nil {
		respondError(c, err, "Failed to find match")
		return
	}

	c.JSON(http.StatusOK, result)
}
