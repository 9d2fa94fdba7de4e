package handlers

import (
	"context"
	"net/http"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/gin-gonic/gin"
)

// SessionLifecycle 세션 생명주기 (service.SessionService)
type SessionLifecycle interface {
	Start(ctx context.Context, req models.StartSessionRequest) (*models.ConversationSession, error)
	Get(ctx context.Context, sessionID string) (*models.ConversationSession, error)
	Heartbeat(ctx context.Context, sessionID, userID string) error
	End(ctx context.Context, sessionID string, req models.EndSessionRequest) (*models.EndSessionResult, error)
}

type SessionHandler struct {
	sessions SessionLifecycle
}

func NewSessionHandler(sessions SessionLifecycle) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Start POST /sessions/start
func (h *SessionHandler) Start(c *gin.Context) {
	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "Failed to start session")
		return
	}

	c.JSON(http.StatusCreated, session)
}

// Get GET /sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get session")
		return
	}

	c.JSON(http.StatusOK, session)
}

// Heartbeat PUT /sessions/:id/heartbeat
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	var req models.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !authorize(c, req.UserID) {
		return
	}

	if err := h.sessions.Heartbeat(c.Request.Context(), c.Param("id"), req.UserID); err != nil {
		respondError(c, err, "Failed to record heartbeat")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// End POST /sessions/:id/end
// 이미 종료된 세션에 대한 재호출은 현재 상태를 그대로 돌려준다.
func (h *SessionHandler) End(c *gin.Context) {
	var req models.EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.sessions.End(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err, "Failed to end session")
		return
	}

	c.JSON(http.StatusOK, result)
}
