package handlers

import (
	"net/http"

	"github.com/englivo/englivo-backend/internal/api/middleware"
	"github.com/englivo/englivo-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

// WebSocketHandler WebSocket 연결 처리
type WebSocketHandler struct {
	hub      *websocket.Hub
	upgrader *gorilla.Upgrader
}

// NewWebSocketHandler WebSocketHandler 생성
func NewWebSocketHandler(hub *websocket.Hub, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// HandleWebSocket GET /ws
// 인증이 켜져 있으면 토큰 사용자, 아니면 userId 쿼리 파라미터로 연결을 식별한다.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, ok := middleware.AuthenticatedUser(c)
	if !ok {
		userID = c.Query("userId")
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	websocket.ServeWs(h.hub, h.upgrader, c.Writer, c.Request, userID)
}
