package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/englivo/englivo-backend/internal/api/middleware"
	"github.com/englivo/englivo-backend/internal/service"
	"github.com/gin-gonic/gin"
)

// statusFor 에러 분류 -> HTTP 상태 코드
func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError 서비스 에러를 JSON 에러 응답으로 변환
// 검증/조회 실패는 원인을 그대로, 그 외에는 message만 노출한다.
func respondError(c *gin.Context, err error, message string) {
	// 클라이언트가 이미 끊긴 경우 (nginx 499 관례)
	if errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil {
		c.AbortWithStatus(499)
		return
	}

	_ = c.Error(err)

	kind := service.KindOf(err)
	status := statusFor(kind)

	body := gin.H{"error": message, "kind": kind.String()}
	if kind == service.KindValidation || kind == service.KindNotFound || kind == service.KindConflict {
		body["details"] = err.Error()
	}

	c.AbortWithStatusJSON(status, body)
}

// authorize 인증이 켜져 있으면 요청의 userId가 토큰 사용자와 같아야 함
func authorize(c *gin.Context, userID string) bool {
	authed, ok := middleware.AuthenticatedUser(c)
	if !ok || authed == userID {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error": "userId does not match authenticated user",
	})
	return false
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"kind":  service.KindValidation.String(),
	})
}
