package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 프로세스 생존 확인
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "englivo-backend",
	})
}

// Checker 의존성 상태 확인 함수 (Redis ping, DB ping 등)
type Checker func(ctx context.Context) error

// Readiness 모든 의존성이 응답하면 200, 하나라도 실패하면 503
func Readiness(checks map[string]Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		c.JSON(status, gin.H{
			"status": http.StatusText(status),
			"checks": results,
		})
	}
}
