package middleware

import (
	"time"

	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Logger HTTP 요청 로깅 미들웨어
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		keysAndValues := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"query", query,
			"status", status,
			"latency", latency,
			"ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			keysAndValues = append(keysAndValues, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			logger.Error("HTTP Request", keysAndValues...)
		case status >= 400:
			logger.Warn("HTTP Request", keysAndValues...)
		default:
			logger.Info("HTTP Request", keysAndValues...)
		}
	}
}
