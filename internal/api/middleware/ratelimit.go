package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/englivo/englivo-backend/pkg/ratelimit"
	"github.com/gin-gonic/gin"
)

// RedisRateLimitConfig Redis 기반 Rate Limit 설정
type RedisRateLimitConfig struct {
	Limiter *ratelimit.RedisRateLimiter // Redis Rate Limiter
	Limit   int                         // 윈도우 내 최대 요청 수
	Window  time.Duration               // 윈도우 크기
	KeyFunc func(*gin.Context) string   // 키 추출 함수
}

// DefaultKeyFunc 인증된 사용자 ID, 없으면 IP
func DefaultKeyFunc(c *gin.Context) string {
	if userID, ok := AuthenticatedUser(c); ok {
		return fmt.Sprintf("user:%s", userID)
	}
	return IPKeyFunc(c)
}

// IPKeyFunc IP 기반 키
func IPKeyFunc(c *gin.Context) string {
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// PollerKeyFunc 상태 폴링용 키: 인증 사용자 > userId 쿼리 > IP
func PollerKeyFunc(c *gin.Context) string {
	if userID, ok := AuthenticatedUser(c); ok {
		return fmt.Sprintf("user:%s", userID)
	}
	if userID := c.Query("userId"); userID != "" {
		return fmt.Sprintf("user:%s", userID)
	}
	return IPKeyFunc(c)
}

// RedisRateLimitMiddleware Redis 기반 분산 Rate Limiting 미들웨어
func RedisRateLimitMiddleware(config RedisRateLimitConfig) gin.HandlerFunc {
	if config.KeyFunc == nil {
		config.KeyFunc = DefaultKeyFunc
	}
	if config.Limit <= 0 {
		config.Limit = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	return func(c *gin.Context) {
		key := config.KeyFunc(c)

		allowed, info, err := config.Limiter.AllowWithInfo(c.Request.Context(), key, config.Limit, config.Window)
		if err != nil {
			// Redis 오류 시 로깅하고 요청 허용 (Fail-open)
			logger.Warn("Redis rate limit error", "key", key, "error", err)
			c.Next()
			return
		}

		// Rate Limit 헤더 추가
		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(info.ResetTime).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Too many requests. Limit: %d per %v", config.Limit, config.Window),
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// RedisStatusPollRateLimit 매칭 상태 폴링 Rate Limit
func RedisStatusPollRateLimit(limiter *ratelimit.RedisRateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return RedisRateLimitMiddleware(RedisRateLimitConfig{
		Limiter: limiter,
		Limit:   limit,
		Window:  window,
		KeyFunc: PollerKeyFunc,
	})
}
