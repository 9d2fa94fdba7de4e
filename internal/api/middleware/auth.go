package middleware

import (
	"errors"
	"net/http"
	"strings"

	jwtutil "github.com/englivo/englivo-backend/pkg/jwt"
	"github.com/gin-gonic/gin"
)

// ContextUserIDKey 인증된 사용자 ID가 저장되는 gin context 키
const ContextUserIDKey = "userId"

// Auth JWT 인증 미들웨어
// 토큰은 외부 인증 서비스가 발급하며 여기서는 서명과 만료만 확인한다.
// WebSocket처럼 헤더를 붙일 수 없는 경우 token 쿼리 파라미터도 허용한다.
func Auth(jwtManager *jwtutil.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// "Bearer <token>" 형식 파싱
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid authorization header format",
				})
				return
			}
			token = parts[1]
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwtutil.ErrExpiredToken) {
				msg = "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		c.Set(ContextUserIDKey, claims.Identity())
		c.Next()
	}
}

// AuthenticatedUser 인증 미들웨어가 저장한 사용자 ID (인증 비활성 시 false)
func AuthenticatedUser(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
