package api

import (
	"time"

	"github.com/englivo/englivo-backend/internal/api/handlers"
	"github.com/englivo/englivo-backend/internal/api/middleware"
	"github.com/englivo/englivo-backend/internal/config"
	"github.com/englivo/englivo-backend/internal/websocket"
	jwtutil "github.com/englivo/englivo-backend/pkg/jwt"
	"github.com/englivo/englivo-backend/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies 라우터가 사용하는 서비스 묶음 (main에서 조립)
type Dependencies struct {
	Matchmaking handlers.BasicMatcher
	Structured  handlers.TieredMatcher
	Sessions    handlers.SessionLifecycle
	Hub         *websocket.Hub
	RateLimiter *ratelimit.RedisRateLimiter // nil이면 폴링 Rate Limit 비활성
	Checks      map[string]handlers.Checker
}

// SetupRouter API 라우터 설정
func SetupRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()

	// 전역 미들웨어
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	matchmakingHandler := handlers.NewMatchmakingHandler(deps.Matchmaking, deps.Structured)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions)

	// Health check / metrics
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.Readiness(deps.Checks))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := router.Group("/api/v1")

	// 토큰 발급은 외부 서비스 책임, 비밀키가 설정된 경우에만 검증
	if cfg.JWTSecret != "" {
		v1.Use(middleware.Auth(jwtutil.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)))
	}

	{
		if deps.Hub != nil {
			wsHandler := handlers.NewWebSocketHandler(deps.Hub, cfg.CORSAllowedOrigins)
			v1.GET("/ws", wsHandler.HandleWebSocket)
		}

		matchmaking := v1.Group("/matchmaking")
		{
			statusChain := []gin.HandlerFunc{}
			if deps.RateLimiter != nil {
				statusChain = append(statusChain,
					middleware.RedisStatusPollRateLimit(deps.RateLimiter, cfg.StatusRateLimit, statusWindow(cfg)))
			}
			statusChain = append(statusChain, matchmakingHandler.Status)

			matchmaking.POST("/join", matchmakingHandler.Join)
			matchmaking.GET("/status", statusChain...)
			matchmaking.POST("/leave", matchmakingHandler.Leave)
			matchmaking.POST("/find-structured", matchmakingHandler.FindStructured)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.POST("/start", sessionHandler.Start)
			sessions.GET("/:id", sessionHandler.Get)
			sessions.PUT("/:id/heartbeat", sessionHandler.Heartbeat)
			sessions.POST("/:id/end", sessionHandler.End)
		}
	}

	return router, nil
}

func statusWindow(cfg *config.Config) time.Duration {
	if cfg.StatusRateWindow <= 0 {
		return time.Minute
	}
	return cfg.StatusRateWindow
}
