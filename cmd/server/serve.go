package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/englivo/englivo-backend/internal/api"
	"github.com/englivo/englivo-backend/internal/api/handlers"
	"github.com/englivo/englivo-backend/internal/service"
	"github.com/englivo/englivo-backend/internal/websocket"
	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/englivo/englivo-backend/pkg/ratelimit"
	"github.com/spf13/cobra"
)

var serveCmd = cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  "Runs the REST + WebSocket API; with RUN_WORKERS=true the analysis worker and session sweeper run in-process",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(&serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger.Info("Starting Englivo Backend", "port", cfg.Port, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WebSocket Hub 초기화 및 시작
	hub := websocket.NewHub(a.presence, logger.Named("ws"))
	go hub.Run(ctx)

	// 다른 인스턴스에서 성사된 매칭도 이 인스턴스의 연결로 전달
	go func() {
		if err := a.events.Subscribe(ctx, hub.HandleMatchEvent); err != nil {
			logger.Error("Match event subscriber exited", "error", err)
		}
	}()

	matchmaking := service.NewMatchmakingService(
		a.waitQueue, a.presence, a.users, a.sessionService, a.events,
		cfg.MatchTimeout, logger.Named("matchmaking"),
	)
	structured := service.NewTieredMatchmakingService(
		a.waitQueue, a.presence, a.users, a.sessionService, a.events,
		cfg.StructuredWindow, cfg.StructuredPoll, logger.Named("structured"),
	)

	limiter := ratelimit.NewRedisRateLimiter(a.redis, ratelimit.RedisRateLimiterConfig{
		DefaultLimit:  cfg.StatusRateLimit,
		DefaultWindow: cfg.StatusRateWindow,
	})

	router, err := api.SetupRouter(cfg, api.Dependencies{
		Matchmaking: matchmaking,
		Structured:  structured,
		Sessions:    a.sessionService,
		Hub:         hub,
		RateLimiter: limiter,
		Checks: map[string]handlers.Checker{
			"postgres": a.db.PingContext,
			"redis":    func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set up router: %w", err)
	}

	if cfg.RunWorkers {
		worker, sweeper := a.backgroundServices()
		worker.Start()
		defer worker.Stop()
		sweeper.Start()
		defer sweeper.Stop()
	}

	// 구조화 매칭 요청은 탐색 시간 동안 응답을 붙잡으므로 쓰기 타임아웃을 그보다 길게
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.StructuredWindow + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited")
	return nil
}

// waitForSignal SIGINT/SIGTERM 대기
func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
