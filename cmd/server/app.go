package main

import (
	"context"
	"fmt"
	"time"

	"github.com/englivo/englivo-backend/internal/config"
	"github.com/englivo/englivo-backend/internal/repository"
	"github.com/englivo/englivo-backend/internal/service"
	"github.com/englivo/englivo-backend/pkg/aiclient"
	"github.com/englivo/englivo-backend/pkg/database"
	"github.com/englivo/englivo-backend/pkg/distributed"
	"github.com/englivo/englivo-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// app 명령들이 공유하는 연결과 컴포넌트
type app struct {
	cfg   *config.Config
	db    *database.DB
	redis *redis.Client

	waitQueue *distributed.RedisWaitQueue
	presence  *distributed.RedisPresence
	jobQueue  *distributed.RedisJobQueue
	locks     *distributed.RedisLockManager
	events    *distributed.MatchEventBus

	users    *repository.UserRepository
	sessions *repository.SessionRepository
	analyses *repository.AnalysisRepository

	sessionService *service.SessionService
}

// newApp 설정 로드, 로거 초기화, Postgres/Redis 연결
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.Env)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := connectRedis(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		redis:     redisClient,
		waitQueue: distributed.NewRedisWaitQueue(redisClient),
		presence:  distributed.NewRedisPresence(redisClient, cfg.PresenceTTL),
		jobQueue: distributed.NewRedisJobQueue(redisClient, distributed.JobQueueConfig{
			Name:        cfg.JobQueueName,
			MaxAttempts: cfg.JobMaxAttempts,
			BackoffBase: cfg.JobBackoffBase,
		}),
		locks:    distributed.NewRedisLockManager(redisClient),
		events:   distributed.NewMatchEventBus(redisClient, logger.Named("events")),
		users:    repository.NewUserRepository(db),
		sessions: repository.NewSessionRepository(db),
		analyses: repository.NewAnalysisRepository(db),
	}
	a.sessionService = service.NewSessionService(a.sessions, a.users, a.jobQueue, logger.Named("sessions"))

	return a, nil
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// backgroundServices 분석 워커와 세션 스위퍼
func (a *app) backgroundServices() (*service.JobWorker, *service.AbandonSweeper) {
	ai := aiclient.NewClient(aiclient.Config{
		BaseURL: a.cfg.AIServiceURL,
		APIKey:  a.cfg.AIServiceAPIKey,
		Timeout: a.cfg.AIRequestTimeout,
	}, logger.Named("aiclient"))

	processor := service.NewSessionProcessor(a.sessions, a.analyses, ai, ai, ai, logger.Named("processor"))

	worker := service.NewJobWorker(a.jobQueue, processor, service.JobWorkerConfig{
		Workers:      a.cfg.JobWorkers,
		PollInterval: a.cfg.JobPollInterval,
		StaleTimeout: a.cfg.JobStaleTimeout,
	}, logger.Named("worker"))

	sweeper := service.NewAbandonSweeper(a.sessions, a.locks,
		a.cfg.SweepInterval, a.cfg.AbandonThreshold, logger.Named("sweeper"))

	return worker, sweeper
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		logger.Warn("Failed to close redis", "error", err)
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("Failed to close database", "error", err)
	}
	logger.Sync()
}
