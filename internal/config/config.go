package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT (외부에서 발급된 토큰 검증용, 비어 있으면 인증 비활성)
	JWTSecret     string
	JWTExpiration time.Duration

	// CORS
	CORSAllowedOrigins []string

	// AI backend (AudioTranscriber / AudioAnalyzer / FeedbackComposer)
	AIServiceURL     string
	AIServiceAPIKey  string
	AIRequestTimeout time.Duration

	// Matchmaking
	MatchTimeout     time.Duration // 기본 매칭 대기 한도
	StructuredWindow time.Duration // 구조화 매칭 전체 탐색 시간
	StructuredPoll   time.Duration
	PresenceTTL      time.Duration
	StatusRateLimit  int
	StatusRateWindow time.Duration

	// Sessions
	AbandonThreshold time.Duration
	SweepInterval    time.Duration

	// Job queue
	JobQueueName    string
	JobMaxAttempts  int
	JobBackoffBase  time.Duration
	JobWorkers      int
	JobPollInterval time.Duration
	JobStaleTimeout time.Duration

	// serve 명령에서 워커/스위퍼를 함께 실행할지 여부
	RunWorkers bool
}

func Load() (*Config, error) {
	// .env 파일 로드 (있는 경우)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTExpiration:      parseDuration(getEnv("JWT_EXPIRATION", "24h"), 24*time.Hour),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),

		AIServiceURL:     getEnv("AI_SERVICE_URL", "http://localhost:8001/api"),
		AIServiceAPIKey:  getEnv("AI_SERVICE_API_KEY", ""),
		AIRequestTimeout: parseDuration(getEnv("AI_REQUEST_TIMEOUT", "60s"), 60*time.Second),

		MatchTimeout:     parseDuration(getEnv("MATCH_TIMEOUT", "60s"), 60*time.Second),
		StructuredWindow: parseDuration(getEnv("STRUCTURED_MATCH_WINDOW", "45s"), 45*time.Second),
		StructuredPoll:   parseDuration(getEnv("STRUCTURED_MATCH_POLL", "1s"), time.Second),
		PresenceTTL:      parseDuration(getEnv("PRESENCE_TTL", "90s"), 90*time.Second),
		StatusRateLimit:  getEnvInt("STATUS_RATE_LIMIT", 120),
		StatusRateWindow: parseDuration(getEnv("STATUS_RATE_WINDOW", "1m"), time.Minute),

		AbandonThreshold: parseDuration(getEnv("SESSION_ABANDON_THRESHOLD", "10m"), 10*time.Minute),
		SweepInterval:    parseDuration(getEnv("SESSION_SWEEP_INTERVAL", "1m"), time.Minute),

		JobQueueName:    getEnv("JOB_QUEUE_NAME", "session-analysis"),
		JobMaxAttempts:  getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:  parseDuration(getEnv("JOB_BACKOFF_BASE", "2s"), 2*time.Second),
		JobWorkers:      getEnvInt("JOB_WORKERS", 4),
		JobPollInterval: parseDuration(getEnv("JOB_POLL_INTERVAL", "500ms"), 500*time.Millisecond),
		JobStaleTimeout: parseDuration(getEnv("JOB_STALE_TIMEOUT", "5m"), 5*time.Minute),

		RunWorkers: getEnvBool("RUN_WORKERS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 필수 설정 및 값 범위 확인
func (c *Config) Validate() error {
	if c.JobMaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be >= 1, got %d", c.JobMaxAttempts)
	}
	if c.JobWorkers < 1 {
		return fmt.Errorf("JOB_WORKERS must be >= 1, got %d", c.JobWorkers)
	}
	if c.StructuredPoll <= 0 || c.StructuredWindow <= 0 || c.MatchTimeout <= 0 {
		return fmt.Errorf("matchmaking durations must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
