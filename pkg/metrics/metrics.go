package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 매칭/세션/작업 파이프라인 Prometheus 지표
var (
	QueueJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "englivo_queue_joins_total",
		Help: "Total number of matchmaking queue joins by skill level",
	}, []string{"level"})

	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "englivo_matches_total",
		Help: "Total number of matches created by matcher mode",
	}, []string{"mode"})

	MatchTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "englivo_match_timeouts_total",
		Help: "Total number of searches that ended without a partner",
	}, []string{"mode"})

	RaceLossesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "englivo_match_race_losses_total",
		Help: "Total number of pairing attempts compensated after a concurrent claim",
	})

	GhostEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "englivo_ghost_evictions_total",
		Help: "Total number of offline queue entries evicted during scans",
	})

	MatchWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "englivo_match_wait_seconds",
		Help:    "Time between queue join and match",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 45, 60},
	}, []string{"mode"})

	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "englivo_sessions_started_total",
		Help: "Total number of conversation sessions created",
	})

	SessionsAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "englivo_sessions_abandoned_total",
		Help: "Total number of sessions flipped to ABANDONED by the sweeper",
	})

	JobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "englivo_jobs_enqueued_total",
		Help: "Total number of analysis jobs enqueued",
	})

	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "englivo_jobs_processed_total",
		Help: "Total number of analysis job runs by outcome",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "englivo_job_duration_seconds",
		Help:    "Analysis job processing time",
		Buckets: prometheus.DefBuckets,
	})

	AIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "englivo_ai_requests_total",
		Help: "Total number of AI backend requests by endpoint and result",
	}, []string{"endpoint", "result"})
)

// 작업 처리 결과 라벨
const (
	OutcomeCompleted  = "completed"
	OutcomeRetried    = "retried"
	OutcomeDeadLetter = "dead_lettered"
)
