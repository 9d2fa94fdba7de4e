package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	endpointTranscribe    = "transcribe"
	endpointPronunciation = "pronunciation"
	endpointAnalyze       = "analyze"

	apiKeyHeader = "X-API-Key"
)

// ErrUnavailable AI 백엔드 장애 (회로 열림 포함), 재시도 대상
var ErrUnavailable = errors.New("ai backend unavailable")

// Config AI 백엔드 클라이언트 설정
type Config struct {
	BaseURL          string        // 예: http://localhost:8001/api
	APIKey           string        // 비어 있으면 헤더를 보내지 않음
	Timeout          time.Duration // 요청당 타임아웃
	FailureThreshold uint32        // 연속 실패 횟수가 이 값에 도달하면 회로 개방
	OpenTimeout      time.Duration // 회로가 열린 뒤 half-open까지 대기
}

// Client AudioTranscriber + AudioAnalyzer + FeedbackComposer HTTP 구현
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
}

// NewClient AI 백엔드 클라이언트 생성
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "ai-backend",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// 4xx는 백엔드 장애가 아님
		IsSuccessful: func(err error) bool {
			var re *ResponseError
			return err == nil || (errors.As(err, &re) && re.StatusCode < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("AI backend circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return c
}

// ResponseError AI 백엔드가 success=false 또는 비정상 상태 코드를 반환한 경우
type ResponseError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ai backend error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ai backend error %d: %s", e.StatusCode, e.Message)
}

// envelope {success, data, error, meta}
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta *struct {
		ProcessingTimeMs int    `json:"processing_time_ms"`
		RequestID        string `json:"request_id"`
	} `json:"meta"`
}

type transcriptionResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

type pronunciationResponse struct {
	AccuracyScore      float64 `json:"accuracy_score"`
	FluencyScore       float64 `json:"fluency_score"`
	CompletenessScore  float64 `json:"completeness_score"`
	PronunciationScore float64 `json:"pronunciation_score"`
}

type analyzeResponse struct {
	CEFRAssessment struct {
		Level string  `json:"level"`
		Score float64 `json:"score"`
	} `json:"cefr_assessment"`
	Errors []struct {
		Type          string `json:"type"`
		Severity      string `json:"severity"`
		OriginalText  string `json:"original_text"`
		CorrectedText string `json:"corrected_text"`
		Explanation   string `json:"explanation"`
	} `json:"errors"`
	Metrics struct {
		WPM                float64 `json:"wpm"`
		GrammarScore       float64 `json:"grammar_score"`
		PronunciationScore float64 `json:"pronunciation_score"`
		FluencyScore       float64 `json:"fluency_score"`
		VocabularyScore    float64 `json:"vocabulary_score"`
		OverallScore       float64 `json:"overall_score"`
	} `json:"metrics"`
	Feedback string `json:"feedback"`
}

// Transcribe POST /transcribe
func (c *Client) Transcribe(ctx context.Context, req models.TranscriptionRequest) (*models.Transcription, error) {
	var resp transcriptionResponse
	if err := c.call(ctx, endpointTranscribe, req, &resp); err != nil {
		return nil, err
	}

	return &models.Transcription{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Duration:   resp.Duration,
	}, nil
}

// AnalyzeAudio POST /pronunciation
func (c *Client) AnalyzeAudio(ctx context.Context, req models.AudioAnalysisRequest) (*models.AudioAnalysis, error) {
	var resp pronunciationResponse
	if err := c.call(ctx, endpointPronunciation, req, &resp); err != nil {
		return nil, err
	}

	return &models.AudioAnalysis{
		AccuracyScore:      resp.AccuracyScore,
		FluencyScore:       resp.FluencyScore,
		CompletenessScore:  resp.CompletenessScore,
		PronunciationScore: resp.PronunciationScore,
	}, nil
}

// ComposeFeedback POST /analyze
func (c *Client) ComposeFeedback(ctx context.Context, req models.FeedbackRequest) (*models.Feedback, error) {
	var resp analyzeResponse
	if err := c.call(ctx, endpointAnalyze, req, &resp); err != nil {
		return nil, err
	}

	mistakes := make([]models.Mistake, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		mistakes = append(mistakes, models.Mistake{
			Type:        e.Type,
			Severity:    e.Severity,
			Original:    e.OriginalText,
			Corrected:   e.CorrectedText,
			Explanation: e.Explanation,
		})
	}

	return &models.Feedback{
		CEFRLevel:          resp.CEFRAssessment.Level,
		Mistakes:           mistakes,
		WordsPerMinute:     resp.Metrics.WPM,
		GrammarScore:       resp.Metrics.GrammarScore,
		PronunciationScore: resp.Metrics.PronunciationScore,
		FluencyScore:       resp.Metrics.FluencyScore,
		VocabularyScore:    resp.Metrics.VocabularyScore,
		OverallScore:       resp.Metrics.OverallScore,
		Summary:            resp.Feedback,
	}, nil
}

func (c *Client) call(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.post(ctx, endpoint, payload)
	})
	if err != nil {
		metrics.AIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		metrics.AIRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	metrics.AIRequestsTotal.WithLabelValues(endpoint, "success").Inc()
	return nil
}

// post 요청을 보내고 envelope의 data를 반환
func (c *Client) post(ctx context.Context, endpoint string, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &ResponseError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("invalid %s envelope: %w", endpoint, err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		re := &ResponseError{StatusCode: resp.StatusCode, Message: "request failed"}
		if env.Error != nil {
			re.Code = env.Error.Code
			re.Message = env.Error.Message
		}
		return nil, re
	}

	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.Duration("elapsed", time.Since(start)),
	}
	if env.Meta != nil {
		fields = append(fields, zap.String("requestId", env.Meta.RequestID))
	}
	c.logger.Debug("AI backend call succeeded", fields...)

	return env.Data, nil
}
