package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const silentSessionFeedback = "No speech was detected in this session."

// SessionProcessor 분석 작업 소비자
// 같은 작업이 여러 번 전달될 수 있으므로 처리 전에 세션 상태를 다시 확인한다.
type SessionProcessor struct {
	sessions    SessionStore
	analyses    AnalysisStore
	transcriber AudioTranscriber
	analyzer    AudioAnalyzer
	composer    FeedbackComposer
	logger      *zap.Logger
	now         func() time.Time
}

func NewSessionProcessor(
	sessions SessionStore,
	analyses AnalysisStore,
	transcriber AudioTranscriber,
	analyzer AudioAnalyzer,
	composer FeedbackComposer,
	logger *zap.Logger,
) *SessionProcessor {
	return &SessionProcessor{
		sessions:    sessions,
		analyses:    analyses,
		transcriber: transcriber,
		analyzer:    analyzer,
		composer:    composer,
		logger:      logger,
		now:         time.Now,
	}
}

// Process 작업 하나 처리
// 실패하면 세션을 ANALYSIS_FAILED로 표시하고(실패해도 무시) 에러를 반환해 큐가 재시도하게 한다.
func (p *SessionProcessor) Process(ctx context.Context, job *models.ProcessingJob) error {
	session, err := p.sessions.FindByID(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, job.SessionID)
	}
	if session.Status == models.SessionStatusCompleted {
		p.logger.Info("Session already completed, skipping", zap.String("sessionId", session.ID))
		return nil
	}

	if err := p.run(ctx, session, job); err != nil {
		if markErr := p.sessions.UpdateStatus(context.WithoutCancel(ctx), session.ID, models.SessionStatusAnalysisFailed); markErr != nil {
			p.logger.Warn("Failed to mark session as analysis failed",
				zap.String("sessionId", session.ID),
				zap.Error(markErr))
		}
		return err
	}

	return nil
}

func (p *SessionProcessor) run(ctx context.Context, session *models.ConversationSession, job *models.ProcessingJob) error {
	if session.Status != models.SessionStatusProcessing {
		if err := p.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusProcessing); err != nil {
			return fmt.Errorf("failed to set processing: %w", err)
		}
	}

	participants, err := p.sessions.FindParticipants(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	if len(participants) == 0 {
		return fmt.Errorf("%w: session %s has no participants", ErrParticipantNotFound, session.ID)
	}

	recordings := recordingURLs(participants, job)

	// 참가자별 녹음 전사 (userID -> text)
	spoken, err := p.transcribeAll(ctx, session, participants, recordings)
	if err != nil {
		return err
	}

	combined := strings.TrimSpace(job.Transcript)
	if combined == "" && session.Transcript != nil {
		combined = strings.TrimSpace(*session.Transcript)
	}
	if combined == "" {
		combined = joinSpoken(participants, spoken)
	}

	var analyses []*models.Analysis
	if combined == "" {
		analyses = p.silentAnalyses(session, participants)
	} else {
		analyses, err = p.analyzeAll(ctx, session, participants, recordings, spoken, combined)
		if err != nil {
			return err
		}
	}

	for _, a := range analyses {
		if err := p.analyses.Upsert(ctx, a); err != nil {
			return fmt.Errorf("failed to save analysis: %w", err)
		}
	}

	if err := p.sessions.UpdateStatus(ctx, session.ID, models.SessionStatusCompleted); err != nil {
		return fmt.Errorf("failed to set completed: %w", err)
	}

	p.logger.Info("Session analysis completed",
		zap.String("sessionId", session.ID),
		zap.Int("analyses", len(analyses)))

	return nil
}

// silentAnalyses 전사도 녹음 전사도 비어 있으면 분석 호출 없이 0점 결과를 참가자마다 생성
func (p *SessionProcessor) silentAnalyses(session *models.ConversationSession, participants []models.SessionParticipant) []*models.Analysis {
	analyses := make([]*models.Analysis, 0, len(participants))
	for _, participant := range participants {
		a := p.newAnalysis(session, participant)
		a.Feedback = silentSessionFeedback
		analyses = append(analyses, a)
	}
	return analyses
}

// recordingURLs 참가자별 녹음 URL, end 요청 값이 저장된 값보다 우선
func recordingURLs(participants []models.SessionParticipant, job *models.ProcessingJob) map[string]string {
	urls := make(map[string]string, len(participants))
	for _, participant := range participants {
		url := strings.TrimSpace(job.AudioURLs[participant.UserID])
		if url == "" && participant.AudioURL != nil {
			url = strings.TrimSpace(*participant.AudioURL)
		}
		if url != "" {
			urls[participant.UserID] = url
		}
	}
	return urls
}

// transcribeAll 녹음이 있는 참가자마다 AudioTranscriber를 병렬 호출
func (p *SessionProcessor) transcribeAll(
	ctx context.Context,
	session *models.ConversationSession,
	participants []models.SessionParticipant,
	recordings map[string]string,
) (map[string]string, error) {
	texts := make([]string, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	for i, participant := range participants {
		url, ok := recordings[participant.UserID]
		if !ok {
			continue
		}

		g.Go(func() error {
			result, err := p.transcriber.Transcribe(gctx, models.TranscriptionRequest{
				AudioURL:  url,
				UserID:    participant.UserID,
				SessionID: session.ID,
			})
			if err != nil {
				return fmt.Errorf("participant %s: transcription: %w", participant.ID, err)
			}
			texts[i] = strings.TrimSpace(result.Text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	spoken := make(map[string]string, len(participants))
	for i, participant := range participants {
		if texts[i] != "" {
			spoken[participant.UserID] = texts[i]
		}
	}
	return spoken, nil
}

// joinSpoken 참가자 순서대로 녹음 전사를 이어 붙임
func joinSpoken(participants []models.SessionParticipant, spoken map[string]string) string {
	parts := make([]string, 0, len(spoken))
	for _, participant := range participants {
		if text := spoken[participant.UserID]; text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// analyzeAll 참가자별 AudioAnalyzer + FeedbackComposer 호출을 병렬로 수행
func (p *SessionProcessor) analyzeAll(
	ctx context.Context,
	session *models.ConversationSession,
	participants []models.SessionParticipant,
	recordings map[string]string,
	spoken map[string]string,
	combined string,
) ([]*models.Analysis, error) {
	results := make([]*models.Analysis, len(participants))

	g, gctx := errgroup.WithContext(ctx)
	for i, participant := range participants {
		text := spoken[participant.UserID]
		if text == "" {
			text = combined
		}
		audioURL := recordings[participant.UserID]

		g.Go(func() error {
			a, err := p.analyzeParticipant(gctx, session, participant, audioURL, text)
			if err != nil {
				return fmt.Errorf("participant %s: %w", participant.ID, err)
			}
			results[i] = a
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// analyzeParticipant text는 본인 녹음 전사, 없으면 세션 전체 전사
func (p *SessionProcessor) analyzeParticipant(
	ctx context.Context,
	session *models.ConversationSession,
	participant models.SessionParticipant,
	audioURL, text string,
) (*models.Analysis, error) {
	a := p.newAnalysis(session, participant)
	a.Transcript = text

	if audioURL != "" {
		audio, err := p.analyzer.AnalyzeAudio(ctx, models.AudioAnalysisRequest{
			AudioURL:      audioURL,
			ReferenceText: text,
			UserID:        participant.UserID,
		})
		if err != nil {
			return nil, fmt.Errorf("audio analysis: %w", err)
		}
		a.FluencyScore = audio.FluencyScore
		a.PronunciationScore = audio.PronunciationScore
	}

	feedback, err := p.composer.ComposeFeedback(ctx, models.FeedbackRequest{
		Text:      text,
		UserID:    participant.UserID,
		SessionID: session.ID,
		Context:   session.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}

	a.GrammarScore = feedback.GrammarScore
	a.VocabularyScore = feedback.VocabularyScore
	a.OverallScore = feedback.OverallScore
	a.CEFRLevel = feedback.CEFRLevel
	a.Feedback = feedback.Summary
	if feedback.Mistakes != nil {
		a.Mistakes = feedback.Mistakes
	}
	if a.FluencyScore == 0 {
		a.FluencyScore = feedback.FluencyScore
	}
	if a.PronunciationScore == 0 {
		a.PronunciationScore = feedback.PronunciationScore
	}

	return a, nil
}

func (p *SessionProcessor) newAnalysis(session *models.ConversationSession, participant models.SessionParticipant) *models.Analysis {
	return &models.Analysis{
		ID:            uuid.New().String(),
		SessionID:     session.ID,
		ParticipantID: participant.ID,
		UserID:        participant.UserID,
		Mistakes:      []models.Mistake{},
		CreatedAt:     p.now(),
	}
}
