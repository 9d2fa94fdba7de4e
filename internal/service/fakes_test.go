package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/englivo/englivo-backend/internal/models"
	"github.com/englivo/englivo-backend/pkg/distributed"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var errBackendDown = errors.New("backend down")

// testClock 수동으로 진행하는 시계
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Wait 실제로 잠들지 않고 시계만 진행
func (c *testClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, client
}

// fakeUserStore 외부 ID "x" -> 내부 ID "int-x"
type fakeUserStore struct {
	mu       sync.Mutex
	profiles map[string]*models.UserProfile
	blocks   map[string]map[string]bool
	err      error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		profiles: make(map[string]*models.UserProfile),
		blocks:   make(map[string]map[string]bool),
	}
}

func (f *fakeUserStore) add(profiles ...*models.UserProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range profiles {
		if p.ID == "" {
			p.ID = "int-" + p.ExternalID
		}
		f.profiles[p.ExternalID] = p
	}
}

func (f *fakeUserStore) addUsers(ids ...string) {
	for _, id := range ids {
		f.add(&models.UserProfile{ExternalID: id, SkillLevel: "B1"})
	}
}

func (f *fakeUserStore) block(blocker, blocked string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocks[blocker] == nil {
		f.blocks[blocker] = make(map[string]bool)
	}
	f.blocks[blocker][blocked] = true
}

func (f *fakeUserStore) FindProfile(ctx context.Context, externalID string) (*models.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[externalID]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (f *fakeUserStore) FindProfiles(ctx context.Context, externalIDs []string) (map[string]*models.UserProfile, error) {
	result := make(map[string]*models.UserProfile, len(externalIDs))
	for _, id := range externalIDs {
		p, err := f.FindProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			result[id] = p
		}
	}
	return result, nil
}

func (f *fakeUserStore) BlockedUserIDs(ctx context.Context, externalID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	result := make(map[string]bool)
	for id := range f.blocks[externalID] {
		result[id] = true
	}
	for blocker, blocked := range f.blocks {
		if blocked[externalID] {
			result[blocker] = true
		}
	}
	return result, nil
}

func (f *fakeUserStore) ResolveInternalIDs(ctx context.Context, externalIDs []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	result := make(map[string]string, len(externalIDs))
	for _, id := range externalIDs {
		if p, ok := f.profiles[id]; ok {
			result[id] = p.ID
		}
	}
	return result, nil
}

// fakeSessionStore 메모리 세션 저장소
type fakeSessionStore struct {
	mu           sync.Mutex
	sessions     map[string]*models.ConversationSession
	participants map[string][]models.SessionParticipant
	statusLog    []models.SessionStatus
	createErr    error
	updateErr    map[models.SessionStatus]error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions:     make(map[string]*models.ConversationSession),
		participants: make(map[string][]models.SessionParticipant),
		updateErr:    make(map[models.SessionStatus]error),
	}
}

func (f *fakeSessionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSessionStore) status(id string) models.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s.Status
	}
	return ""
}

func (f *fakeSessionStore) put(session *models.ConversationSession, participants ...models.SessionParticipant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	f.participants[session.ID] = participants
}

func (f *fakeSessionStore) CreateWithParticipants(ctx context.Context, session *models.ConversationSession, participants []models.SessionParticipant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copied := *session
	f.sessions[session.ID] = &copied
	f.participants[session.ID] = append([]models.SessionParticipant(nil), participants...)
	return nil
}

func (f *fakeSessionStore) FindByID(ctx context.Context, id string) (*models.ConversationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionStore) FindParticipants(ctx context.Context, sessionID string) ([]models.SessionParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SessionParticipant(nil), f.participants[sessionID]...), nil
}

func (f *fakeSessionStore) RecordHeartbeat(ctx context.Context, sessionID, userID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ps := f.participants[sessionID]
	for i := range ps {
		if ps[i].UserID != userID {
			continue
		}
		ts := at
		ps[i].LastHeartbeat = &ts
		if s := f.sessions[sessionID]; s != nil && s.Status == models.SessionStatusCreated {
			s.Status = models.SessionStatusInProgress
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeSessionStore) BeginProcessing(ctx context.Context, params BeginProcessingParams) (models.SessionStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[params.SessionID]
	if !ok {
		return "", false, nil
	}

	switch s.Status {
	case models.SessionStatusCreated, models.SessionStatusInProgress, models.SessionStatusAbandoned:
	default:
		return s.Status, false, nil
	}

	prev := s.Status
	s.Status = models.SessionStatusProcessing
	endedAt := params.EndedAt
	duration := params.Duration
	s.EndedAt = &endedAt
	s.Duration = &duration
	if params.Transcript != "" {
		transcript := params.Transcript
		s.Transcript = &transcript
	}

	ps := f.participants[params.SessionID]
	for i := range ps {
		if url, ok := params.AudioURLs[ps[i].UserID]; ok {
			u := url
			ps[i].AudioURL = &u
		}
	}

	return prev, true, nil
}

func (f *fakeSessionStore) RevertProcessing(ctx context.Context, sessionID string, prev models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok && s.Status == models.SessionStatusProcessing {
		s.Status = prev
		s.EndedAt = nil
		s.Duration = nil
	}
	return nil
}

func (f *fakeSessionStore) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[status]; err != nil {
		return err
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.Status = status
	f.statusLog = append(f.statusLog, status)
	return nil
}

func (f *fakeSessionStore) MarkAbandoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []string
	for id, s := range f.sessions {
		if s.Status != models.SessionStatusCreated && s.Status != models.SessionStatusInProgress {
			continue
		}
		last := s.StartedAt
		for _, p := range f.participants[id] {
			if p.LastHeartbeat != nil && p.LastHeartbeat.After(last) {
				last = *p.LastHeartbeat
			}
		}
		if last.Before(cutoff) {
			s.Status = models.SessionStatusAbandoned
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// fakeJobQueue 세션 ID로 중복 제거
type fakeJobQueue struct {
	mu   sync.Mutex
	jobs []*models.ProcessingJob
	err  error
}

func (f *fakeJobQueue) Enqueue(ctx context.Context, job *models.ProcessingJob) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, j := range f.jobs {
		if j.SessionID == job.SessionID {
			return false, nil
		}
	}
	f.jobs = append(f.jobs, job)
	return true, nil
}

func (f *fakeJobQueue) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeAnalysisStore struct {
	mu       sync.Mutex
	analyses map[string]*models.Analysis // participantID -> analysis
	err      error
}

func newFakeAnalysisStore() *fakeAnalysisStore {
	return &fakeAnalysisStore{analyses: make(map[string]*models.Analysis)}
}

func (f *fakeAnalysisStore) Upsert(ctx context.Context, analysis *models.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.analyses[analysis.ParticipantID] = analysis
	return nil
}

// fakeTranscriber texts가 nil이면 "transcript of <userID>"를 반환
type fakeTranscriber struct {
	calls int32
	err   error
	texts map[string]string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req models.TranscriptionRequest) (*models.Transcription, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	text := "transcript of " + req.UserID
	if f.texts != nil {
		text = f.texts[req.UserID]
	}
	return &models.Transcription{Text: text, Confidence: 0.9}, nil
}

type fakeAnalyzer struct {
	calls      int32
	err        error
	mu         sync.Mutex
	references map[string]string
}

func (f *fakeAnalyzer) AnalyzeAudio(ctx context.Context, req models.AudioAnalysisRequest) (*models.AudioAnalysis, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	if f.references == nil {
		f.references = make(map[string]string)
	}
	f.references[req.UserID] = req.ReferenceText
	f.mu.Unlock()

	return &models.AudioAnalysis{
		AccuracyScore:      80,
		FluencyScore:       72,
		PronunciationScore: 81,
	}, nil
}

type fakeComposer struct {
	calls int32
	err   error
	mu    sync.Mutex
	texts map[string]string
}

func (f *fakeComposer) ComposeFeedback(ctx context.Context, req models.FeedbackRequest) (*models.Feedback, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}

	f.mu.Lock()
	if f.texts == nil {
		f.texts = make(map[string]string)
	}
	f.texts[req.UserID] = req.Text
	f.mu.Unlock()

	return &models.Feedback{
		CEFRLevel: "B1",
		Mistakes: []models.Mistake{{
			Type:      "grammar",
			Severity:  "minor",
			Original:  "I goes",
			Corrected: "I go",
		}},
		GrammarScore:    65,
		VocabularyScore: 70,
		FluencyScore:    60,
		OverallScore:    68,
		Summary:         "Good effort.",
	}, nil
}

// recordingNotifier 푸시 알림 기록
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifyMatch(ctx context.Context, userID, partnerID, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, userID+":"+partnerID+":"+sessionID)
}

// matchHarness 실제 Redis 대기열 + 메모리 저장소로 구성한 매칭 환경
type matchHarness struct {
	mr       *miniredis.Miniredis
	queue    *distributed.RedisWaitQueue
	presence *distributed.RedisPresence
	users    *fakeUserStore
	store    *fakeSessionStore
	jobs     *fakeJobQueue
	sessions *SessionService
	notifier *recordingNotifier
	clock    *testClock
}

func newMatchHarness(t *testing.T) *matchHarness {
	t.Helper()

	mr, client := setupRedis(t)
	h := &matchHarness{
		mr:       mr,
		queue:    distributed.NewRedisWaitQueue(client),
		presence: distributed.NewRedisPresence(client, 90*time.Second),
		users:    newFakeUserStore(),
		store:    newFakeSessionStore(),
		jobs:     &fakeJobQueue{},
		notifier: &recordingNotifier{},
		clock:    newTestClock(),
	}
	h.sessions = NewSessionService(h.store, h.users, h.jobs, zap.NewNop())
	h.sessions.SetClock(h.clock.Now)
	return h
}

func (h *matchHarness) matchmaking() *MatchmakingService {
	s := NewMatchmakingService(h.queue, h.presence, h.users, h.sessions, h.notifier, 60*time.Second, zap.NewNop())
	s.SetClock(h.clock.Now)
	return s
}

func (h *matchHarness) tiered() *TieredMatchmakingService {
	s := NewTieredMatchmakingService(h.queue, h.presence, h.users, h.sessions, h.notifier, 45*time.Second, time.Second, zap.NewNop())
	s.SetClock(h.clock.Now, h.clock.Wait)
	return s
}
