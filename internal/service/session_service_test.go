package service

import (
	"context"
	"testing"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSessionFixture(t *testing.T) (*SessionService, *fakeSessionStore, *fakeJobQueue, *testClock) {
	t.Helper()

	users := newFakeUserStore()
	users.addUsers("alice", "bob")
	store := newFakeSessionStore()
	jobs := &fakeJobQueue{}
	clock := newTestClock()

	svc := NewSessionService(store, users, jobs, zap.NewNop())
	svc.SetClock(clock.Now)
	return svc, store, jobs, clock
}

func startSession(t *testing.T, svc *SessionService) *models.ConversationSession {
	t.Helper()

	session, err := svc.Start(context.Background(), models.StartSessionRequest{
		MatchID:           "match-1",
		Participants:      []string{"alice", "bob"},
		Topic:             "travel",
		EstimatedDuration: 300,
	})
	require.NoError(t, err)
	return session
}

func TestSessionService_Start(t *testing.T) {
	svc, store, _, clock := newSessionFixture(t)

	session := startSession(t, svc)
	assert.Equal(t, models.SessionStatusCreated, session.Status)
	assert.Equal(t, "travel", session.Topic)
	assert.Equal(t, 300, session.EstimatedDuration)
	require.NotNil(t, session.MatchID)
	assert.Equal(t, "match-1", *session.MatchID)
	assert.True(t, clock.Now().Equal(session.StartedAt))

	require.Len(t, session.Participants, 2)
	assert.Equal(t, "int-alice", session.Participants[0].UserID)
	assert.Equal(t, "int-bob", session.Participants[1].UserID)
	assert.Equal(t, models.SessionStatusCreated, store.status(session.ID))

	t.Run("검증 실패", func(t *testing.T) {
		ctx := context.Background()
		cases := []models.StartSessionRequest{
			{Participants: []string{"alice"}, Topic: " "},
			{Participants: nil, Topic: "travel"},
			{Participants: []string{"alice"}, Topic: "travel", EstimatedDuration: -1},
			{Participants: []string{"alice", ""}, Topic: "travel"},
		}
		for _, req := range cases {
			_, err := svc.Start(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, KindValidation, KindOf(err))
		}

		_, err := svc.Start(ctx, models.StartSessionRequest{Participants: []string{"alice", "alice"}, Topic: "travel"})
		assert.ErrorIs(t, err, ErrDuplicateParticipant)

		_, err = svc.Start(ctx, models.StartSessionRequest{Participants: []string{"alice", "stranger"}, Topic: "travel"})
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestSessionService_Heartbeat(t *testing.T) {
	svc, store, _, clock := newSessionFixture(t)
	ctx := context.Background()
	session := startSession(t, svc)

	clock.Advance(10 * time.Second)
	require.NoError(t, svc.Heartbeat(ctx, session.ID, "alice"))
	assert.Equal(t, models.SessionStatusInProgress, store.status(session.ID))

	// 중복 heartbeat도 안전
	require.NoError(t, svc.Heartbeat(ctx, session.ID, "alice"))
	require.NoError(t, svc.Heartbeat(ctx, session.ID, "bob"))
	assert.Equal(t, models.SessionStatusInProgress, store.status(session.ID))

	participants, err := store.FindParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, participants[0].LastHeartbeat)
	assert.True(t, clock.Now().Equal(*participants[0].LastHeartbeat))

	t.Run("참가자가 아니면 NotFound", func(t *testing.T) {
		err := svc.Heartbeat(ctx, session.ID, "stranger")
		assert.ErrorIs(t, err, ErrParticipantNotFound)
		assert.Equal(t, KindNotFound, KindOf(err))

		err = svc.Heartbeat(ctx, "missing-session", "alice")
		assert.ErrorIs(t, err, ErrParticipantNotFound)
	})
}

func TestSessionService_EndIsIdempotent(t *testing.T) {
	svc, store, jobs, _ := newSessionFixture(t)
	ctx := context.Background()
	session := startSession(t, svc)

	req := models.EndSessionRequest{
		ActualDuration: 280,
		AudioURLs: map[string]string{
			"alice": "https://cdn.example.com/alice.webm",
			"bob":   "https://cdn.example.com/bob.webm",
		},
		Transcript: "Hi, how was your trip?",
	}

	first, err := svc.End(ctx, session.ID, req)
	require.NoError(t, err)
	second, err := svc.End(ctx, session.ID, req)
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusProcessing, first.Status)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, jobs.count())

	job := jobs.jobs[0]
	assert.Equal(t, session.ID, job.ID)
	assert.Equal(t, "https://cdn.example.com/alice.webm", job.AudioURLs["int-alice"])
	assert.Len(t, job.ParticipantIDs, 2)
	assert.Equal(t, "Hi, how was your trip?", job.Transcript)

	stored, err := store.FindByID(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Duration)
	assert.Equal(t, 280, *stored.Duration)
	require.NotNil(t, stored.EndedAt)

	participants, err := store.FindParticipants(ctx, session.ID)
	require.NoError(t, err)
	for _, p := range participants {
		assert.NotNil(t, p.AudioURL, p.UserID)
	}
}

func TestSessionService_EndReturnsFinalStatus(t *testing.T) {
	svc, store, jobs, _ := newSessionFixture(t)
	ctx := context.Background()

	for _, status := range []models.SessionStatus{models.SessionStatusCompleted, models.SessionStatusAnalysisFailed} {
		session := startSession(t, svc)
		require.NoError(t, store.UpdateStatus(ctx, session.ID, status))

		result, err := svc.End(ctx, session.ID, models.EndSessionRequest{})
		require.NoError(t, err)
		assert.Equal(t, status, result.Status)
	}
	assert.Zero(t, jobs.count())

	t.Run("ABANDONED 세션도 종료 가능", func(t *testing.T) {
		session := startSession(t, svc)
		require.NoError(t, store.UpdateStatus(ctx, session.ID, models.SessionStatusAbandoned))

		result, err := svc.End(ctx, session.ID, models.EndSessionRequest{ActualDuration: 60})
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusProcessing, result.Status)
		assert.Equal(t, 1, jobs.count())
	})

	t.Run("없는 세션", func(t *testing.T) {
		_, err := svc.End(ctx, "missing", models.EndSessionRequest{})
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestSessionService_EndRevertsWhenEnqueueFails(t *testing.T) {
	svc, store, jobs, _ := newSessionFixture(t)
	ctx := context.Background()
	session := startSession(t, svc)
	require.NoError(t, svc.Heartbeat(ctx, session.ID, "alice"))

	jobs.err = errBackendDown
	_, err := svc.End(ctx, session.ID, models.EndSessionRequest{ActualDuration: 10})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, models.SessionStatusInProgress, store.status(session.ID))

	// 재시도하면 정상 처리
	jobs.err = nil
	result, err := svc.End(ctx, session.ID, models.EndSessionRequest{ActualDuration: 10})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusProcessing, result.Status)
	assert.Equal(t, 1, jobs.count())
}

func TestSessionService_Get(t *testing.T) {
	svc, _, _, _ := newSessionFixture(t)
	session := startSession(t, svc)

	got, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Len(t, got.Participants, 2)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
