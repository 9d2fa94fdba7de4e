package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/englivo/englivo-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMatchmakingService_MailboxDelivery(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("alice", "bob")
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "alice", "B1", "travel"))
	require.NoError(t, svc.Join(ctx, "bob", "B1", "travel"))

	first, err := svc.CheckMatch(ctx, "alice", "B1")
	require.NoError(t, err)
	require.True(t, first.Matched)
	assert.Equal(t, "bob", first.PartnerID)
	assert.NotEmpty(t, first.SessionID)

	// bob은 매칭을 직접 수행하지 않았지만 mailbox로 같은 세션을 받음
	second, err := svc.CheckMatch(ctx, "bob", "B1")
	require.NoError(t, err)
	require.True(t, second.Matched)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, "alice", second.PartnerID)

	assert.Equal(t, 1, h.store.count())
	participants, err := h.store.FindParticipants(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.ElementsMatch(t, []string{"int-alice", "int-bob"}, []string{participants[0].UserID, participants[1].UserID})

	n, err := h.queue.Len(ctx, "B1")
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []string{"alice", "bob"} {
		meta, err := h.queue.GetMeta(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, meta, id)
	}

	assert.Equal(t, []string{"bob:alice:" + first.SessionID}, h.notifier.events)
}

func TestMatchmakingService_Timeout(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("alice")
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "alice", "B1", ""))

	h.clock.Advance(61 * time.Second)

	result, err := svc.CheckMatch(ctx, "alice", "B1")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, "No partner found yet. Try again?", result.Message)

	in, err := h.queue.Contains(ctx, "alice", "B1")
	require.NoError(t, err)
	assert.False(t, in)

	meta, err := h.queue.GetMeta(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

// hookedQueue 특정 사용자의 첫 GetMeta 직후에 hook 실행
type hookedQueue struct {
	WaitQueue
	userID string
	once   sync.Once
	hook   func()
}

func (q *hookedQueue) GetMeta(ctx context.Context, userID string) (*models.UserMeta, error) {
	meta, err := q.WaitQueue.GetMeta(ctx, userID)
	if userID == q.userID {
		q.once.Do(q.hook)
	}
	return meta, err
}

func TestMatchmakingService_TimeoutKeepsFreshMailbox(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("alice", "bob")
	ctx := context.Background()

	require.NoError(t, h.matchmaking().Join(ctx, "bob", "B1", "travel"))
	h.clock.Advance(59 * time.Second)
	require.NoError(t, h.matchmaking().Join(ctx, "alice", "B1", "travel"))
	h.clock.Advance(2 * time.Second)

	// bob이 메타를 읽은 직후, 시간 초과 처리 전에 alice가 bob을 가져감
	var aliceResult *models.CheckMatchResult
	queue := &hookedQueue{WaitQueue: h.queue, userID: "bob"}
	queue.hook = func() {
		var err error
		aliceResult, err = h.matchmaking().CheckMatch(ctx, "alice", "B1")
		require.NoError(t, err)
	}
	bobSvc := NewMatchmakingService(queue, h.presence, h.users, h.sessions, h.notifier, 60*time.Second, zap.NewNop())
	bobSvc.SetClock(h.clock.Now)

	bobResult, err := bobSvc.CheckMatch(ctx, "bob", "B1")
	require.NoError(t, err)

	require.NotNil(t, aliceResult)
	require.True(t, aliceResult.Matched)
	require.True(t, bobResult.Matched, "bob must receive the session alice created")
	assert.Equal(t, aliceResult.SessionID, bobResult.SessionID)
	assert.Equal(t, "alice", bobResult.PartnerID)
	assert.Equal(t, 1, h.store.count())

	meta, err := h.queue.GetMeta(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMatchmakingService_TimeoutWhileClaimPending(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("bob")
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "bob", "B1", ""))
	// 상대가 bob을 큐에서 꺼냈지만 아직 mailbox를 쓰지 않은 상태
	n, err := h.queue.Remove(ctx, "bob", "B1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	h.clock.Advance(61 * time.Second)
	result, err := svc.CheckMatch(ctx, "bob", "B1")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Empty(t, result.Message)

	meta, err := h.queue.GetMeta(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, meta, "meta must survive until the mailbox arrives")

	t.Run("유예 시간이 지나면 정리", func(t *testing.T) {
		h.clock.Advance(10 * time.Second)
		result, err := svc.CheckMatch(ctx, "bob", "B1")
		require.NoError(t, err)
		assert.False(t, result.Matched)
		assert.Equal(t, MessageNoPartner, result.Message)

		meta, err := h.queue.GetMeta(ctx, "bob")
		require.NoError(t, err)
		assert.Nil(t, meta)
	})
}

func TestMatchmakingService_WaitingAlone(t *testing.T) {
	h := newMatchHarness(t)
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "alice", "b1", ""))
	h.clock.Advance(30 * time.Second)

	result, err := svc.CheckMatch(ctx, "alice", "B1")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Empty(t, result.Message)

	t.Run("대기열에 없으면 안내 메시지", func(t *testing.T) {
		result, err := svc.CheckMatch(ctx, "nobody", "B1")
		require.NoError(t, err)
		assert.False(t, result.Matched)
		assert.Equal(t, MessageNotInQueue, result.Message)
	})

	t.Run("잘못된 레벨", func(t *testing.T) {
		_, err := svc.CheckMatch(ctx, "alice", "Z9")
		assert.ErrorIs(t, err, ErrInvalidSkillLevel)
		assert.Equal(t, KindValidation, KindOf(err))
	})
}

func TestMatchmakingService_SkipsBlockedAndEvictsGhosts(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("alice", "ghost", "blocker", "carol")
	h.users.block("blocker", "alice")
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "ghost", "B1", ""))
	require.NoError(t, svc.Join(ctx, "blocker", "B1", ""))
	require.NoError(t, svc.Join(ctx, "carol", "B1", ""))
	require.NoError(t, svc.Join(ctx, "alice", "B1", ""))
	require.NoError(t, h.presence.SetOffline(ctx, "ghost"))

	result, err := svc.CheckMatch(ctx, "alice", "B1")
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, "carol", result.PartnerID)

	members, err := h.queue.Members(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, []string{"blocker"}, members)

	ghostMeta, err := h.queue.GetMeta(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghostMeta)
}

func TestMatchmakingService_NoCrossLevelFallback(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("alice", "bob")
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "alice", "B1", ""))
	require.NoError(t, svc.Join(ctx, "bob", "B2", ""))

	result, err := svc.CheckMatch(ctx, "alice", "B1")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Zero(t, h.store.count())
}

func TestMatchmakingService_NoDoublePairing(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round-%d", i), func(t *testing.T) {
			h := newMatchHarness(t)
			h.users.addUsers("alice", "bob")
			svc := h.matchmaking()
			ctx := context.Background()

			require.NoError(t, svc.Join(ctx, "alice", "B1", ""))
			require.NoError(t, svc.Join(ctx, "bob", "B1", ""))

			var wg sync.WaitGroup
			results := make([]*models.CheckMatchResult, 2)
			errs := make([]error, 2)
			for idx, id := range []string{"alice", "bob"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					results[idx], errs[idx] = svc.CheckMatch(ctx, id, "B1")
				}()
			}
			wg.Wait()

			require.NoError(t, errs[0])
			require.NoError(t, errs[1])
			assert.Equal(t, 1, h.store.count(), "exactly one session")

			// 진 쪽은 다음 폴링에서 mailbox로 같은 세션을 받음
			var sessionID string
			for idx, id := range []string{"alice", "bob"} {
				r := results[idx]
				if !r.Matched {
					r, errs[idx] = svc.CheckMatch(ctx, id, "B1")
					require.NoError(t, errs[idx])
				}
				require.True(t, r.Matched, id)
				if sessionID == "" {
					sessionID = r.SessionID
				}
				assert.Equal(t, sessionID, r.SessionID)
			}
		})
	}
}

func TestPairing_ClaimCompensation(t *testing.T) {
	h := newMatchHarness(t)
	ctx := context.Background()
	p := &pairing{queue: h.queue, logger: zap.NewNop(), now: h.clock.Now}

	t.Run("상대가 이미 빠졌으면 꺼낸 항목을 되돌림", func(t *testing.T) {
		require.NoError(t, h.queue.Join(ctx, models.QueueEntry{UserID: "u2", SkillLevel: "A2"}))
		require.NoError(t, h.queue.Join(ctx, models.QueueEntry{UserID: "a1", SkillLevel: "A2"}))

		err := p.claim(ctx, queueSlot{userID: "a1", level: "A2"}, queueSlot{userID: "gone", level: "A2"})
		assert.ErrorIs(t, err, errRaceLost)

		members, err := h.queue.Members(ctx, "A2")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a1", "u2"}, members)
	})

	t.Run("첫 제거가 실패하면 아무것도 건드리지 않음", func(t *testing.T) {
		err := p.claim(ctx, queueSlot{userID: "zz", level: "A2"}, queueSlot{userID: "aa", level: "A2"})
		assert.ErrorIs(t, err, errRaceLost)

		members, err := h.queue.Members(ctx, "A2")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a1", "u2"}, members)
	})
}

func TestMatchmakingService_CommitFailureRestoresBoth(t *testing.T) {
	h := newMatchHarness(t)
	h.users.addUsers("alice", "bob")
	h.store.createErr = errBackendDown
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "alice", "B1", ""))
	require.NoError(t, svc.Join(ctx, "bob", "B1", ""))

	_, err := svc.CheckMatch(ctx, "alice", "B1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackendDown)
	assert.True(t, IsRetryable(err))

	members, err := h.queue.Members(ctx, "B1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	meta, err := h.queue.GetMeta(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Nil(t, meta.MatchResult)
}

func TestMatchmakingService_Leave(t *testing.T) {
	h := newMatchHarness(t)
	svc := h.matchmaking()
	ctx := context.Background()

	require.NoError(t, svc.Join(ctx, "alice", "C1", ""))
	require.NoError(t, svc.Leave(ctx, "alice", "C1"))

	n, err := h.queue.Len(ctx, "C1")
	require.NoError(t, err)
	assert.Zero(t, n)

	meta, err := h.queue.GetMeta(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, meta)
}
