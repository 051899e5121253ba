package services

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"economy-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deepLink = "https://www.social.example.com/posts/ana/status/1234567890123456789/"

type fakeArchiver struct {
	keys []string
	err  error
}

func (f *fakeArchiver) Archive(_ context.Context, key, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func countClaims(t *testing.T, h *harness) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.MissionClaim{}).Count(&n).Error)
	return n
}

func TestSubmitRejectsMalformedLinkWithoutClaim(t *testing.T) {
	h := newHarness(t)
	h.mission(t, models.Mission{ID: "m1", RewardCoins: 10, Verification: models.VerificationLink})

	_, err := h.missions.Submit(context.Background(), "u1", "m1", "not a url")
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Zero(t, countClaims(t, h))
}

func TestSubmitRecordsPendingClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mission(t, models.Mission{ID: "m1", RewardCoins: 10, Verification: models.VerificationLink})

	claim, err := h.missions.Submit(ctx, "u1", "m1", "https://example.com/u/ana")
	require.NoError(t, err)
	assert.Equal(t, models.ClaimPending, claim.Status)
	assert.Equal(t, "example.com/u/ana", claim.ProofKey)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.PendingMissions.Contains("m1"))
	assert.Contains(t, h.notifier.kinds("u1"), models.NotifyMissionSubmitted)

	_, err = h.missions.Submit(ctx, "u1", "m1", "https://example.com/u/ana2")
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestSubmitMissionState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	past := h.clock.Now().Add(-time.Hour)
	h.mission(t, models.Mission{ID: "old", Deadline: &past})
	h.mission(t, models.Mission{ID: "gone", Archived: true})

	_, err := h.missions.Submit(ctx, "u1", "missing", "ok")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.missions.Submit(ctx, "u1", "gone", "ok")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.missions.Submit(ctx, "u1", "old", "ok")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestSubmitFailsFastWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mission(t, models.Mission{ID: "m1"})

	token, ok, err := h.locks.Acquire(ctx, LockKey(LockSubmit, "u1"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.missions.Submit(ctx, "u1", "m1", "done")
	require.ErrorIs(t, err, ErrLockBusy)
	assert.Zero(t, countClaims(t, h))

	require.NoError(t, h.locks.Release(ctx, LockKey(LockSubmit, "u1"), token))
	_, err = h.missions.Submit(ctx, "u1", "m1", "done")
	require.NoError(t, err)
}

func TestSubmitDailyLimitByPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		h.mission(t, models.Mission{ID: id})
	}

	for _, id := range []string{"m1", "m2", "m3"} {
		_, err := h.missions.Submit(ctx, "u1", id, "done")
		require.NoError(t, err)
	}
	_, err := h.missions.Submit(ctx, "u1", "m4", "done")
	require.ErrorIs(t, err, ErrLimitReached)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Limit)

	h.setPlan(t, "u1", models.PlanStarter)
	_, err = h.missions.Submit(ctx, "u1", "m4", "done")
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	h.setPlan(t, "u1", models.PlanFree)
	_, err = h.missions.Submit(ctx, "u1", "m5", "done")
	require.NoError(t, err)
}

func TestSubmitRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.missions.Limiter = NewSubjectLimiter(0.001, 1)
	h.mission(t, models.Mission{ID: "m1"})
	h.mission(t, models.Mission{ID: "m2"})

	_, err := h.missions.Submit(ctx, "u1", "m1", "done")
	require.NoError(t, err)
	_, err = h.missions.Submit(ctx, "u1", "m2", "done")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSubmitBlockedByRisk(t *testing.T) {
	h := newHarness(t)
	h.mission(t, models.Mission{ID: "jackpot", RewardCoins: 6000})

	_, err := h.missions.Submit(context.Background(), "u1", "jackpot", "done")
	require.ErrorIs(t, err, ErrFraudBlocked)
	assert.Zero(t, countClaims(t, h))

	var n int64
	require.NoError(t, h.db.Model(&models.SecurityAuditLog{}).Where("subject_id = ?", "u1").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestProofReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "m3"} {
		h.mission(t, models.Mission{ID: id, Verification: models.VerificationLink})
	}

	_, err := h.missions.Submit(ctx, "u1", "m1", deepLink)
	require.NoError(t, err)

	// another subject, trivially different spelling
	_, err = h.missions.Submit(ctx, "u2", "m1", "http://social.example.com/posts/ana/status/1234567890123456789")
	assert.ErrorIs(t, err, ErrValidationFailed)

	// same subject, deep link on another mission
	_, err = h.missions.Submit(ctx, "u1", "m2", deepLink)
	assert.ErrorIs(t, err, ErrValidationFailed)

	// short profile links may be reused by their owner
	_, err = h.missions.Submit(ctx, "u3", "m1", "https://example.com/u/bo")
	require.NoError(t, err)
	_, err = h.missions.Submit(ctx, "u3", "m2", "https://example.com/u/bo")
	require.NoError(t, err)

	h.missions.ProofReuseThreshold = 10
	_, err = h.missions.Submit(ctx, "u3", "m3", "https://example.com/u/bo")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestPhotoProofIsArchived(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	archiver := &fakeArchiver{}
	h.missions.Archiver = archiver
	h.mission(t, models.Mission{ID: "m1", Verification: models.VerificationPhoto})

	photo := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	claim, err := h.missions.Submit(ctx, "u1", "m1", photo)
	require.NoError(t, err)
	require.Len(t, archiver.keys, 1)
	assert.Equal(t, "proofs/u1/"+claim.ID+".png", archiver.keys[0])
	assert.Equal(t, "https://cdn.example.com/"+archiver.keys[0], claim.ProofURL)
	assert.Empty(t, claim.Proof)

	h.mission(t, models.Mission{ID: "m2", Verification: models.VerificationPhoto})
	archiver.err = errors.New("bucket down")
	_, err = h.missions.Submit(ctx, "u2", "m2", "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("other")))
	assert.ErrorIs(t, err, ErrInternal)
}

func TestApproveCreditsRewardOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mission(t, models.Mission{ID: "m1", RewardCoins: 101, RewardXP: 40})
	h.setPlan(t, "u1", models.PlanStarter)

	claim, err := h.missions.Submit(ctx, "u1", "m1", "done")
	require.NoError(t, err)

	res, err := h.missions.Resolve(ctx, "mod", claim.ID, true)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, models.ClaimApproved, res.Claim.Status)
	assert.EqualValues(t, 126, res.Claim.CoinsAwarded) // floor(101 * 1.25)
	assert.EqualValues(t, 40, res.Claim.XPAwarded)

	again, err := h.missions.Resolve(ctx, "mod", claim.ID, true)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 126, acct.Coins)
	assert.EqualValues(t, 40, acct.XP)
	assert.EqualValues(t, 1, acct.MissionsCompleted)
	assert.EqualValues(t, 1, acct.MonthlyCompleted)
	assert.Equal(t, "2026-03", acct.MonthlyPeriod)
	assert.True(t, acct.CompletedMissions.Contains("m1"))
	assert.False(t, acct.PendingMissions.Contains("m1"))
	assert.Equal(t, acct.Coins, h.ledgerSum(t, "u1", models.InstrumentCurrency))

	_, err = h.missions.Submit(ctx, "u1", "m1", "again")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = h.missions.Resolve(ctx, "mod", claim.ID, false)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestApproveResetsMonthlyCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mission(t, models.Mission{ID: "m1"})
	h.mission(t, models.Mission{ID: "m2"})

	c1, err := h.missions.Submit(ctx, "u1", "m1", "done")
	require.NoError(t, err)
	_, err = h.missions.Resolve(ctx, "mod", c1.ID, true)
	require.NoError(t, err)

	h.clock.Advance(31 * 24 * time.Hour)
	c2, err := h.missions.Submit(ctx, "u1", "m2", "done")
	require.NoError(t, err)
	_, err = h.missions.Resolve(ctx, "mod", c2.ID, true)
	require.NoError(t, err)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, acct.MissionsCompleted)
	assert.EqualValues(t, 1, acct.MonthlyCompleted)
	assert.Equal(t, "2026-04", acct.MonthlyPeriod)
}

func TestRejectAllowsResubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mission(t, models.Mission{ID: "m1", RewardCoins: 10})

	claim, err := h.missions.Submit(ctx, "u1", "m1", "done")
	require.NoError(t, err)

	res, err := h.missions.Resolve(ctx, "mod", claim.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimRejected, res.Claim.Status)
	assert.Contains(t, h.notifier.kinds("u1"), models.NotifyMissionRejected)

	again, err := h.missions.Resolve(ctx, "mod", claim.ID, false)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	_, err = h.missions.Resolve(ctx, "mod", claim.ID, true)
	assert.ErrorIs(t, err, ErrValidationFailed)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, acct.Coins)
	assert.False(t, acct.PendingMissions.Contains("m1"))

	_, err = h.missions.Submit(ctx, "u1", "m1", "done again")
	require.NoError(t, err)

	_, err = h.missions.Resolve(ctx, "mod", "nope", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDailyMissionRepeatsNextDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.mission(t, models.Mission{ID: "daily", Repeat: models.RepeatDaily, RewardCoins: 5})

	claim, err := h.missions.Submit(ctx, "u1", "daily", "done")
	require.NoError(t, err)
	_, err = h.missions.Resolve(ctx, "mod", claim.ID, true)
	require.NoError(t, err)

	_, err = h.missions.Submit(ctx, "u1", "daily", "done")
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	h.clock.Advance(24 * time.Hour)
	_, err = h.missions.Submit(ctx, "u1", "daily", "done")
	require.NoError(t, err)
}

func TestEventMissionScoresForParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.event(t, models.Event{ID: "e1"})
	eventID := "e1"
	h.mission(t, models.Mission{ID: "em", EventID: &eventID, EventPoints: 10, RewardCoins: 5})

	_, err := h.missions.Submit(ctx, "u1", "em", "done")
	require.ErrorIs(t, err, ErrValidationFailed)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "e1", Tier: models.TierElevated})
	require.NoError(t, err)
	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u2", EventID: "e1"})
	require.NoError(t, err)

	c1, err := h.missions.Submit(ctx, "u1", "em", "done")
	require.NoError(t, err)
	c2, err := h.missions.Submit(ctx, "u2", "em", "done")
	require.NoError(t, err)

	r1, err := h.missions.Resolve(ctx, "mod", c1.ID, true)
	require.NoError(t, err)
	require.NotNil(t, r1.Score)
	assert.EqualValues(t, 15, r1.Score.Points)

	r2, err := h.missions.Resolve(ctx, "mod", c2.ID, true)
	require.NoError(t, err)
	assert.EqualValues(t, 10, r2.Score.Points)

	_, err = h.missions.Resolve(ctx, "mod", c1.ID, true)
	require.NoError(t, err)

	rows, err := h.events.Rank(ctx, "e1", "u2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.RankRow{Rank: 1, SubjectID: "u1", Score: 15}, rows[0])
	assert.Equal(t, models.RankRow{Rank: 2, SubjectID: "u2", Score: 10, IsViewer: true}, rows[1])
}
