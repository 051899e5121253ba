package services

import (
	"context"
	"testing"
	"time"

	"economy-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fee(v int64) *int64 { return &v }

func TestJoinChargesEntryFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.event(t, models.Event{ID: "e1", Name: "Spring Cup", EntryFee: 100, ElevatedEntryFee: 250})
	h.fund(t, "u1", 300)

	p, err := h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "e1", Tier: models.TierElevated, EntryFee: fee(250)})
	require.NoError(t, err)
	assert.EqualValues(t, 250, p.FeePaid)
	assert.Equal(t, models.TierElevated, p.Tier)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 50, acct.Coins)
	assert.Contains(t, h.notifier.kinds("u1"), models.NotifyEventJoined)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "e1"})
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoinFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ended := h.clock.Now().Add(-time.Minute)
	h.event(t, models.Event{ID: "paid", EntryFee: 100})
	h.event(t, models.Event{ID: "over", EndsAt: &ended})
	h.event(t, models.Event{ID: "small", Capacity: 1})
	h.fund(t, "rich", 1000)

	_, err := h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "over"})
	assert.ErrorIs(t, err, ErrExpired)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "paid"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "rich", EventID: "paid", EntryFee: fee(50)})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "paid", Tier: "vip"})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "small"})
	require.NoError(t, err)
	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u2", EventID: "small"})
	assert.ErrorIs(t, err, ErrEventFull)

	acct, err := h.ledger.GetAccount(ctx, "rich")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, acct.Coins)
}

func TestJoinFailsFastWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.event(t, models.Event{ID: "e1"})

	_, ok, err := h.locks.Acquire(ctx, LockKey(LockJoin, "u1"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "e1"})
	assert.ErrorIs(t, err, ErrLockBusy)
}

func TestRankTiesKeepJoinOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.event(t, models.Event{ID: "e1"})
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := h.events.Join(ctx, JoinRequest{SubjectID: id, EventID: "e1"})
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}
	for subject, pts := range map[string]int64{"b": 20, "c": 20, "d": 30} {
		require.NoError(t, h.db.Create(&models.EventScoreEntry{
			ID: "s-" + subject, EventID: "e1", SubjectID: subject, ClaimID: "c-" + subject, Points: pts, CreatedAt: h.clock.Now(),
		}).Error)
	}

	rows, err := h.events.Rank(ctx, "e1", "c")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	got := make([]string, 0, len(rows))
	for i, r := range rows {
		assert.Equal(t, i+1, r.Rank)
		got = append(got, r.SubjectID)
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, got)
	assert.True(t, rows[2].IsViewer)
	assert.Zero(t, rows[3].Score)

	_, err = h.events.Rank(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPayoutPrizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.event(t, models.Event{ID: "e1", Name: "Cup"})
	_, err := h.events.Join(ctx, JoinRequest{SubjectID: "u1", EventID: "e1"})
	require.NoError(t, err)

	_, err = h.events.PayoutPrize(ctx, "e1", "outsider", 500)
	assert.ErrorIs(t, err, ErrValidationFailed)

	first, err := h.events.PayoutPrize(ctx, "e1", "u1", 500)
	require.NoError(t, err)
	assert.True(t, first.Granted)
	second, err := h.events.PayoutPrize(ctx, "e1", "u1", 500)
	require.NoError(t, err)
	assert.False(t, second.Granted)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 500, acct.Coins)
	assert.Equal(t, []models.NotificationKind{models.NotifyEventJoined, models.NotifyEventPayout}, h.notifier.kinds("u1"))
}

func TestListEventsHidesEnded(t *testing.T) {
	h := newHarness(t)
	ended := h.clock.Now().Add(-time.Hour)
	h.event(t, models.Event{ID: "live"})
	h.event(t, models.Event{ID: "done", EndsAt: &ended})

	rows, err := h.events.ListEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "live", rows[0].ID)
}
