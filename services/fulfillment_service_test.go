package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"economy-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deliverable(t *testing.T, h *harness, d models.Deliverable) {
	t.Helper()
	if d.Slug == "" {
		d.Slug = d.ID
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	require.NoError(t, h.db.Create(&d).Error)
}

func TestRedeemPhysicalQueuesFulfillment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stock := 1
	deliverable(t, h, models.Deliverable{ID: "hoodie", Price: 300, Physical: true, Stock: &stock})
	h.fund(t, "u1", 700)

	res, err := h.fulfillment.Redeem(ctx, "u1", "hoodie")
	require.NoError(t, err)
	assert.EqualValues(t, 400, res.Balance.Balance)
	assert.Equal(t, models.RedemptionPending, res.Redemption.Status)
	require.NotNil(t, res.Queue)
	assert.Equal(t, res.Redemption.ID, res.Queue.RedemptionID)

	_, err = h.fulfillment.Redeem(ctx, "u1", "hoodie")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, CodeLimitReached, e.Code)

	acct, err := h.ledger.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 400, acct.Coins)
}

func TestConcurrentRedeemOfLastItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stock := 1
	deliverable(t, h, models.Deliverable{ID: "poster", Price: 300, Physical: true, Stock: &stock})

	const buyers = 6
	for i := 0; i < buyers; i++ {
		h.fund(t, fmt.Sprintf("u%d", i), 500)
	}

	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(subject string) {
			defer wg.Done()
			_, err := retryBusy(func() (*RedeemResult, error) {
				return h.fulfillment.Redeem(ctx, subject, "poster")
			})
			errs <- err
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()
	close(errs)

	var ok, soldOut int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrLimitReached):
			soldOut++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, buyers-1, soldOut)

	var item models.Deliverable
	require.NoError(t, h.db.First(&item, "id = ?", "poster").Error)
	require.NotNil(t, item.Stock)
	assert.Zero(t, *item.Stock)

	var queued, spends int64
	require.NoError(t, h.db.Model(&models.QueueEntry{}).Count(&queued).Error)
	assert.EqualValues(t, 1, queued)
	require.NoError(t, h.db.Model(&models.LedgerEntry{}).Where("source = ?", models.SourceStorePurchase).Count(&spends).Error)
	assert.EqualValues(t, 1, spends)
	for i := 0; i < buyers; i++ {
		subject := fmt.Sprintf("u%d", i)
		acct, err := h.ledger.GetAccount(ctx, subject)
		require.NoError(t, err)
		assert.Equal(t, acct.Coins, h.ledgerSum(t, subject, models.InstrumentCurrency))
	}
}

func TestRedeemDigitalIsFulfilledImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deliverable(t, h, models.Deliverable{ID: "badge", Price: 50})
	deliverable(t, h, models.Deliverable{ID: "retired", Price: 10, Archived: true})
	h.fund(t, "u1", 60)

	res, err := h.fulfillment.Redeem(ctx, "u1", "badge")
	require.NoError(t, err)
	assert.Equal(t, models.RedemptionFulfilled, res.Redemption.Status)
	assert.Nil(t, res.Queue)

	_, err = h.fulfillment.Redeem(ctx, "u1", "badge")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = h.fulfillment.Redeem(ctx, "u1", "retired")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueueOrdersByPlanThenAge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deliverable(t, h, models.Deliverable{ID: "print", Price: 10, Physical: true})
	h.setPlan(t, "free-early", models.PlanFree)
	h.setPlan(t, "elite", models.PlanElite)
	h.setPlan(t, "free-late", models.PlanFree)
	h.setPlan(t, "pro", models.PlanPro)

	for _, s := range []string{"free-early", "elite", "free-late", "pro"} {
		_, err := h.fulfillment.Enqueue(ctx, s, "print", "")
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}

	_, err := h.fulfillment.Enqueue(ctx, "elite", "print", "")
	assert.ErrorIs(t, err, ErrAlreadyPending)
	_, err = h.fulfillment.Enqueue(ctx, "elite", "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)

	queue, err := h.fulfillment.ListPending(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(queue))
	for _, q := range queue {
		got = append(got, q.SubjectID)
	}
	assert.Equal(t, []string{"elite", "pro", "free-early", "free-late"}, got)
}

func TestCompleteMovesEntryToHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deliverable(t, h, models.Deliverable{ID: "mug", Price: 100, Physical: true})
	h.fund(t, "u1", 100)

	res, err := h.fulfillment.Redeem(ctx, "u1", "mug")
	require.NoError(t, err)

	rec, err := h.fulfillment.Complete(ctx, "ops", res.Queue.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Queue.ID, rec.ID)
	assert.Equal(t, "ops", rec.CompletedBy)

	pending, err := h.fulfillment.ListQueue(ctx, models.QueuePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.NotNil(t, pending)

	done, err := h.fulfillment.ListQueue(ctx, models.QueueDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, models.QueueDone, done[0].Status)

	var red models.Redemption
	require.NoError(t, h.db.First(&red, "id = ?", res.Redemption.ID).Error)
	assert.Equal(t, models.RedemptionFulfilled, red.Status)
	assert.NotNil(t, red.FulfilledAt)

	_, err = h.fulfillment.Complete(ctx, "ops", res.Queue.ID)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	_, err = h.fulfillment.Complete(ctx, "ops", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// the subject may queue the same deliverable again once the first is done
	_, err = h.fulfillment.Enqueue(ctx, "u1", "mug", "")
	require.NoError(t, err)

	_, err = h.fulfillment.ListQueue(ctx, "archived")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestSortQueueIsStable(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []models.QueueEntry{
		{ID: "1", Priority: 0, CreatedAt: at},
		{ID: "2", Priority: 3, CreatedAt: at.Add(time.Minute)},
		{ID: "3", Priority: 0, CreatedAt: at},
		{ID: "4", Priority: 3, CreatedAt: at},
	}
	SortQueue(entries)
	ids := []string{entries[0].ID, entries[1].ID, entries[2].ID, entries[3].ID}
	assert.Equal(t, []string{"4", "2", "1", "3"}, ids)
}
