package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"economy-engine/database"
	"economy-engine/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notice struct {
	SubjectID string
	Kind      models.NotificationKind
	Title     string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(_ context.Context, subjectID string, kind models.NotificationKind, title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{SubjectID: subjectID, Kind: kind, Title: title})
}

func (n *recordingNotifier) kinds(subjectID string) []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.NotificationKind
	for _, x := range n.notices {
		if x.SubjectID == subjectID {
			out = append(out, x.Kind)
		}
	}
	return out
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	return db
}

type harness struct {
	db          *gorm.DB
	clock       *fakeClock
	notifier    *recordingNotifier
	locks       *MemoryLocker
	risk        *RiskScanner
	limiter     *SubjectLimiter
	ledger      *LedgerService
	events      *EventService
	missions    *MissionService
	fulfillment *FulfillmentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		db:       newTestDB(t),
		clock:    newFakeClock(),
		notifier: &recordingNotifier{},
		locks:    NewMemoryLocker(),
		limiter:  NewSubjectLimiter(1000, 1000),
	}
	h.risk = NewRiskScanner(h.db, DefaultRiskRules)
	h.risk.Now = h.clock.Now

	h.ledger = NewLedgerService(h.db, DefaultLevelRules)
	h.ledger.Now = h.clock.Now
	h.ledger.Locks = h.locks
	h.ledger.Risk = h.risk
	h.ledger.Notifier = h.notifier

	h.events = NewEventService(h.db, h.ledger, h.locks, h.notifier)
	h.events.Now = h.clock.Now

	h.missions = NewMissionService(h.db, h.ledger, h.events, h.locks, h.risk, h.limiter, h.notifier)
	h.missions.Now = h.clock.Now

	h.fulfillment = NewFulfillmentService(h.db, h.ledger, h.locks, h.notifier)
	h.fulfillment.Now = h.clock.Now
	return h
}

func (h *harness) fund(t *testing.T, subjectID string, coins int64) {
	t.Helper()
	_, err := h.ledger.Credit(context.Background(), subjectID, models.InstrumentCurrency, coins, models.SourceAdminGrant, "test funds")
	require.NoError(t, err)
}

func (h *harness) setPlan(t *testing.T, subjectID string, plan models.PlanTier) {
	t.Helper()
	_, err := h.ledger.SyncProfile(context.Background(), subjectID, "", string(plan))
	require.NoError(t, err)
}

func (h *harness) mission(t *testing.T, m models.Mission) *models.Mission {
	t.Helper()
	if m.Slug == "" {
		m.Slug = m.ID
	}
	if m.Title == "" {
		m.Title = m.ID
	}
	if m.Verification == "" {
		m.Verification = models.VerificationConfirmation
	}
	if m.Repeat == "" {
		m.Repeat = models.RepeatOnce
	}
	require.NoError(t, h.db.Create(&m).Error)
	return &m
}

func (h *harness) event(t *testing.T, e models.Event) *models.Event {
	t.Helper()
	if e.Slug == "" {
		e.Slug = e.ID
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	require.NoError(t, h.db.Create(&e).Error)
	return &e
}

// ledgerSum is the sum of signed amounts for one instrument.
func (h *harness) ledgerSum(t *testing.T, subjectID string, inst models.Instrument) int64 {
	t.Helper()
	var sum int64
	require.NoError(t, h.db.Model(&models.LedgerEntry{}).
		Where("subject_id = ? AND instrument = ?", subjectID, inst).
		Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error)
	return sum
}

// retryBusy repeats op while a concurrent caller holds the subject lock.
func retryBusy[T any](op func() (T, error)) (T, error) {
	for {
		v, err := op()
		if !errors.Is(err, ErrLockBusy) {
			return v, err
		}
		time.Sleep(time.Millisecond)
	}
}
