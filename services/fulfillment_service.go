package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"economy-engine/models"
	"economy-engine/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FulfillmentService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Locks    Locker
	Notifier Notifier
	Now      func() time.Time
}

func NewFulfillmentService(db *gorm.DB, ledger *LedgerService, locks Locker, notifier Notifier) *FulfillmentService {
	return &FulfillmentService{
		DB:       db,
		Ledger:   ledger,
		Locks:    locks,
		Notifier: notifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// RedeemResult is a completed store purchase.
type RedeemResult struct {
	Redemption *models.Redemption `json:"redemption"`
	Queue      *models.QueueEntry `json:"queue,omitempty"`
	Balance    *BalanceResult     `json:"balance"`
}

// Redeem buys a deliverable with coins. Physical deliverables are queued for production.
func (s *FulfillmentService) Redeem(ctx context.Context, subjectID, deliverableID string) (*RedeemResult, error) {
	var out *RedeemResult
	err := WithLock(ctx, s.Locks, LockRedeem, subjectID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			items := repository.New[models.Deliverable](tx)
			item, err := items.GetForUpdate(ctx, deliverableID)
			if errors.Is(err, repository.ErrNotFound) || (err == nil && item.Archived) {
				return notFound("deliverable", deliverableID)
			}
			if err != nil {
				return err
			}
			if item.Stock != nil && *item.Stock <= 0 {
				return limitReached(0, "%s is out of stock", item.Name)
			}

			bal, err := s.Ledger.DebitTx(ctx, tx, subjectID, models.InstrumentCurrency, item.Price,
				models.SourceStorePurchase, "Redeemed "+item.Name)
			if err != nil {
				return err
			}

			if item.Stock != nil {
				left := *item.Stock - 1
				item.Stock = &left
				if err := items.Update(ctx, item); err != nil {
					return err
				}
			}

			now := s.Now()
			red := &models.Redemption{
				ID:            uuid.NewString(),
				SubjectID:     subjectID,
				DeliverableID: item.ID,
				PricePaid:     item.Price,
				LedgerEntryID: bal.Entry.ID,
				Status:        models.RedemptionPending,
				CreatedAt:     now,
			}
			if !item.Physical {
				red.Status = models.RedemptionFulfilled
				red.FulfilledAt = &now
			}
			if err := repository.New[models.Redemption](tx).Insert(ctx, red); err != nil {
				return err
			}
			out = &RedeemResult{Redemption: red, Balance: bal}

			if item.Physical {
				out.Queue, err = s.enqueueTx(ctx, tx, subjectID, item.ID, red.ID)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapInternal("redeem", err)
	}
	log.Printf("🛒 [STORE] %s redeemed %s for %d coins", subjectID, deliverableID, out.Redemption.PricePaid)
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, subjectID, models.NotifyRedemption, "Redemption confirmed",
			fmt.Sprintf("You spent %d coins.", out.Redemption.PricePaid))
	}
	return out, nil
}

// Enqueue adds a pending fulfillment for (subject, deliverable).
func (s *FulfillmentService) Enqueue(ctx context.Context, subjectID, deliverableID, redemptionID string) (*models.QueueEntry, error) {
	var entry *models.QueueEntry
	err := WithLock(ctx, s.Locks, LockQueue, subjectID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := repository.New[models.Deliverable](tx).Get(ctx, deliverableID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return notFound("deliverable", deliverableID)
				}
				return err
			}
			var err error
			entry, err = s.enqueueTx(ctx, tx, subjectID, deliverableID, redemptionID)
			return err
		})
	})
	if err != nil {
		return nil, wrapInternal("enqueue fulfillment", err)
	}
	return entry, nil
}

func (s *FulfillmentService) enqueueTx(ctx context.Context, tx *gorm.DB, subjectID, deliverableID, redemptionID string) (*models.QueueEntry, error) {
	queue := repository.New[models.QueueEntry](tx)
	n, err := queue.Count(ctx, repository.Where("subject_id = ? AND deliverable_id = ? AND status = ?",
		subjectID, deliverableID, models.QueuePending))
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, newError(CodeAlreadyPending, "deliverable %s is already queued for %s", deliverableID, subjectID)
	}

	acct, err := s.Ledger.ensureAccountTx(ctx, tx, subjectID, "")
	if err != nil {
		return nil, err
	}
	entry := &models.QueueEntry{
		ID:            uuid.NewString(),
		SubjectID:     subjectID,
		DeliverableID: deliverableID,
		RedemptionID:  redemptionID,
		Status:        models.QueuePending,
		Priority:      NormalizePlan(string(acct.Plan)).Priority(),
		CreatedAt:     s.Now(),
	}
	if err := queue.Insert(ctx, entry); err != nil {
		return nil, err
	}
	log.Printf("📦 [QUEUE] queued %s for %s (priority %d)", deliverableID, subjectID, entry.Priority)
	return entry, nil
}

// ListQueue returns entries with the given status, highest priority first and oldest first within a priority.
// Done entries are read from history.
func (s *FulfillmentService) ListQueue(ctx context.Context, status models.QueueStatus) ([]models.QueueEntry, error) {
	out := make([]models.QueueEntry, 0)
	switch status {
	case "", models.QueuePending:
		rows, err := repository.New[models.QueueEntry](s.DB).List(ctx, repository.Where("status = ?", models.QueuePending))
		if err != nil {
			return nil, internal("list queue", err)
		}
		out = rows
	case models.QueueDone:
		rows, err := repository.New[models.FulfillmentRecord](s.DB).List(ctx)
		if err != nil {
			return nil, internal("list fulfillment history", err)
		}
		for i := range rows {
			out = append(out, rows[i].AsQueueEntry())
		}
	default:
		return nil, validation("unknown queue status %q", status)
	}
	SortQueue(out)
	return out, nil
}

// ListPending is ListQueue for pending entries.
func (s *FulfillmentService) ListPending(ctx context.Context) ([]models.QueueEntry, error) {
	return s.ListQueue(ctx, models.QueuePending)
}

// SortQueue orders entries by priority desc, then creation asc. Equal keys keep their order.
func SortQueue(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// Complete marks a queue entry produced, moves it to history and fulfills its redemption.
func (s *FulfillmentService) Complete(ctx context.Context, operatorID, entryID string) (*models.FulfillmentRecord, error) {
	entry, err := repository.New[models.QueueEntry](s.DB).Get(ctx, entryID)
	if errors.Is(err, repository.ErrNotFound) {
		if _, herr := repository.New[models.FulfillmentRecord](s.DB).Get(ctx, entryID); herr == nil {
			return nil, newError(CodeAlreadyCompleted, "queue entry %s already completed", entryID)
		}
		return nil, notFound("queue entry", entryID)
	}
	if err != nil {
		return nil, wrapInternal("load queue entry", err)
	}

	var rec *models.FulfillmentRecord
	err = WithLock(ctx, s.Locks, LockQueue, entry.SubjectID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			queue := repository.New[models.QueueEntry](tx)
			locked, err := queue.GetForUpdate(ctx, entryID)
			if errors.Is(err, repository.ErrNotFound) {
				return newError(CodeAlreadyCompleted, "queue entry %s already completed", entryID)
			}
			if err != nil {
				return err
			}
			now := s.Now()
			rec = &models.FulfillmentRecord{
				ID:            locked.ID,
				SubjectID:     locked.SubjectID,
				DeliverableID: locked.DeliverableID,
				RedemptionID:  locked.RedemptionID,
				Priority:      locked.Priority,
				CompletedBy:   operatorID,
				QueuedAt:      locked.CreatedAt,
				CompletedAt:   now,
			}
			if err := repository.New[models.FulfillmentRecord](tx).Insert(ctx, rec); err != nil {
				return err
			}
			if locked.RedemptionID != "" {
				err := tx.Model(&models.Redemption{}).Where("id = ?", locked.RedemptionID).
					Updates(map[string]any{"status": models.RedemptionFulfilled, "fulfilled_at": now}).Error
				if err != nil {
					return err
				}
			}
			return queue.Delete(ctx, locked)
		})
	})
	if err != nil {
		return nil, wrapInternal("complete fulfillment", err)
	}
	log.Printf("✅ [QUEUE] %s completed by %s", entryID, operatorID)
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, rec.SubjectID, models.NotifyFulfilled, "Your item is ready", "Your redeemed item has been produced.")
	}
	return rec, nil
}

// ListDeliverables returns the store catalog.
func (s *FulfillmentService) ListDeliverables(ctx context.Context) ([]models.Deliverable, error) {
	rows, err := repository.New[models.Deliverable](s.DB).List(ctx,
		repository.Where("archived = ?", false), repository.OrderBy("price asc"))
	if err != nil {
		return nil, internal("list deliverables", err)
	}
	return rows, nil
}
