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

// Elevated participants score points * 3 / 2.
const (
	elevatedScoreNum = 3
	elevatedScoreDen = 2
)

type EventService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Locks    Locker
	Notifier Notifier
	Now      func() time.Time
}

func NewEventService(db *gorm.DB, ledger *LedgerService, locks Locker, notifier Notifier) *EventService {
	return &EventService{
		DB:       db,
		Ledger:   ledger,
		Locks:    locks,
		Notifier: notifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// JoinRequest is a subject's request to enter an event.
type JoinRequest struct {
	SubjectID string
	EventID   string
	Tier      models.ParticipationTier
	// EntryFee is the fee the client expects to pay; nil accepts whatever the event charges.
	EntryFee *int64
}

// Join enters the subject into the event and charges the entry fee in the same transaction.
func (s *EventService) Join(ctx context.Context, req JoinRequest) (*models.EventParticipation, error) {
	if req.Tier == "" {
		req.Tier = models.TierStandard
	}
	if !req.Tier.Valid() {
		return nil, validation("unknown tier %q", req.Tier)
	}
	if req.EntryFee != nil && *req.EntryFee < 0 {
		return nil, validation("entry fee cannot be negative")
	}

	var joined *models.EventParticipation
	err := WithLock(ctx, s.Locks, LockJoin, req.SubjectID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			event, err := repository.New[models.Event](tx).GetForUpdate(ctx, req.EventID)
			if errors.Is(err, repository.ErrNotFound) {
				return notFound("event", req.EventID)
			}
			if err != nil {
				return err
			}
			now := s.Now()
			if event.EndsAt != nil && event.EndsAt.Before(now) {
				return newError(CodeExpired, "event %s has ended", event.ID)
			}

			parts := repository.New[models.EventParticipation](tx)
			_, err = parts.First(ctx, repository.Where("event_id = ? AND subject_id = ?", event.ID, req.SubjectID))
			if err == nil {
				return newError(CodeAlreadyJoined, "already joined event %s", event.ID)
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return err
			}

			if event.Capacity > 0 {
				n, err := parts.Count(ctx, repository.Where("event_id = ?", event.ID))
				if err != nil {
					return err
				}
				if n >= int64(event.Capacity) {
					return newError(CodeEventFull, "event %s is full", event.ID)
				}
			}

			fee := event.FeeFor(req.Tier)
			if req.EntryFee != nil && *req.EntryFee != fee {
				return validation("entry fee %d does not match the %s fee %d", *req.EntryFee, req.Tier, fee)
			}
			if fee > 0 {
				if _, err := s.Ledger.DebitTx(ctx, tx, req.SubjectID, models.InstrumentCurrency, fee,
					models.SourceEventEntryFee, fmt.Sprintf("Entry fee for %s", event.Name)); err != nil {
					return err
				}
			} else if _, err := s.Ledger.ensureAccountTx(ctx, tx, req.SubjectID, ""); err != nil {
				return err
			}

			p := &models.EventParticipation{
				ID:        uuid.NewString(),
				EventID:   event.ID,
				SubjectID: req.SubjectID,
				Tier:      req.Tier,
				FeePaid:   fee,
				JoinedAt:  now,
			}
			if err := parts.Insert(ctx, p); err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return newError(CodeAlreadyJoined, "already joined event %s", event.ID)
				}
				return err
			}
			joined = p
			log.Printf("🎟️  [EVENT] %s joined %s as %s (fee=%d)", req.SubjectID, event.ID, req.Tier, fee)
			return nil
		})
	})
	if err != nil {
		return nil, wrapInternal("join event", err)
	}
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, req.SubjectID, models.NotifyEventJoined, "Event joined", "You are in. Good luck!")
	}
	return joined, nil
}

// Rank returns the leaderboard: score desc, earlier join first on ties, positions 1..n without gaps.
func (s *EventService) Rank(ctx context.Context, eventID, viewerID string) ([]models.RankRow, error) {
	if _, err := repository.New[models.Event](s.DB).Get(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFound("event", eventID)
		}
		return nil, internal("load event", err)
	}

	participants, err := repository.New[models.EventParticipation](s.DB).List(ctx,
		repository.Where("event_id = ?", eventID),
		repository.OrderBy("joined_at asc, id asc"))
	if err != nil {
		return nil, internal("list participants", err)
	}

	type total struct {
		SubjectID string
		Score     int64
	}
	var totals []total
	err = s.DB.WithContext(ctx).Model(&models.EventScoreEntry{}).
		Select("subject_id, COALESCE(SUM(points), 0) AS score").
		Where("event_id = ?", eventID).
		Group("subject_id").
		Scan(&totals).Error
	if err != nil {
		return nil, internal("sum scores", err)
	}
	scores := make(map[string]int64, len(totals))
	for _, t := range totals {
		scores[t.SubjectID] = t.Score
	}

	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.SubjectID)
	}
	names := make(map[string]string, len(ids))
	if len(ids) > 0 {
		var accts []models.Account
		if err := s.DB.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&accts).Error; err != nil {
			return nil, internal("load usernames", err)
		}
		for _, a := range accts {
			names[a.ID] = a.Username
		}
	}

	rows := make([]models.RankRow, 0, len(participants))
	for _, p := range participants {
		rows = append(rows, models.RankRow{
			SubjectID: p.SubjectID,
			Username:  names[p.SubjectID],
			Score:     scores[p.SubjectID],
			IsViewer:  viewerID != "" && p.SubjectID == viewerID,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// RecordScoreTx appends the score entry for an approved event mission claim. A claim scores once.
func (s *EventService) RecordScoreTx(ctx context.Context, tx *gorm.DB, mission *models.Mission, claim *models.MissionClaim, at time.Time) (*models.EventScoreEntry, error) {
	if !mission.EventScoped() {
		return nil, nil
	}
	scores := repository.New[models.EventScoreEntry](tx)
	if existing, err := scores.First(ctx, repository.Where("claim_id = ?", claim.ID)); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	part, err := repository.New[models.EventParticipation](tx).First(ctx,
		repository.Where("event_id = ? AND subject_id = ?", *mission.EventID, claim.SubjectID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, validation("subject %s has not joined event %s", claim.SubjectID, *mission.EventID)
	}
	if err != nil {
		return nil, err
	}

	points := mission.EventPoints
	if part.Tier == models.TierElevated {
		points = points * elevatedScoreNum / elevatedScoreDen
	}
	entry := &models.EventScoreEntry{
		ID:        uuid.NewString(),
		EventID:   *mission.EventID,
		SubjectID: claim.SubjectID,
		MissionID: mission.ID,
		ClaimID:   claim.ID,
		Points:    points,
		CreatedAt: at,
	}
	if err := scores.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// IsParticipant reports whether subjectID joined eventID.
func (s *EventService) IsParticipant(ctx context.Context, db *gorm.DB, eventID, subjectID string) (bool, error) {
	n, err := repository.New[models.EventParticipation](db).Count(ctx,
		repository.Where("event_id = ? AND subject_id = ?", eventID, subjectID))
	return n > 0, err
}

// PayoutPrize credits an event prize once per (event, subject).
func (s *EventService) PayoutPrize(ctx context.Context, eventID, subjectID string, coins int64) (*BalanceResult, error) {
	event, err := repository.New[models.Event](s.DB).Get(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("event", eventID)
	}
	if err != nil {
		return nil, internal("load event", err)
	}
	ok, err := s.IsParticipant(ctx, s.DB, eventID, subjectID)
	if err != nil {
		return nil, internal("load participation", err)
	}
	if !ok {
		return nil, validation("subject %s has not joined event %s", subjectID, eventID)
	}

	res, err := s.Ledger.GrantIdempotent(ctx, subjectID, models.InstrumentCurrency, coins,
		models.SourceEventPayout, fmt.Sprintf("Prize for %s", event.Name), EventPayoutKey(eventID, subjectID))
	if err != nil {
		return nil, err
	}
	if res.Granted && s.Notifier != nil {
		s.Notifier.Notify(ctx, subjectID, models.NotifyEventPayout, "Prize received",
			fmt.Sprintf("You won %d coins in %s.", coins, event.Name))
	}
	return res, nil
}

// EventPayoutKey is the idempotency key of an event prize.
func EventPayoutKey(eventID, subjectID string) string {
	return fmt.Sprintf("event_payout:%s:%s", eventID, subjectID)
}

// ListEvents returns events that have not ended yet.
func (s *EventService) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := repository.New[models.Event](s.DB).List(ctx,
		repository.Where("ends_at IS NULL OR ends_at >= ?", s.Now()),
		repository.OrderBy("starts_at asc, created_at asc"))
	if err != nil {
		return nil, internal("list events", err)
	}
	return rows, nil
}
