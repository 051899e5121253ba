package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"economy-engine/models"
	"economy-engine/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Posting is one requested balance mutation. Amount is always positive; Direction gives the sign.
type Posting struct {
	SubjectID      string
	Instrument     models.Instrument
	Amount         int64
	Direction      models.Direction
	Source         models.Source
	Description    string
	IdempotencyKey string
}

// BalanceResult is the outcome of a posting.
type BalanceResult struct {
	SubjectID  string               `json:"subject_id"`
	Instrument models.Instrument    `json:"instrument"`
	Balance    int64                `json:"balance"`
	Entry      *models.LedgerEntry  `json:"entry,omitempty"`
	Bonuses    []models.LedgerEntry `json:"bonuses,omitempty"`
	Account    *models.Account      `json:"account,omitempty"`
	LevelUp    bool                 `json:"level_up"`
	FromLevel  int                  `json:"from_level"`
	Level      int                  `json:"level"`
	Granted    bool                 `json:"granted"` // false when an idempotency key was already used
}

// LedgerService is the only writer of account balances and ledger entries.
// Credit, Debit, GrantIdempotent and SyncProfile hold the subject's balance lock;
// the *Tx forms run under whatever lock the caller holds.
type LedgerService struct {
	DB       *gorm.DB
	Levels   LevelRules
	Locks    Locker
	Risk     *RiskScanner
	Notifier Notifier
	Now      func() time.Time
}

func NewLedgerService(db *gorm.DB, levels LevelRules) *LedgerService {
	return &LedgerService{
		DB:     db,
		Levels: levels,
		Locks:  NewMemoryLocker(),
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *LedgerService) accounts(tx *gorm.DB) repository.Repository[models.Account] {
	return repository.New[models.Account](tx)
}

// EnsureAccount returns the subject's account, creating an empty one if needed (idempotent).
func (s *LedgerService) EnsureAccount(ctx context.Context, subjectID, username string) (*models.Account, error) {
	return s.ensureAccountTx(ctx, s.DB, subjectID, username)
}

func (s *LedgerService) ensureAccountTx(ctx context.Context, tx *gorm.DB, subjectID, username string) (*models.Account, error) {
	if subjectID == "" {
		return nil, validation("subject id is required")
	}
	repo := s.accounts(tx)
	acct, err := repo.Get(ctx, subjectID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	acct = &models.Account{
		ID:                subjectID,
		Username:          username,
		Level:             1,
		XPToNextLevel:     s.Levels.XPToNextLevel(1),
		Plan:              models.PlanFree,
		Role:              models.RoleMember,
		CompletedMissions: models.StringSet{},
		PendingMissions:   models.StringSet{},
	}
	// A concurrent first operation may insert the row between Get and here.
	// DO NOTHING keeps the surrounding transaction usable on Postgres.
	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(acct).Error
	if err != nil {
		return nil, err
	}
	return repo.Get(ctx, subjectID)
}

// GetAccount reads an account through the consistency guard.
func (s *LedgerService) GetAccount(ctx context.Context, subjectID string) (*models.Account, error) {
	acct, err := s.accounts(s.DB).Get(ctx, subjectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("account", subjectID)
	}
	if err != nil {
		return nil, internal("load account", err)
	}
	fixed := Repair(*acct, s.Levels)
	return &fixed, nil
}

// Credit adds amount to the subject's balance. Untrusted earnings are scored by the risk scanner first.
func (s *LedgerService) Credit(ctx context.Context, subjectID string, instrument models.Instrument, amount int64, source models.Source, description string) (*BalanceResult, error) {
	p := Posting{SubjectID: subjectID, Instrument: instrument, Amount: amount, Direction: models.DirectionEarn, Source: source, Description: description}
	var res *BalanceResult
	err := s.withBalanceLock(ctx, subjectID, func() error {
		if s.Risk != nil && !IsTrustedSource(source) {
			acct, err := s.EnsureAccount(ctx, subjectID, "")
			if err != nil {
				return wrapInternal("load account", err)
			}
			d := Deltas{}
			if instrument == models.InstrumentExperience {
				d.XP = amount
			} else {
				d.Coins = amount
			}
			if _, err := s.Risk.Check(ctx, acct, d, source, "credit"); err != nil {
				return err
			}
		}
		var err error
		res, err = s.post(ctx, p)
		return err
	})
	return res, err
}

// Debit removes amount from the subject's balance or fails with ErrInsufficientFunds and no mutation.
func (s *LedgerService) Debit(ctx context.Context, subjectID string, instrument models.Instrument, amount int64, source models.Source, description string) (*BalanceResult, error) {
	return s.lockedPost(ctx, Posting{SubjectID: subjectID, Instrument: instrument, Amount: amount, Direction: models.DirectionSpend, Source: source, Description: description})
}

// GrantIdempotent credits amount once per key; repeated calls return the original entry with Granted=false.
func (s *LedgerService) GrantIdempotent(ctx context.Context, subjectID string, instrument models.Instrument, amount int64, source models.Source, description, key string) (*BalanceResult, error) {
	if key == "" {
		return nil, validation("idempotency key is required")
	}
	return s.lockedPost(ctx, Posting{SubjectID: subjectID, Instrument: instrument, Amount: amount, Direction: models.DirectionEarn, Source: source, Description: description, IdempotencyKey: key})
}

func (s *LedgerService) withBalanceLock(ctx context.Context, subjectID string, fn func() error) error {
	if subjectID == "" {
		return validation("subject id is required")
	}
	if s.Locks == nil {
		return fn()
	}
	return WithLock(ctx, s.Locks, LockBalance, subjectID, fn)
}

func (s *LedgerService) lockedPost(ctx context.Context, p Posting) (*BalanceResult, error) {
	var res *BalanceResult
	err := s.withBalanceLock(ctx, p.SubjectID, func() error {
		var err error
		res, err = s.post(ctx, p)
		return err
	})
	return res, err
}

// CreditTx is Credit inside the caller's transaction, without risk scoring.
func (s *LedgerService) CreditTx(ctx context.Context, tx *gorm.DB, subjectID string, instrument models.Instrument, amount int64, source models.Source, description string) (*BalanceResult, error) {
	return s.apply(ctx, tx, Posting{SubjectID: subjectID, Instrument: instrument, Amount: amount, Direction: models.DirectionEarn, Source: source, Description: description})
}

// DebitTx is Debit inside the caller's transaction.
func (s *LedgerService) DebitTx(ctx context.Context, tx *gorm.DB, subjectID string, instrument models.Instrument, amount int64, source models.Source, description string) (*BalanceResult, error) {
	return s.apply(ctx, tx, Posting{SubjectID: subjectID, Instrument: instrument, Amount: amount, Direction: models.DirectionSpend, Source: source, Description: description})
}

// GrantIdempotentTx is GrantIdempotent inside the caller's transaction.
func (s *LedgerService) GrantIdempotentTx(ctx context.Context, tx *gorm.DB, subjectID string, instrument models.Instrument, amount int64, source models.Source, description, key string) (*BalanceResult, error) {
	if key == "" {
		return nil, validation("idempotency key is required")
	}
	return s.apply(ctx, tx, Posting{SubjectID: subjectID, Instrument: instrument, Amount: amount, Direction: models.DirectionEarn, Source: source, Description: description, IdempotencyKey: key})
}

func (s *LedgerService) post(ctx context.Context, p Posting) (*BalanceResult, error) {
	var res *BalanceResult
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.apply(ctx, tx, p)
		return err
	})
	if err != nil && p.IdempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent writer used the key between our lookup and insert.
		return s.replay(ctx, s.DB, p)
	}
	if err != nil {
		return nil, wrapInternal("ledger post", err)
	}
	s.announceLevelUp(ctx, res)
	return res, nil
}

// apply performs one posting on tx: idempotency lookup, row lock, balance check,
// account write, entry append, then milestone bonuses.
func (s *LedgerService) apply(ctx context.Context, tx *gorm.DB, p Posting) (*BalanceResult, error) {
	if p.Amount <= 0 {
		return nil, validation("amount must be a positive integer, got %d", p.Amount)
	}
	if !p.Instrument.Valid() {
		return nil, validation("unknown instrument %q", p.Instrument)
	}
	if p.Source == "" {
		return nil, validation("source is required")
	}

	if p.IdempotencyKey != "" {
		res, err := s.replay(ctx, tx, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	if _, err := s.ensureAccountTx(ctx, tx, p.SubjectID, ""); err != nil {
		return nil, err
	}
	acct, err := s.accounts(tx).GetForUpdate(ctx, p.SubjectID)
	if err != nil {
		return nil, err
	}

	current := acct.Balance(p.Instrument)
	signed := p.Amount
	if p.Direction == models.DirectionSpend {
		signed = -p.Amount
	}
	if p.Direction == models.DirectionEarn && current > math.MaxInt64-p.Amount {
		return nil, validation("amount %d would overflow the %s balance", p.Amount, p.Instrument)
	}
	next := current + signed
	if next < 0 {
		return nil, &Error{
			Code:    CodeInsufficientFunds,
			Message: fmt.Sprintf("balance %d is less than %d", current, p.Amount),
		}
	}

	now := s.Now()
	fromLevel := s.Levels.LevelForXP(acct.XP)
	acct.SetBalance(p.Instrument, next)
	toLevel := s.Levels.LevelForXP(acct.XP)
	acct.Level = toLevel
	acct.XPToNextLevel = s.Levels.XPToNextLevel(toLevel)
	if toLevel > fromLevel {
		acct.LastLevelUpAt = &now
	}
	if err := s.accounts(tx).Update(ctx, acct); err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		SubjectID:    p.SubjectID,
		Instrument:   p.Instrument,
		Amount:       signed,
		Direction:    p.Direction,
		Source:       p.Source,
		Description:  p.Description,
		BalanceAfter: next,
		CreatedAt:    now,
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		entry.IdempotencyKey = &key
	}
	if err := repository.New[models.LedgerEntry](tx).Insert(ctx, entry); err != nil {
		return nil, err
	}

	res := &BalanceResult{
		SubjectID:  p.SubjectID,
		Instrument: p.Instrument,
		Balance:    next,
		Entry:      entry,
		LevelUp:    toLevel > fromLevel,
		FromLevel:  fromLevel,
		Level:      toLevel,
		Granted:    true,
	}

	for _, level := range s.Levels.MilestonesBetween(fromLevel, toLevel) {
		bonus, err := s.apply(ctx, tx, Posting{
			SubjectID:      p.SubjectID,
			Instrument:     models.InstrumentCurrency,
			Amount:         s.Levels.BonusCoins,
			Direction:      models.DirectionEarn,
			Source:         models.SourceLevelUpBonus,
			Description:    fmt.Sprintf("Level %d milestone bonus", level),
			IdempotencyKey: LevelUpBonusKey(p.SubjectID, level),
		})
		if err != nil {
			return nil, err
		}
		if bonus.Granted {
			res.Bonuses = append(res.Bonuses, *bonus.Entry)
		}
	}

	final, err := s.accounts(tx).Get(ctx, p.SubjectID)
	if err != nil {
		return nil, err
	}
	res.Account = final
	res.Balance = final.Balance(p.Instrument)

	log.Printf("💰 [LEDGER] %s %s %+d %s → %d (source=%s)",
		p.SubjectID, p.Instrument, signed, p.Direction, res.Balance, p.Source)
	return res, nil
}

// replay returns the result of an already-applied idempotent posting.
func (s *LedgerService) replay(ctx context.Context, db *gorm.DB, p Posting) (*BalanceResult, error) {
	entry, err := repository.New[models.LedgerEntry](db).First(ctx, repository.Where("idempotency_key = ?", p.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts(db).Get(ctx, entry.SubjectID)
	if err != nil {
		return nil, err
	}
	level := s.Levels.LevelForXP(acct.XP)
	return &BalanceResult{
		SubjectID:  entry.SubjectID,
		Instrument: entry.Instrument,
		Balance:    acct.Balance(entry.Instrument),
		Entry:      entry,
		Account:    acct,
		FromLevel:  level,
		Level:      level,
		Granted:    false,
	}, nil
}

func (s *LedgerService) announceLevelUp(ctx context.Context, res *BalanceResult) {
	if res == nil || !res.LevelUp || s.Notifier == nil {
		return
	}
	body := fmt.Sprintf("You reached level %d.", res.Level)
	if len(res.Bonuses) > 0 {
		var coins int64
		for _, b := range res.Bonuses {
			coins += b.Amount
		}
		body = fmt.Sprintf("You reached level %d and earned %d bonus coins.", res.Level, coins)
	}
	s.Notifier.Notify(ctx, res.SubjectID, models.NotifyLevelUp, "Level up!", body)
}

// Statement returns one page of the subject's ledger, newest first.
func (s *LedgerService) Statement(ctx context.Context, subjectID string, instrument models.Instrument, page, pageSize int) ([]models.LedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	repo := repository.New[models.LedgerEntry](s.DB)
	scopes := []repository.Scope{repository.Where("subject_id = ?", subjectID)}
	if instrument != "" {
		scopes = append(scopes, repository.Where("instrument = ?", instrument))
	}
	total, err := repo.Count(ctx, scopes...)
	if err != nil {
		return nil, 0, internal("count ledger", err)
	}
	scopes = append(scopes,
		repository.OrderBy("created_at desc, id desc"),
		repository.Offset((page-1)*pageSize),
		repository.Limit(pageSize))
	rows, err := repo.List(ctx, scopes...)
	if err != nil {
		return nil, 0, internal("list ledger", err)
	}
	return rows, total, nil
}

// LevelUpBonusKey is the idempotency key of a milestone bonus.
func LevelUpBonusKey(subjectID string, level int) string {
	return fmt.Sprintf("level_up_bonus:%s:%d", subjectID, level)
}

// wrapInternal keeps business errors intact and logs everything else.
func wrapInternal(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return &Error{Code: CodeNotFound, Message: op + ": not found", Cause: err}
	}
	log.Printf("[ERROR] %s: %v", op, err)
	return internal(op, err)
}

// TrackPendingTx adds or removes missionID from the subject's pending set.
func (s *LedgerService) TrackPendingTx(ctx context.Context, tx *gorm.DB, subjectID, missionID string, pending bool) error {
	if _, err := s.ensureAccountTx(ctx, tx, subjectID, ""); err != nil {
		return err
	}
	acct, err := s.accounts(tx).GetForUpdate(ctx, subjectID)
	if err != nil {
		return err
	}
	if pending {
		acct.PendingMissions = acct.PendingMissions.Add(missionID)
	} else {
		acct.PendingMissions = acct.PendingMissions.Remove(missionID)
	}
	return s.accounts(tx).Update(ctx, acct)
}

// RecordCompletionTx moves missionID from pending to completed and bumps the counters,
// resetting the monthly counter when the month changed.
func (s *LedgerService) RecordCompletionTx(ctx context.Context, tx *gorm.DB, subjectID, missionID string, at time.Time) (*models.Account, error) {
	acct, err := s.accounts(tx).GetForUpdate(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	acct.PendingMissions = acct.PendingMissions.Remove(missionID)
	acct.CompletedMissions = acct.CompletedMissions.Add(missionID)
	acct.MissionsCompleted++
	period := at.UTC().Format("2006-01")
	if acct.MonthlyPeriod != period {
		acct.MonthlyPeriod = period
		acct.MonthlyCompleted = 0
	}
	acct.MonthlyCompleted++
	if err := s.accounts(tx).Update(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// SyncProfile applies an upstream plan change (and username when non-empty) to the subject's account.
// Unknown plan names are mapped the same way the guard maps stored ones.
func (s *LedgerService) SyncProfile(ctx context.Context, subjectID, username, plan string) (*models.Account, error) {
	var out *models.Account
	err := s.withBalanceLock(ctx, subjectID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.ensureAccountTx(ctx, tx, subjectID, ""); err != nil {
				return err
			}
			acct, err := s.accounts(tx).GetForUpdate(ctx, subjectID)
			if err != nil {
				return err
			}
			acct.Plan = NormalizePlan(plan)
			if username != "" {
				acct.Username = username
			}
			if err := s.accounts(tx).Update(ctx, acct); err != nil {
				return err
			}
			out = acct
			return nil
		})
	})
	if err != nil {
		return nil, wrapInternal("sync profile", err)
	}
	return out, nil
}
