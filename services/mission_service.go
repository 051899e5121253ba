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
)

// DefaultProofReuseThreshold is the normalized length above which a link counts as a deep link.
// Shorter links are treated as profile links a subject may reuse across missions.
const DefaultProofReuseThreshold = 40

type MissionService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Events   *EventService
	Locks    Locker
	Risk     *RiskScanner
	Limiter  *SubjectLimiter
	Notifier Notifier
	Archiver ProofArchiver // nil keeps photo proofs inline

	ProofReuseThreshold int
	Now                 func() time.Time
}

func NewMissionService(db *gorm.DB, ledger *LedgerService, events *EventService, locks Locker, risk *RiskScanner, limiter *SubjectLimiter, notifier Notifier) *MissionService {
	return &MissionService{
		DB:                  db,
		Ledger:              ledger,
		Events:              events,
		Locks:               locks,
		Risk:                risk,
		Limiter:             limiter,
		Notifier:            notifier,
		ProofReuseThreshold: DefaultProofReuseThreshold,
		Now:                 func() time.Time { return time.Now().UTC() },
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RewardFor returns the coins and xp a subject on plan earns for mission.
func RewardFor(mission *models.Mission, plan models.PlanTier) (coins, xp int64) {
	coins = int64(math.Floor(float64(mission.RewardCoins) * plan.Rules().Multiplier))
	return coins, mission.RewardXP
}

// Submit validates and records a claim. Checks run in a fixed order: mission state, duplicate claim,
// daily plan limit, rate limit, risk, proof format, proof reuse.
func (s *MissionService) Submit(ctx context.Context, subjectID, missionID, rawProof string) (*models.MissionClaim, error) {
	var claim *models.MissionClaim
	err := WithLock(ctx, s.Locks, LockSubmit, subjectID, func() error {
		var err error
		claim, err = s.submit(ctx, subjectID, missionID, rawProof)
		return err
	})
	if err != nil {
		return nil, wrapInternal("submit mission", err)
	}
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, subjectID, models.NotifyMissionSubmitted, "Mission submitted", "Your proof is waiting for review.")
	}
	return claim, nil
}

func (s *MissionService) submit(ctx context.Context, subjectID, missionID, rawProof string) (*models.MissionClaim, error) {
	now := s.Now()

	mission, err := repository.New[models.Mission](s.DB).Get(ctx, missionID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && mission.Archived) {
		return nil, notFound("mission", missionID)
	}
	if err != nil {
		return nil, err
	}
	if mission.Expired(now) {
		return nil, newError(CodeExpired, "mission %s has expired", mission.ID)
	}
	if mission.EventScoped() {
		ok, err := s.Events.IsParticipant(ctx, s.DB, *mission.EventID, subjectID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, validation("join event %s before submitting its missions", *mission.EventID)
		}
	}

	acct, err := s.Ledger.EnsureAccount(ctx, subjectID, "")
	if err != nil {
		return nil, err
	}
	plan := NormalizePlan(string(acct.Plan))

	claims := repository.New[models.MissionClaim](s.DB)
	if err := s.checkDuplicate(ctx, claims, mission, subjectID, now); err != nil {
		return nil, err
	}

	if !mission.EventScoped() {
		limit := plan.Rules().DailyLimit
		var today int64
		err := s.DB.WithContext(ctx).Model(&models.MissionClaim{}).
			Joins("JOIN missions ON missions.id = mission_claims.mission_id").
			Where("mission_claims.subject_id = ? AND mission_claims.submitted_at >= ?", subjectID, startOfDay(now)).
			Where("missions.event_id IS NULL OR missions.event_id = ''").
			Count(&today).Error
		if err != nil {
			return nil, err
		}
		if today >= int64(limit) {
			return nil, limitReached(limit, "daily limit of %d submissions reached for the %s plan", limit, plan)
		}
	}

	if s.Limiter != nil && !s.Limiter.Allow(subjectID, now) {
		return nil, newError(CodeRateLimited, "submitting too fast, try again shortly")
	}

	if s.Risk != nil {
		coins, xp := RewardFor(mission, plan)
		if _, err := s.Risk.Check(ctx, acct, Deltas{Coins: coins, XP: xp}, models.SourceMissionReward, "submit_mission"); err != nil {
			return nil, err
		}
	}

	proof, err := ParseProof(mission.Verification, rawProof)
	if err != nil {
		return nil, err
	}
	if err := s.checkReuse(ctx, claims, proof, subjectID, mission.ID); err != nil {
		return nil, err
	}

	claim := &models.MissionClaim{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		MissionID:   mission.ID,
		Proof:       proof.Raw,
		ProofKey:    proof.Key,
		Status:      models.ClaimPending,
		SubmittedAt: now,
	}
	if proof.Data != nil && s.Archiver != nil {
		key := fmt.Sprintf("proofs/%s/%s.%s", subjectID, claim.ID, proof.Extension())
		url, err := s.Archiver.Archive(ctx, key, proof.ContentType, proof.Data)
		if err != nil {
			return nil, fmt.Errorf("archive proof: %w", err)
		}
		claim.ProofURL = url
		claim.Proof = ""
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claims.WithTx(tx).Insert(ctx, claim); err != nil {
			return err
		}
		return s.Ledger.TrackPendingTx(ctx, tx, subjectID, mission.ID, true)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("📝 [MISSION] %s submitted %s (claim %s)", subjectID, mission.ID, claim.ID)
	return claim, nil
}

func (s *MissionService) checkDuplicate(ctx context.Context, claims repository.Repository[models.MissionClaim], mission *models.Mission, subjectID string, now time.Time) error {
	existing, err := claims.List(ctx,
		repository.Where("subject_id = ? AND mission_id = ? AND status <> ?", subjectID, mission.ID, models.ClaimRejected))
	if err != nil {
		return err
	}
	for _, c := range existing {
		if c.Status == models.ClaimPending {
			return newError(CodeAlreadyPending, "mission %s is already awaiting review", mission.ID)
		}
		if mission.Repeat == models.RepeatDaily && c.SubmittedAt.Before(startOfDay(now)) {
			continue
		}
		return newError(CodeAlreadyCompleted, "mission %s already completed", mission.ID)
	}
	return nil
}

// checkReuse rejects a proof another subject already used, and a deep link the same subject used on another mission.
func (s *MissionService) checkReuse(ctx context.Context, claims repository.Repository[models.MissionClaim], proof *Proof, subjectID, missionID string) error {
	if proof.Key == "" {
		return nil
	}
	n, err := claims.Count(ctx,
		repository.Where("proof_key = ? AND subject_id <> ? AND status <> ?", proof.Key, subjectID, models.ClaimRejected))
	if err != nil {
		return err
	}
	if n > 0 {
		return validation("this proof was already submitted by another account")
	}

	threshold := s.ProofReuseThreshold
	if threshold <= 0 {
		threshold = DefaultProofReuseThreshold
	}
	if len([]rune(proof.Key)) <= threshold {
		return nil
	}
	n, err = claims.Count(ctx,
		repository.Where("proof_key = ? AND subject_id = ? AND mission_id <> ? AND status <> ?", proof.Key, subjectID, missionID, models.ClaimRejected))
	if err != nil {
		return err
	}
	if n > 0 {
		return validation("this proof was already used for another mission")
	}
	return nil
}

// ResolveResult describes what a resolution changed.
type ResolveResult struct {
	Claim    *models.MissionClaim    `json:"claim"`
	Coins    *BalanceResult          `json:"coins,omitempty"`
	XP       *BalanceResult          `json:"xp,omitempty"`
	Score    *models.EventScoreEntry `json:"score,omitempty"`
	Replayed bool                    `json:"replayed"` // nothing changed; the claim was already resolved this way
}

// Resolve approves or rejects a claim. Approving twice credits the reward once.
func (s *MissionService) Resolve(ctx context.Context, reviewerID, claimID string, approved bool) (*ResolveResult, error) {
	claim, err := repository.New[models.MissionClaim](s.DB).Get(ctx, claimID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("claim", claimID)
	}
	if err != nil {
		return nil, wrapInternal("load claim", err)
	}

	var res *ResolveResult
	err = WithLock(ctx, s.Locks, LockResolve, claim.SubjectID, func() error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			if approved {
				res, err = s.approveTx(ctx, tx, reviewerID, claimID)
			} else {
				res, err = s.rejectTx(ctx, tx, reviewerID, claimID)
			}
			return err
		})
	})
	if err != nil {
		return nil, wrapInternal("resolve claim", err)
	}
	if res.Replayed || s.Notifier == nil {
		return res, nil
	}

	if approved {
		s.Notifier.Notify(ctx, res.Claim.SubjectID, models.NotifyMissionApproved, "Mission approved",
			fmt.Sprintf("You earned %d coins and %d XP.", res.Claim.CoinsAwarded, res.Claim.XPAwarded))
		for _, r := range []*BalanceResult{res.XP, res.Coins} {
			s.Ledger.announceLevelUp(ctx, r)
		}
	} else {
		s.Notifier.Notify(ctx, res.Claim.SubjectID, models.NotifyMissionRejected, "Mission rejected",
			"Your proof was not accepted. You can submit again.")
	}
	return res, nil
}

func (s *MissionService) approveTx(ctx context.Context, tx *gorm.DB, reviewerID, claimID string) (*ResolveResult, error) {
	claims := repository.New[models.MissionClaim](tx)
	claim, err := claims.GetForUpdate(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.RewardGiven {
		return &ResolveResult{Claim: claim, Replayed: true}, nil
	}
	if claim.Status == models.ClaimRejected {
		return nil, validation("claim %s was rejected", claim.ID)
	}

	mission, err := repository.New[models.Mission](tx).Get(ctx, claim.MissionID)
	if err != nil {
		return nil, err
	}
	acct, err := s.Ledger.ensureAccountTx(ctx, tx, claim.SubjectID, "")
	if err != nil {
		return nil, err
	}
	coins, xp := RewardFor(mission, NormalizePlan(string(acct.Plan)))
	now := s.Now()
	res := &ResolveResult{}

	if xp > 0 {
		res.XP, err = s.Ledger.GrantIdempotentTx(ctx, tx, claim.SubjectID, models.InstrumentExperience, xp,
			models.SourceMissionReward, "Mission: "+mission.Title, MissionRewardKey(claim.ID, models.InstrumentExperience))
		if err != nil {
			return nil, err
		}
	}
	if coins > 0 {
		res.Coins, err = s.Ledger.GrantIdempotentTx(ctx, tx, claim.SubjectID, models.InstrumentCurrency, coins,
			models.SourceMissionReward, "Mission: "+mission.Title, MissionRewardKey(claim.ID, models.InstrumentCurrency))
		if err != nil {
			return nil, err
		}
	}
	if mission.EventScoped() {
		res.Score, err = s.Events.RecordScoreTx(ctx, tx, mission, claim, now)
		if err != nil {
			return nil, err
		}
	}
	if _, err := s.Ledger.RecordCompletionTx(ctx, tx, claim.SubjectID, mission.ID, now); err != nil {
		return nil, err
	}

	claim.Status = models.ClaimApproved
	claim.RewardGiven = true
	claim.CoinsAwarded = coins
	claim.XPAwarded = xp
	claim.ReviewedBy = reviewerID
	claim.ResolvedAt = &now
	if err := claims.Update(ctx, claim); err != nil {
		return nil, err
	}
	res.Claim = claim
	log.Printf("✅ [MISSION] claim %s approved by %s: +%d coins +%d xp", claim.ID, reviewerID, coins, xp)
	return res, nil
}

func (s *MissionService) rejectTx(ctx context.Context, tx *gorm.DB, reviewerID, claimID string) (*ResolveResult, error) {
	claims := repository.New[models.MissionClaim](tx)
	claim, err := claims.GetForUpdate(ctx, claimID)
	if err != nil {
		return nil, err
	}
	switch claim.Status {
	case models.ClaimRejected:
		return &ResolveResult{Claim: claim, Replayed: true}, nil
	case models.ClaimApproved:
		return nil, validation("claim %s was already approved", claim.ID)
	}

	now := s.Now()
	claim.Status = models.ClaimRejected
	claim.ReviewedBy = reviewerID
	claim.ResolvedAt = &now
	if err := claims.Update(ctx, claim); err != nil {
		return nil, err
	}
	if err := s.Ledger.TrackPendingTx(ctx, tx, claim.SubjectID, claim.MissionID, false); err != nil {
		return nil, err
	}
	log.Printf("❌ [MISSION] claim %s rejected by %s", claim.ID, reviewerID)
	return &ResolveResult{Claim: claim}, nil
}

// MissionRewardKey is the idempotency key of one instrument of a claim's reward.
func MissionRewardKey(claimID string, instrument models.Instrument) string {
	suffix := "coins"
	if instrument == models.InstrumentExperience {
		suffix = "xp"
	}
	return fmt.Sprintf("mission:%s:%s", claimID, suffix)
}

// ListMissions returns active missions that have not expired.
func (s *MissionService) ListMissions(ctx context.Context) ([]models.Mission, error) {
	rows, err := repository.New[models.Mission](s.DB).List(ctx,
		repository.Where("archived = ?", false),
		repository.Where("deadline IS NULL OR deadline >= ?", s.Now()),
		repository.OrderBy("created_at asc"))
	if err != nil {
		return nil, internal("list missions", err)
	}
	return rows, nil
}

// ListClaims returns claims with the given status, oldest first. Empty status lists all.
func (s *MissionService) ListClaims(ctx context.Context, status models.ClaimStatus, limit int) ([]models.MissionClaim, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	scopes := []repository.Scope{repository.OrderBy("submitted_at asc"), repository.Limit(limit)}
	if status != "" {
		scopes = append(scopes, repository.Where("status = ?", status))
	}
	rows, err := repository.New[models.MissionClaim](s.DB).List(ctx, scopes...)
	if err != nil {
		return nil, internal("list claims", err)
	}
	return rows, nil
}
