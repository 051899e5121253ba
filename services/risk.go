package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"economy-engine/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// trustedSources skip fraud scoring. Only internal callers set a ledger source.
var trustedSources = map[models.Source]bool{
	models.SourceAdminGrant:   true,
	models.SourceSystemReward: true,
	models.SourceEventPayout:  true,
	models.SourceJackpot:      true,
	models.SourceRaffle:       true,
	models.SourceLevelUpBonus: true,
}

// IsTrustedSource reports exact membership in the trusted source set.
func IsTrustedSource(s models.Source) bool {
	return trustedSources[s]
}

// RiskRules are the scanner thresholds. A delta strictly above a threshold trips it.
type RiskRules struct {
	HighCoins      int64
	HighXP         int64
	MediumCoins    int64
	MediumXP       int64
	VelocityWindow time.Duration
	VelocityCoins  int64 // 0 disables the velocity check
}

var DefaultRiskRules = RiskRules{
	HighCoins:      5000,
	HighXP:         8000,
	MediumCoins:    1000,
	MediumXP:       2000,
	VelocityWindow: time.Hour,
	VelocityCoins:  20000,
}

// Deltas are the balance changes an operation would cause.
type Deltas struct {
	Coins int64
	XP    int64
}

// Verdict is a scored risk level with the reason behind it.
type Verdict struct {
	Level    models.RiskLevel
	Reason   string
	Velocity int64
}

type RiskScanner struct {
	DB    *gorm.DB
	Rules RiskRules
	Now   func() time.Time
}

func NewRiskScanner(db *gorm.DB, rules RiskRules) *RiskScanner {
	return &RiskScanner{DB: db, Rules: rules, Now: func() time.Time { return time.Now().UTC() }}
}

// Score classifies the deltas for actor. It never writes.
func (s *RiskScanner) Score(ctx context.Context, actor *models.Account, d Deltas, source models.Source) (Verdict, error) {
	if IsTrustedSource(source) {
		return Verdict{Level: models.RiskNormal, Reason: "trusted source"}, nil
	}
	if actor != nil && actor.Role.Elevated() {
		return Verdict{Level: models.RiskNormal, Reason: "elevated role"}, nil
	}

	var velocity int64
	if s.Rules.VelocityCoins > 0 && actor != nil && d.Coins > 0 {
		since := s.Now().Add(-s.Rules.VelocityWindow)
		err := s.DB.WithContext(ctx).Model(&models.LedgerEntry{}).
			Where("subject_id = ? AND instrument = ? AND direction = ? AND created_at >= ?",
				actor.ID, models.InstrumentCurrency, models.DirectionEarn, since).
			Select("COALESCE(SUM(amount), 0)").Scan(&velocity).Error
		if err != nil {
			return Verdict{}, fmt.Errorf("velocity query: %w", err)
		}
		if velocity+d.Coins > s.Rules.VelocityCoins {
			return Verdict{
				Level:    models.RiskCritical,
				Reason:   fmt.Sprintf("earned %d coins in %s, +%d exceeds %d", velocity, s.Rules.VelocityWindow, d.Coins, s.Rules.VelocityCoins),
				Velocity: velocity,
			}, nil
		}
	}

	switch {
	case d.Coins > s.Rules.HighCoins || d.XP > s.Rules.HighXP:
		return Verdict{Level: models.RiskHigh, Reason: fmt.Sprintf("coins=%d xp=%d above high threshold", d.Coins, d.XP), Velocity: velocity}, nil
	case d.Coins > s.Rules.MediumCoins || d.XP > s.Rules.MediumXP:
		return Verdict{Level: models.RiskMedium, Reason: fmt.Sprintf("coins=%d xp=%d above medium threshold", d.Coins, d.XP), Velocity: velocity}, nil
	}
	return Verdict{Level: models.RiskNormal, Velocity: velocity}, nil
}

// Check scores the deltas, records non-normal verdicts and returns ErrFraudBlocked for blocking ones.
// The audit row is written on s.DB so it survives a rollback of the caller's transaction.
func (s *RiskScanner) Check(ctx context.Context, actor *models.Account, d Deltas, source models.Source, operation string) (Verdict, error) {
	v, err := s.Score(ctx, actor, d, source)
	if err != nil {
		return v, internal("risk score", err)
	}
	if v.Level == models.RiskNormal {
		return v, nil
	}

	subjectID := ""
	if actor != nil {
		subjectID = actor.ID
	}
	row := models.SecurityAuditLog{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Source:    source,
		Operation: operation,
		Coins:     d.Coins,
		XP:        d.XP,
		Velocity:  v.Velocity,
		Risk:      v.Level,
		Reason:    v.Reason,
		CreatedAt: s.Now(),
	}
	if err := s.DB.WithContext(context.WithoutCancel(ctx)).Create(&row).Error; err != nil {
		log.Printf("[ERROR] [RISK] audit write for %s: %v", subjectID, err)
	}
	log.Printf("🚨 [RISK] %s %s subject=%s: %s", v.Level, operation, subjectID, v.Reason)

	if v.Level.Blocking() {
		return v, ErrFraudBlocked
	}
	return v, nil
}
