package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"economy-engine/models"
	"economy-engine/repository"

	"gorm.io/gorm"
)

// legacyPlans maps historical plan names onto the current tiers.
var legacyPlans = map[string]models.PlanTier{
	"":        models.PlanFree,
	"basic":   models.PlanFree,
	"trial":   models.PlanFree,
	"plus":    models.PlanStarter,
	"premium": models.PlanPro,
	"vip":     models.PlanElite,
	"gold":    models.PlanElite,
}

// NormalizePlan maps any stored plan string to a canonical tier.
func NormalizePlan(raw string) models.PlanTier {
	p := models.PlanTier(strings.ToLower(strings.TrimSpace(raw)))
	if p.Valid() {
		return p
	}
	if mapped, ok := legacyPlans[string(p)]; ok {
		return mapped
	}
	return models.PlanFree
}

// NormalizeRole maps any stored role string to a known role.
func NormalizeRole(raw string) models.Role {
	r := models.Role(strings.ToLower(strings.TrimSpace(raw)))
	if r.Valid() {
		return r
	}
	switch r {
	case "mod":
		return models.RoleModerator
	case "administrator", "superadmin":
		return models.RoleAdmin
	}
	return models.RoleMember
}

// Repair returns a copy of acct with every account invariant restored. It is pure and idempotent.
func Repair(acct models.Account, rules LevelRules) models.Account {
	out := acct
	if out.Coins < 0 {
		out.Coins = 0
	}
	if out.XP < 0 {
		out.XP = 0
	}
	if out.MissionsCompleted < 0 {
		out.MissionsCompleted = 0
	}
	if out.MonthlyCompleted < 0 {
		out.MonthlyCompleted = 0
	}
	out.Level = rules.LevelForXP(out.XP)
	out.XPToNextLevel = rules.XPToNextLevel(out.Level)
	out.Plan = NormalizePlan(string(out.Plan))
	out.Role = NormalizeRole(string(out.Role))
	out.CompletedMissions = dedupe(acct.CompletedMissions)
	out.PendingMissions = dedupe(acct.PendingMissions)
	return out
}

// NeedsRepair reports whether Repair would change acct.
func NeedsRepair(acct models.Account, rules LevelRules) bool {
	return len(repairedColumns(acct, Repair(acct, rules))) > 0
}

// repairedColumns lists the columns that differ between an account and its repaired copy.
func repairedColumns(before, after models.Account) []string {
	var cols []string
	if after.Coins != before.Coins {
		cols = append(cols, "coins")
	}
	if after.XP != before.XP {
		cols = append(cols, "xp")
	}
	if after.MissionsCompleted != before.MissionsCompleted {
		cols = append(cols, "missions_completed")
	}
	if after.MonthlyCompleted != before.MonthlyCompleted {
		cols = append(cols, "monthly_completed")
	}
	if after.Level != before.Level {
		cols = append(cols, "level")
	}
	if after.XPToNextLevel != before.XPToNextLevel {
		cols = append(cols, "xp_to_next_level")
	}
	if after.Plan != before.Plan {
		cols = append(cols, "plan")
	}
	if after.Role != before.Role {
		cols = append(cols, "role")
	}
	if before.CompletedMissions == nil || !slices.Equal(before.CompletedMissions, after.CompletedMissions) {
		cols = append(cols, "completed_missions")
	}
	if before.PendingMissions == nil || !slices.Equal(before.PendingMissions, after.PendingMissions) {
		cols = append(cols, "pending_missions")
	}
	return cols
}

func dedupe(ids models.StringSet) models.StringSet {
	out := make(models.StringSet, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Guard runs Repair against stored accounts and audits balances against the ledger.
type Guard struct {
	DB     *gorm.DB
	Levels LevelRules
}

func NewGuard(db *gorm.DB, levels LevelRules) *Guard {
	return &Guard{DB: db, Levels: levels}
}

// RepairAll sweeps every account and persists the ones Repair changes.
// Each account is re-read under a row lock and only the repaired columns are written,
// so balances posted while the sweep runs are kept.
func (g *Guard) RepairAll(ctx context.Context) (int, error) {
	var ids []string
	if err := g.DB.WithContext(ctx).Model(&models.Account{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	var repaired int
	for _, id := range ids {
		changed, err := g.repairOne(ctx, id)
		if err != nil {
			return repaired, fmt.Errorf("repair account %s: %w", id, err)
		}
		if changed {
			repaired++
		}
	}
	return repaired, nil
}

func (g *Guard) repairOne(ctx context.Context, id string) (bool, error) {
	var changed bool
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := repository.New[models.Account](tx).GetForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		fixed := Repair(*acct, g.Levels)
		cols := repairedColumns(*acct, fixed)
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(acct).Select(cols).Updates(&fixed).Error; err != nil {
			return err
		}
		changed = true
		log.Printf("🛠️  [GUARD] repaired account %s (%s)", id, strings.Join(cols, ", "))
		return nil
	})
	return changed, err
}

// Drift is a mismatch between a stored balance and its ledger sum.
type Drift struct {
	SubjectID  string            `json:"subject_id"`
	Instrument models.Instrument `json:"instrument"`
	Balance    int64             `json:"balance"`
	LedgerSum  int64             `json:"ledger_sum"`
}

// Reconcile compares the account balances with the ledger sums.
func (g *Guard) Reconcile(ctx context.Context, subjectID string) ([]Drift, error) {
	var acct models.Account
	if err := g.DB.WithContext(ctx).Where("id = ?", subjectID).First(&acct).Error; err != nil {
		return nil, err
	}
	var drifts []Drift
	for _, inst := range []models.Instrument{models.InstrumentCurrency, models.InstrumentExperience} {
		var sum int64
		err := g.DB.WithContext(ctx).Model(&models.LedgerEntry{}).
			Where("subject_id = ? AND instrument = ?", subjectID, inst).
			Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error
		if err != nil {
			return nil, err
		}
		if bal := acct.Balance(inst); bal != sum {
			drifts = append(drifts, Drift{SubjectID: subjectID, Instrument: inst, Balance: bal, LedgerSum: sum})
		}
	}
	return drifts, nil
}

// ReconcileAll audits every account and logs drift. It does not rewrite balances.
func (g *Guard) ReconcileAll(ctx context.Context) ([]Drift, error) {
	var ids []string
	if err := g.DB.WithContext(ctx).Model(&models.Account{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	var all []Drift
	for _, id := range ids {
		drifts, err := g.Reconcile(ctx, id)
		if err != nil {
			return all, err
		}
		for _, d := range drifts {
			log.Printf("[ERROR] [GUARD] ledger drift subject=%s %s balance=%d ledger=%d",
				d.SubjectID, d.Instrument, d.Balance, d.LedgerSum)
		}
		all = append(all, drifts...)
	}
	return all, nil
}
