package services

import (
	"context"
	"sync/atomic"
	"testing"

	"economy-engine/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNormalizePlan(t *testing.T) {
	cases := map[string]models.PlanTier{
		"":        models.PlanFree,
		"free":    models.PlanFree,
		" Pro ":   models.PlanPro,
		"basic":   models.PlanFree,
		"trial":   models.PlanFree,
		"plus":    models.PlanStarter,
		"premium": models.PlanPro,
		"VIP":     models.PlanElite,
		"gold":    models.PlanElite,
		"unknown": models.PlanFree,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizePlan(raw), raw)
	}
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, models.RoleModerator, NormalizeRole("mod"))
	assert.Equal(t, models.RoleAdmin, NormalizeRole("Administrator"))
	assert.Equal(t, models.RoleAdmin, NormalizeRole("superadmin"))
	assert.Equal(t, models.RoleOwner, NormalizeRole("owner"))
	assert.Equal(t, models.RoleMember, NormalizeRole("hacker"))
}

func TestRepairRestoresInvariants(t *testing.T) {
	acct := models.Account{
		ID:                "u1",
		Coins:             -10,
		XP:                3500,
		Level:             1,
		Plan:              "vip",
		Role:              "mod",
		MissionsCompleted: -1,
		CompletedMissions: models.StringSet{"m1", "m1", "", "m2"},
	}

	fixed := Repair(acct, DefaultLevelRules)
	assert.Zero(t, fixed.Coins)
	assert.EqualValues(t, 3500, fixed.XP)
	assert.Equal(t, 3, fixed.Level)
	assert.EqualValues(t, 6000, fixed.XPToNextLevel)
	assert.Equal(t, models.PlanElite, fixed.Plan)
	assert.Equal(t, models.RoleModerator, fixed.Role)
	assert.Zero(t, fixed.MissionsCompleted)
	assert.Equal(t, models.StringSet{"m1", "m2"}, fixed.CompletedMissions)
	assert.NotNil(t, fixed.PendingMissions)

	// input untouched
	assert.EqualValues(t, -10, acct.Coins)
	assert.True(t, NeedsRepair(acct, DefaultLevelRules))
	assert.False(t, NeedsRepair(fixed, DefaultLevelRules))
}

func TestRepairIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	plans := gen.OneConstOf("", "free", "starter", "pro", "elite", "vip", "premium", "junk")
	roles := gen.OneConstOf("", "member", "mod", "admin", "owner", "superadmin", "junk")

	properties.Property("Repair(Repair(a)) == Repair(a)", prop.ForAll(
		func(coins, xp int64, level int, plan, role string, missions []string) bool {
			acct := models.Account{
				ID:                "u",
				Coins:             coins,
				XP:                xp,
				Level:             level,
				Plan:              models.PlanTier(plan),
				Role:              models.Role(role),
				CompletedMissions: models.StringSet(missions),
			}
			once := Repair(acct, DefaultLevelRules)
			twice := Repair(once, DefaultLevelRules)
			return assert.ObjectsAreEqual(once, twice) && !NeedsRepair(once, DefaultLevelRules)
		},
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Int64Range(-1_000_000, 50_000_000),
		gen.IntRange(-5, 500),
		plans,
		roles,
		gen.SliceOf(gen.OneConstOf("", "a", "b", "c")),
	))

	properties.TestingRun(t)
}

func TestRepairAllPersistsFixes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Account{ID: "bad", Coins: -3, XP: 1200, Level: 7, Plan: "gold", Role: models.RoleMember}).Error)
	require.NoError(t, db.Create(&models.Account{
		ID: "good", Level: 1, XPToNextLevel: 1000, Plan: models.PlanFree, Role: models.RoleMember,
		CompletedMissions: models.StringSet{}, PendingMissions: models.StringSet{},
	}).Error)

	guard := NewGuard(db, DefaultLevelRules)
	n, err := guard.RepairAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var acct models.Account
	require.NoError(t, db.First(&acct, "id = ?", "bad").Error)
	assert.Zero(t, acct.Coins)
	assert.Equal(t, 2, acct.Level)
	assert.Equal(t, models.PlanElite, acct.Plan)

	n, err = guard.RepairAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepairAllKeepsCreditPostedMidSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", 100)
	require.NoError(t, h.db.Model(&models.Account{}).Where("id = ?", "u1").Update("plan", "vip").Error)

	// Post a credit right after the sweep lists the accounts and before it repairs them.
	var fired atomic.Bool
	require.NoError(t, h.db.Callback().Query().After("gorm:query").Register("test:credit_mid_sweep", func(tx *gorm.DB) {
		if tx.Statement.Table != "accounts" || !fired.CompareAndSwap(false, true) {
			return
		}
		_, err := h.ledger.Credit(context.Background(), "u1", models.InstrumentCurrency, 50, models.SourceAdminGrant, "mid sweep")
		assert.NoError(t, err)
	}))

	guard := NewGuard(h.db, DefaultLevelRules)
	n, err := guard.RepairAll(ctx)
	require.NoError(t, err)
	require.True(t, fired.Load())
	assert.Equal(t, 1, n)

	var acct models.Account
	require.NoError(t, h.db.First(&acct, "id = ?", "u1").Error)
	assert.Equal(t, models.PlanElite, acct.Plan)
	assert.EqualValues(t, 150, acct.Coins)
	assert.Equal(t, acct.Coins, h.ledgerSum(t, "u1", models.InstrumentCurrency))
}

func TestRepairedColumnsOnlyListsChanges(t *testing.T) {
	acct := models.Account{
		ID: "u1", Coins: 40, XP: 1500, Level: 2, XPToNextLevel: 3000,
		Plan: "premium", Role: models.RoleMember,
		CompletedMissions: models.StringSet{"m1"}, PendingMissions: models.StringSet{},
	}
	assert.Equal(t, []string{"plan"}, repairedColumns(acct, Repair(acct, DefaultLevelRules)))

	acct.Plan = models.PlanPro
	acct.Coins = -1
	acct.PendingMissions = nil
	assert.Equal(t, []string{"coins", "pending_missions"}, repairedColumns(acct, Repair(acct, DefaultLevelRules)))
}

func TestReconcileReportsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "u1", 100)
	h.fund(t, "u2", 40)

	guard := NewGuard(h.db, DefaultLevelRules)
	drifts, err := guard.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	require.NoError(t, h.db.Model(&models.Account{}).Where("id = ?", "u2").Update("coins", 999).Error)
	drifts, err = guard.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, Drift{SubjectID: "u2", Instrument: models.InstrumentCurrency, Balance: 999, LedgerSum: 40}, drifts[0])
}
