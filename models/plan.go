package models

// PlanTier is the subscription level of an account. Higher tiers earn more per mission,
// may submit more per day and are fulfilled first.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanStarter PlanTier = "starter"
	PlanPro     PlanTier = "pro"
	PlanElite   PlanTier = "elite"
)

// PlanRules are the economy parameters attached to a tier.
type PlanRules struct {
	Ordinal    int     `json:"ordinal"`
	Multiplier float64 `json:"multiplier"`
	DailyLimit int     `json:"daily_limit"`
}

var planRules = map[PlanTier]PlanRules{
	PlanFree:    {Ordinal: 0, Multiplier: 1.0, DailyLimit: 3},
	PlanStarter: {Ordinal: 1, Multiplier: 1.25, DailyLimit: 5},
	PlanPro:     {Ordinal: 2, Multiplier: 1.5, DailyLimit: 10},
	PlanElite:   {Ordinal: 3, Multiplier: 2.0, DailyLimit: 25},
}

// Valid reports whether p is one of the canonical tiers.
func (p PlanTier) Valid() bool {
	_, ok := planRules[p]
	return ok
}

// Rules returns the tier parameters, falling back to the free tier for unknown values.
func (p PlanTier) Rules() PlanRules {
	if r, ok := planRules[p]; ok {
		return r
	}
	return planRules[PlanFree]
}

// Priority is the fulfillment queue priority for the tier.
func (p PlanTier) Priority() int {
	return p.Rules().Ordinal
}

// Role is the administrative role of an account.
type Role string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
	RoleOwner     Role = "owner"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleModerator, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Elevated reports whether r holds administrative privileges.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RoleOwner
}
