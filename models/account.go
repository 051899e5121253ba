package models

import (
	"time"

	"gorm.io/gorm"
)

// Account is the subject's economy record: balances, derived progression and mission bookkeeping.
// Only the ledger service and the consistency guard write to it.
type Account struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username string `gorm:"type:varchar(128)" json:"username"`

	// Balances
	Coins int64 `gorm:"not null;default:0" json:"coins"`
	XP    int64 `gorm:"not null;default:0" json:"xp"`

	// Derived progression (level == f(xp))
	Level         int   `gorm:"not null;default:1" json:"level"`
	XPToNextLevel int64 `gorm:"not null;default:0" json:"xp_to_next_level"`

	Plan PlanTier `gorm:"type:varchar(32);not null;default:'free'" json:"plan"`
	Role Role     `gorm:"type:varchar(32);not null;default:'member'" json:"role"`

	// Activity counters
	MissionsCompleted int64  `gorm:"not null;default:0" json:"missions_completed"`
	MonthlyCompleted  int64  `gorm:"not null;default:0" json:"monthly_completed"`
	MonthlyPeriod     string `gorm:"type:varchar(7)" json:"monthly_period,omitempty"` // "2006-01"

	CompletedMissions StringSet `gorm:"type:text;serializer:json" json:"completed_missions"`
	PendingMissions   StringSet `gorm:"type:text;serializer:json" json:"pending_missions"`

	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`

	Timestamps
}

// Balance returns the balance held for the given instrument.
func (a *Account) Balance(instrument Instrument) int64 {
	if instrument == InstrumentExperience {
		return a.XP
	}
	return a.Coins
}

// SetBalance overwrites the balance for the given instrument.
func (a *Account) SetBalance(instrument Instrument, value int64) {
	if instrument == InstrumentExperience {
		a.XP = value
		return
	}
	a.Coins = value
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// StringSet is an ordered list of unique ids stored as JSON.
type StringSet []string

// Contains reports whether id is in the set.
func (s StringSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Add returns the set with id appended if it was missing.
func (s StringSet) Add(id string) StringSet {
	if s.Contains(id) {
		return s
	}
	return append(s, id)
}

// Remove returns the set without id.
func (s StringSet) Remove(id string) StringSet {
	out := make(StringSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
