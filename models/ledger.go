package models

import "time"

// Instrument is the balance a ledger entry applies to.
type Instrument string

const (
	InstrumentCurrency   Instrument = "CURRENCY"
	InstrumentExperience Instrument = "EXPERIENCE"
)

// Valid reports whether i is a known instrument.
func (i Instrument) Valid() bool {
	return i == InstrumentCurrency || i == InstrumentExperience
}

// Direction tells whether an entry added to or removed from a balance.
type Direction string

const (
	DirectionEarn  Direction = "earn"
	DirectionSpend Direction = "spend"
)

// Source tags the origin of a ledger entry. Sources are set by internal callers only.
type Source string

const (
	SourceMissionReward Source = "mission_reward"
	SourceLevelUpBonus  Source = "level_up_bonus"
	SourceStorePurchase Source = "store_purchase"
	SourceEventEntryFee Source = "event_entry_fee"
	SourceEventPayout   Source = "event_payout"
	SourceAdminGrant    Source = "admin_grant"
	SourceAdminDebit    Source = "admin_debit"
	SourceSystemReward  Source = "system_reward"
	SourceJackpot       Source = "jackpot"
	SourceRaffle        Source = "raffle"
)

// LedgerEntry is an immutable record of one balance mutation.
type LedgerEntry struct {
	ID             string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SubjectID      string     `gorm:"type:varchar(64);not null;index:idx_ledger_subject_instrument" json:"subject_id"`
	Instrument     Instrument `gorm:"type:varchar(16);not null;index:idx_ledger_subject_instrument" json:"instrument"`
	Amount         int64      `gorm:"not null" json:"amount"` // signed
	Direction      Direction  `gorm:"type:varchar(8);not null" json:"direction"`
	Source         Source     `gorm:"type:varchar(64);not null;index" json:"source"`
	Description    string     `gorm:"type:text" json:"description"`
	BalanceAfter   int64      `gorm:"not null" json:"balance_after"`
	IdempotencyKey *string    `gorm:"type:varchar(191);uniqueIndex" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
}
