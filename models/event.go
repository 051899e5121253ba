package models

import "time"

// Event is a time-boxed competition with its own score table.
type Event struct {
	ID               string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Slug             string     `gorm:"type:varchar(128);uniqueIndex" json:"slug"`
	Name             string     `gorm:"not null" json:"name"`
	EntryFee         int64      `gorm:"not null;default:0" json:"entry_fee"`
	ElevatedEntryFee int64      `gorm:"not null;default:0" json:"elevated_entry_fee"`
	Capacity         int        `gorm:"not null;default:0" json:"capacity"` // 0 = unlimited
	StartsAt         *time.Time `json:"starts_at,omitempty"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// FeeFor returns the entry fee charged for the tier.
func (e *Event) FeeFor(tier ParticipationTier) int64 {
	if tier == TierElevated && e.ElevatedEntryFee > 0 {
		return e.ElevatedEntryFee
	}
	return e.EntryFee
}

// ParticipationTier is the access level bought when joining an event.
type ParticipationTier string

const (
	TierStandard ParticipationTier = "standard"
	TierElevated ParticipationTier = "elevated"
)

// Valid reports whether t is a known tier.
func (t ParticipationTier) Valid() bool {
	return t == TierStandard || t == TierElevated
}

// EventParticipation records that a subject joined an event.
type EventParticipation struct {
	ID        string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EventID   string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_event_subject" json:"event_id"`
	SubjectID string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_event_subject" json:"subject_id"`
	Tier      ParticipationTier `gorm:"type:varchar(16);not null" json:"tier"`
	FeePaid   int64             `gorm:"not null;default:0" json:"fee_paid"`
	JoinedAt  time.Time         `gorm:"not null;index" json:"joined_at"`
}

// EventScoreEntry is an append-only point grant inside an event.
type EventScoreEntry struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	EventID   string    `gorm:"type:varchar(64);not null;index" json:"event_id"`
	SubjectID string    `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	MissionID string    `gorm:"type:varchar(64)" json:"mission_id"`
	ClaimID   string    `gorm:"type:varchar(64);uniqueIndex" json:"claim_id"`
	Points    int64     `gorm:"not null" json:"points"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// RankRow is one line of an event leaderboard.
type RankRow struct {
	Rank      int    `json:"rank"`
	SubjectID string `json:"subject_id"`
	Username  string `json:"username,omitempty"`
	Score     int64  `json:"score"`
	IsViewer  bool   `json:"is_viewer,omitempty"`
}
