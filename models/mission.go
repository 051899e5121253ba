package models

import "time"

// VerificationMode is the kind of proof a mission accepts.
type VerificationMode string

const (
	VerificationLink         VerificationMode = "link"
	VerificationPhoto        VerificationMode = "photo"
	VerificationConfirmation VerificationMode = "confirmation"
)

// RepeatPolicy controls whether a mission may be completed more than once.
type RepeatPolicy string

const (
	RepeatOnce  RepeatPolicy = "once"
	RepeatDaily RepeatPolicy = "daily"
)

// Mission is a reward-granting task definition.
type Mission struct {
	ID           string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Slug         string           `gorm:"type:varchar(128);uniqueIndex" json:"slug"`
	Title        string           `gorm:"not null" json:"title"`
	Description  string           `gorm:"type:text" json:"description,omitempty"`
	RewardCoins  int64            `gorm:"not null;default:0" json:"reward_coins"`
	RewardXP     int64            `gorm:"not null;default:0" json:"reward_xp"`
	Verification VerificationMode `gorm:"type:varchar(16);not null" json:"verification"`
	Deadline     *time.Time       `json:"deadline,omitempty"`
	EventID      *string          `gorm:"type:varchar(64);index" json:"event_id,omitempty"`
	EventPoints  int64            `gorm:"not null;default:0" json:"event_points"`
	Repeat       RepeatPolicy     `gorm:"type:varchar(16);not null;default:'once'" json:"repeat"`
	Archived     bool             `gorm:"not null;default:false" json:"archived"`
	CreatedAt    time.Time        `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time        `json:"updated_at" gorm:"autoUpdateTime"`
}

// Expired reports whether the mission deadline is in the past.
func (m *Mission) Expired(now time.Time) bool {
	return m.Deadline != nil && m.Deadline.Before(now)
}

// EventScoped reports whether the mission scores against an event.
func (m *Mission) EventScoped() bool {
	return m.EventID != nil && *m.EventID != ""
}

// ClaimStatus is the stored state of a mission claim.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimApproved || s == ClaimRejected
}

// MissionClaim is one subject's attempt at one mission.
type MissionClaim struct {
	ID           string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SubjectID    string      `gorm:"type:varchar(64);not null;index:idx_claim_subject_mission" json:"subject_id"`
	MissionID    string      `gorm:"type:varchar(64);not null;index:idx_claim_subject_mission" json:"mission_id"`
	Proof        string      `gorm:"type:text" json:"-"`
	ProofKey     string      `gorm:"type:varchar(512);index" json:"-"`
	ProofURL     string      `gorm:"type:text" json:"proof_url,omitempty"`
	Status       ClaimStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	RewardGiven  bool        `gorm:"not null;default:false" json:"reward_given"`
	CoinsAwarded int64       `gorm:"not null;default:0" json:"coins_awarded"`
	XPAwarded    int64       `gorm:"not null;default:0" json:"xp_awarded"`
	ReviewedBy   string      `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	SubmittedAt  time.Time   `gorm:"not null;index" json:"submitted_at"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
}
