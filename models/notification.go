package models

import "time"

// NotificationKind categorizes a notification.
type NotificationKind string

const (
	NotifyMissionSubmitted NotificationKind = "mission_submitted"
	NotifyMissionApproved  NotificationKind = "mission_approved"
	NotifyMissionRejected  NotificationKind = "mission_rejected"
	NotifyLevelUp          NotificationKind = "level_up"
	NotifyEventJoined      NotificationKind = "event_joined"
	NotifyEventPayout      NotificationKind = "event_payout"
	NotifyRedemption       NotificationKind = "redemption"
	NotifyFulfilled        NotificationKind = "fulfilled"
)

// Notification is a stored "tell subject X about Y" message. Delivery is someone else's job.
type Notification struct {
	ID        string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SubjectID string           `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	Kind      NotificationKind `gorm:"type:varchar(32);not null" json:"kind"`
	Title     string           `gorm:"not null" json:"title"`
	Body      string           `gorm:"type:text" json:"body,omitempty"`
	Viewed    bool             `gorm:"not null;default:false;index" json:"viewed"`
	CreatedAt time.Time        `gorm:"not null;index" json:"created_at"`
}

// RiskLevel is the verdict of the fraud scanner.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "normal"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Blocking reports whether the verdict must stop the triggering operation.
func (r RiskLevel) Blocking() bool {
	return r == RiskHigh || r == RiskCritical
}

// SecurityAuditLog stores every non-normal risk verdict with its triggering deltas.
type SecurityAuditLog struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SubjectID string    `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	Source    Source    `gorm:"type:varchar(64)" json:"source"`
	Operation string    `gorm:"type:varchar(64)" json:"operation"`
	Coins     int64     `json:"coins"`
	XP        int64     `json:"xp"`
	Velocity  int64     `json:"velocity"`
	Risk      RiskLevel `gorm:"type:varchar(16);not null;index" json:"risk"`
	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
