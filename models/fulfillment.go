package models

import "time"

// Deliverable is a store item that can be redeemed for coins.
type Deliverable struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Slug        string    `gorm:"type:varchar(128);uniqueIndex" json:"slug"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Price       int64     `gorm:"not null" json:"price"`
	Physical    bool      `gorm:"not null;default:false" json:"physical"` // needs manual production
	Stock       *int      `json:"stock,omitempty"`                        // nil = unlimited
	Archived    bool      `gorm:"not null;default:false" json:"archived"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// RedemptionStatus tracks whether a redeemed deliverable has been produced.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
)

// Redemption is the purchase record for one deliverable.
type Redemption struct {
	ID            string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SubjectID     string           `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	DeliverableID string           `gorm:"type:varchar(64);not null;index" json:"deliverable_id"`
	PricePaid     int64            `gorm:"not null" json:"price_paid"`
	LedgerEntryID string           `gorm:"type:varchar(64)" json:"ledger_entry_id"`
	Status        RedemptionStatus `gorm:"type:varchar(16);not null" json:"status"`
	CreatedAt     time.Time        `gorm:"not null" json:"created_at"`
	FulfilledAt   *time.Time       `json:"fulfilled_at,omitempty"`
}

// QueueStatus is the state of a fulfillment queue entry.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueDone    QueueStatus = "done"
)

// QueueEntry is a redeemed deliverable waiting for manual production.
type QueueEntry struct {
	ID            string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SubjectID     string      `gorm:"type:varchar(64);not null;index:idx_queue_subject_deliverable" json:"subject_id"`
	DeliverableID string      `gorm:"type:varchar(64);not null;index:idx_queue_subject_deliverable" json:"deliverable_id"`
	RedemptionID  string      `gorm:"type:varchar(64);index" json:"redemption_id"`
	Status        QueueStatus `gorm:"type:varchar(16);not null" json:"status"`
	Priority      int         `gorm:"not null;default:0;index" json:"priority"`
	CreatedAt     time.Time   `gorm:"not null" json:"created_at"`
}

// FulfillmentRecord is the immutable history row written when a queue entry is completed.
type FulfillmentRecord struct {
	ID            string    `gorm:"primaryKey;type:varchar(64)" json:"id"` // same id as the queue entry
	SubjectID     string    `gorm:"type:varchar(64);not null;index" json:"subject_id"`
	DeliverableID string    `gorm:"type:varchar(64);not null" json:"deliverable_id"`
	RedemptionID  string    `gorm:"type:varchar(64)" json:"redemption_id"`
	Priority      int       `gorm:"not null" json:"priority"`
	CompletedBy   string    `gorm:"type:varchar(64)" json:"completed_by,omitempty"`
	QueuedAt      time.Time `gorm:"not null" json:"queued_at"`
	CompletedAt   time.Time `gorm:"not null" json:"completed_at"`
}

// AsQueueEntry renders the history row in queue form.
func (r *FulfillmentRecord) AsQueueEntry() QueueEntry {
	return QueueEntry{
		ID:            r.ID,
		SubjectID:     r.SubjectID,
		DeliverableID: r.DeliverableID,
		RedemptionID:  r.RedemptionID,
		Status:        QueueDone,
		Priority:      r.Priority,
		CreatedAt:     r.QueuedAt,
	}
}
