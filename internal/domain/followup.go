package domain

import "time"

// FollowUp is a deferred re-call intent. Rows are deleted on successful
// resubmission, on a permanent failure signature, or by stuck-entry cleanup.
type FollowUp struct {
	ID           uint      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ContactID    string    `json:"contact_id" gorm:"column:contact_id;index"`
	FollowUpAt   time.Time `json:"follow_up_at_utc" gorm:"column:follow_up_at_utc;index"`
	Status       string    `json:"status" gorm:"column:status"`
	Province     string    `json:"province" gorm:"column:province"`
	Service      Service   `json:"service" gorm:"column:service"`
	FailureCount int       `json:"failure_count" gorm:"column:failure_count"`
	LastFailure  string    `json:"last_failure" gorm:"column:last_failure"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

func (FollowUp) TableName() string {
	return "follow_ups"
}

// FollowUpStatusPending is the only live status a follow-up can be in.
const FollowUpStatusPending = "pending"
