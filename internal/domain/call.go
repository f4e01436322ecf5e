package domain

import (
	"time"
)

// Service is one of the three product lines a prospect can be called about.
// It drives the voice agent, the outbound phone number and the rep pool.
type Service string

const (
	ServiceInfissi Service = "Infissi"
	ServiceVetrate Service = "Vetrate"
	ServicePergole Service = "Pergole"
)

// ValidService reports whether s names a known service.
func ValidService(s string) bool {
	switch Service(s) {
	case ServiceInfissi, ServiceVetrate, ServicePergole:
		return true
	}
	return false
}

// BusinessName returns the brand the agent introduces itself as for a service.
func (s Service) BusinessName() string {
	if s == ServiceInfissi {
		return "Ristrutturiamolo"
	}
	return "UNICOVETRATE"
}

// QueueStatus is the lifecycle state of a call_queue row.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCompleted  QueueStatus = "completed"
)

// SlotLayout tags which display format available_slots_text was rendered with,
// so the bridge can recover the rep id without re-guessing the format.
type SlotLayout string

const (
	SlotLayoutSingle   SlotLayout = "single"
	SlotLayoutLettered SlotLayout = "lettered"
	SlotLayoutGrouped  SlotLayout = "grouped"
)

// CallQueueEntry is one unit of dialing work. Exactly one worker may hold a
// claimed row; status=processing is only ever held between claim and either
// deletion on success or status=failed.
type CallQueueEntry struct {
	ID                    uint        `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ContactID             string      `json:"contact_id" gorm:"column:contact_id;index"`
	PhoneNumber           string      `json:"phone_number" gorm:"column:phone_number"`
	FirstName             string      `json:"first_name" gorm:"column:first_name"`
	FullName              string      `json:"full_name" gorm:"column:full_name"`
	Email                 string      `json:"email" gorm:"column:email"`
	Service               Service     `json:"service" gorm:"column:service"`
	Province              string      `json:"province" gorm:"column:province"`
	RetryStage            int         `json:"retry_stage" gorm:"column:retry_stage"`
	Status                QueueStatus `json:"status" gorm:"column:status;index"`
	ScheduledAt           time.Time   `json:"scheduled_at" gorm:"column:scheduled_at;index"`
	CreatedAt             time.Time   `json:"created_at" gorm:"column:created_at"`
	LastAttemptAt         *time.Time  `json:"last_attempt_at" gorm:"column:last_attempt_at"`
	LastError             string      `json:"last_error" gorm:"column:last_error"`
	CallOptionsBlob       string      `json:"call_options_blob" gorm:"column:call_options_blob"`
	AvailableSlotsText    string      `json:"available_slots_text" gorm:"column:available_slots_text"`
	SlotLayout            SlotLayout  `json:"slot_layout" gorm:"column:slot_layout"`
	InitialSignedURL      string      `json:"initial_signed_url" gorm:"column:initial_signed_url"`
	FirstAttemptTimestamp time.Time   `json:"first_attempt_timestamp" gorm:"column:first_attempt_timestamp"`
}

func (CallQueueEntry) TableName() string {
	return "call_queue"
}

// CallRecord is a placed outbound call, keyed by the Twilio call sid. Rows are
// never deleted; they are the audit trail for the retry chain.
type CallRecord struct {
	CallSID               string     `json:"call_sid" gorm:"column:call_sid;primaryKey"`
	To                    string     `json:"to" gorm:"column:to_number"`
	ContactID             string     `json:"contact_id" gorm:"column:contact_id;index"`
	RetryCount            int        `json:"retry_count" gorm:"column:retry_count"`
	Status                string     `json:"status" gorm:"column:status"`
	CreatedAt             time.Time  `json:"created_at" gorm:"column:created_at"`
	SignedURL             string     `json:"signed_url" gorm:"column:signed_url"`
	FullName              string     `json:"full_name" gorm:"column:full_name"`
	FirstName             string     `json:"first_name" gorm:"column:first_name"`
	Email                 string     `json:"email" gorm:"column:email"`
	AnsweredBy            string     `json:"answered_by" gorm:"column:answered_by"`
	AvailableSlots        string     `json:"available_slots" gorm:"column:available_slots"`
	SlotLayout            SlotLayout `json:"slot_layout" gorm:"column:slot_layout"`
	ConversationID        string     `json:"conversation_id" gorm:"column:conversation_id"`
	FirstAttemptTimestamp time.Time  `json:"first_attempt_timestamp" gorm:"column:first_attempt_timestamp"`
	Service               Service    `json:"service" gorm:"column:service"`
	RetryScheduled        bool       `json:"retry_scheduled" gorm:"column:retry_scheduled"`
	Province              string     `json:"province" gorm:"column:province"`
	StreamSID             string     `json:"stream_sid" gorm:"column:stream_sid"`
	TranscriptSummary     string     `json:"transcript_summary" gorm:"column:transcript_summary"`
}

func (CallRecord) TableName() string {
	return "calls"
}

// IncomingCall mirrors CallRecord for inbound calls, keyed on its own sid.
type IncomingCall struct {
	CallSID        string    `json:"call_sid" gorm:"column:call_sid;primaryKey"`
	From           string    `json:"from" gorm:"column:from_number"`
	Status         string    `json:"status" gorm:"column:status"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at"`
	SignedURL      string    `json:"signed_url" gorm:"column:signed_url"`
	AvailableSlots string    `json:"available_slots" gorm:"column:available_slots"`
	ConversationID string    `json:"conversation_id" gorm:"column:conversation_id"`
	StreamSID      string    `json:"stream_sid" gorm:"column:stream_sid"`
}

func (IncomingCall) TableName() string {
	return "incoming_calls"
}
