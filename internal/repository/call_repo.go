package repository

import (
	"context"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"gorm.io/gorm"
)

// CallRepository owns the calls table.
type CallRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a call repository.
func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Create inserts the call record. The worker calls this immediately after the
// telephony API returns a sid, before any status callback can arrive.
func (r *CallRepository) Create(ctx context.Context, rec *domain.CallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// GetBySID fetches a call record by its Twilio sid.
func (r *CallRepository) GetBySID(ctx context.Context, callSID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := r.db.WithContext(ctx).Where("call_sid = ?", callSID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStatus records the latest telephony status and answer signal.
func (r *CallRepository) UpdateStatus(ctx context.Context, callSID, status, answeredBy string) error {
	updates := map[string]interface{}{"status": status}
	if answeredBy != "" {
		updates["answered_by"] = answeredBy
	}
	return r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("call_sid = ?", callSID).
		Updates(updates).Error
}

// SetStreamSID stores the media stream sid the bridge received on start.
func (r *CallRepository) SetStreamSID(ctx context.Context, callSID, streamSID string) error {
	return r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("call_sid = ?", callSID).
		Update("stream_sid", streamSID).Error
}

// SetConversationID stores the ElevenLabs conversation id.
func (r *CallRepository) SetConversationID(ctx context.Context, callSID, conversationID string) error {
	return r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("call_sid = ?", callSID).
		Update("conversation_id", conversationID).Error
}

// TrySetRetryLatch flips retry_scheduled from false to true and reports
// whether this caller won. Duplicate status callbacks lose the conditional
// update and must treat the retry as already handled.
func (r *CallRepository) TrySetRetryLatch(ctx context.Context, callSID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("call_sid = ? AND retry_scheduled = ?", callSID, false).
		Update("retry_scheduled", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateTranscript records the post-call outcome.
func (r *CallRepository) UpdateTranscript(ctx context.Context, callSID, status, summary string) error {
	return r.db.WithContext(ctx).Model(&domain.CallRecord{}).
		Where("call_sid = ?", callSID).
		Updates(map[string]interface{}{
			"status":             status,
			"transcript_summary": summary,
		}).Error
}

// GetByConversationID finds the call a post-call webhook refers to.
func (r *CallRepository) GetByConversationID(ctx context.Context, conversationID string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestProvinceForContact returns the province recorded on the contact's most
// recent call, or "" when none exists. The follow-up sweeper uses this before
// falling back to a fresh address fetch.
func (r *CallRepository) LatestProvinceForContact(ctx context.Context, contactID string) (string, error) {
	var rec domain.CallRecord
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND province != ''", contactID).
		Order("created_at DESC").
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Province, nil
}
