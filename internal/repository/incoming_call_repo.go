package repository

import (
	"context"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"gorm.io/gorm"
)

// IncomingCallRepository owns the incoming_calls table.
type IncomingCallRepository struct {
	db *gorm.DB
}

// NewIncomingCallRepository creates an incoming call repository.
func NewIncomingCallRepository(db *gorm.DB) *IncomingCallRepository {
	return &IncomingCallRepository{db: db}
}

// Create inserts the inbound call record.
func (r *IncomingCallRepository) Create(ctx context.Context, rec *domain.IncomingCall) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// GetBySID fetches an inbound call by sid.
func (r *IncomingCallRepository) GetBySID(ctx context.Context, callSID string) (*domain.IncomingCall, error) {
	var rec domain.IncomingCall
	if err := r.db.WithContext(ctx).Where("call_sid = ?", callSID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStatus records the latest inbound call status.
func (r *IncomingCallRepository) UpdateStatus(ctx context.Context, callSID, status string) error {
	return r.db.WithContext(ctx).Model(&domain.IncomingCall{}).
		Where("call_sid = ?", callSID).
		Update("status", status).Error
}

// SetStreamSID stores the media stream sid for an inbound call.
func (r *IncomingCallRepository) SetStreamSID(ctx context.Context, callSID, streamSID string) error {
	return r.db.WithContext(ctx).Model(&domain.IncomingCall{}).
		Where("call_sid = ?", callSID).
		Update("stream_sid", streamSID).Error
}

// SetConversationID stores the ElevenLabs conversation id for an inbound call.
func (r *IncomingCallRepository) SetConversationID(ctx context.Context, callSID, conversationID string) error {
	return r.db.WithContext(ctx).Model(&domain.IncomingCall{}).
		Where("call_sid = ?", callSID).
		Update("conversation_id", conversationID).Error
}
