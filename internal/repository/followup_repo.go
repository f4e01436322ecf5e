package repository

import (
	"context"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"gorm.io/gorm"
)

// FollowUpRepository owns the follow_ups table.
type FollowUpRepository struct {
	db *gorm.DB
}

// NewFollowUpRepository creates a follow-up repository.
func NewFollowUpRepository(db *gorm.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

// Create inserts a new pending follow-up.
func (r *FollowUpRepository) Create(ctx context.Context, fu *domain.FollowUp) error {
	if fu.Status == "" {
		fu.Status = domain.FollowUpStatusPending
	}
	if fu.CreatedAt.IsZero() {
		fu.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(fu).Error
}

// Due returns pending follow-ups whose time has arrived, oldest first.
func (r *FollowUpRepository) Due(ctx context.Context, now time.Time) ([]domain.FollowUp, error) {
	var out []domain.FollowUp
	err := r.db.WithContext(ctx).
		Where("status = ? AND follow_up_at_utc <= ?", domain.FollowUpStatusPending, now).
		Order("follow_up_at_utc ASC").
		Find(&out).Error
	return out, err
}

// Stuck returns pending follow-ups that are either more than 24 hours overdue
// or more than one hour overdue with at least one prior failure.
func (r *FollowUpRepository) Stuck(ctx context.Context, now time.Time) ([]domain.FollowUp, error) {
	var out []domain.FollowUp
	err := r.db.WithContext(ctx).
		Where("status = ? AND (follow_up_at_utc < ? OR (follow_up_at_utc < ? AND failure_count > 0))",
			domain.FollowUpStatusPending, now.Add(-24*time.Hour), now.Add(-time.Hour)).
		Find(&out).Error
	return out, err
}

// Delete removes a follow-up once resubmitted, permanently failed or stuck.
func (r *FollowUpRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&domain.FollowUp{}, id).Error
}

// RecordFailure increments the failure counter so the stuck sweep can spot
// entries that keep bouncing.
func (r *FollowUpRepository) RecordFailure(ctx context.Context, id uint, reason string) error {
	return r.db.WithContext(ctx).Model(&domain.FollowUp{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count": gorm.Expr("failure_count + 1"),
			"last_failure":  reason,
		}).Error
}
