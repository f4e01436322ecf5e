package repository

import (
	"context"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"gorm.io/gorm"
)

// CallQueueRepository owns the call_queue table.
type CallQueueRepository struct {
	db *gorm.DB
}

// NewCallQueueRepository creates a call queue repository.
func NewCallQueueRepository(db *gorm.DB) *CallQueueRepository {
	return &CallQueueRepository{db: db}
}

// Enqueue inserts a new pending queue entry and returns it with its id set.
func (r *CallQueueRepository) Enqueue(ctx context.Context, entry *domain.CallQueueEntry) error {
	if entry.Status == "" {
		entry.Status = domain.QueueStatusPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ClaimDue atomically moves up to limit due pending rows to processing,
// stamping last_attempt_at, and returns them oldest first. Single-worker
// deployment: the SELECT/UPDATE pair races only against itself.
func (r *CallQueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]domain.CallQueueEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var due []domain.CallQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.QueueStatusPending, now).
		Order("scheduled_at ASC, id ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil || len(due) == 0 {
		return nil, err
	}

	ids := make([]uint, 0, len(due))
	for _, e := range due {
		ids = append(ids, e.ID)
	}

	res := r.db.WithContext(ctx).Model(&domain.CallQueueEntry{}).
		Where("id IN ? AND status = ?", ids, domain.QueueStatusPending).
		Updates(map[string]interface{}{
			"status":          domain.QueueStatusProcessing,
			"last_attempt_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	for i := range due {
		due[i].Status = domain.QueueStatusProcessing
		due[i].LastAttemptAt = &now
	}
	return due, nil
}

// Delete removes a queue row, normally after the call has been placed.
func (r *CallQueueRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&domain.CallQueueEntry{}, id).Error
}

// MarkFailed parks a claimed row as failed with the error that stopped it.
func (r *CallQueueRepository) MarkFailed(ctx context.Context, id uint, lastError string) error {
	return r.db.WithContext(ctx).Model(&domain.CallQueueEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.QueueStatusFailed,
			"last_error": lastError,
		}).Error
}

// GetByID fetches one queue entry.
func (r *CallQueueRepository) GetByID(ctx context.Context, id uint) (*domain.CallQueueEntry, error) {
	var entry domain.CallQueueEntry
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// CountPending returns the number of rows waiting to be claimed.
func (r *CallQueueRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.CallQueueEntry{}).
		Where("status = ?", domain.QueueStatusPending).
		Count(&n).Error
	return n, err
}
