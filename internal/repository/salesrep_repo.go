package repository

import (
	"context"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"gorm.io/gorm"
)

// SalesRepRepository owns the sales_reps table.
type SalesRepRepository struct {
	db *gorm.DB
}

// NewSalesRepRepository creates a sales rep repository.
func NewSalesRepRepository(db *gorm.DB) *SalesRepRepository {
	return &SalesRepRepository{db: db}
}

// GetAllActive returns every active rep ordered by id, so routing output is
// deterministic run to run.
func (r *SalesRepRepository) GetAllActive(ctx context.Context) ([]domain.SalesRep, error) {
	var reps []domain.SalesRep
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&reps).Error
	return reps, err
}

// Upsert creates or updates a rep keyed on its GHL user id.
func (r *SalesRepRepository) Upsert(ctx context.Context, rep *domain.SalesRep) error {
	var existing domain.SalesRep
	err := r.db.WithContext(ctx).Where("ghl_user_id = ?", rep.GHLUserID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return r.db.WithContext(ctx).Create(rep).Error
	}
	if err != nil {
		return err
	}
	rep.ID = existing.ID
	return r.db.WithContext(ctx).Save(rep).Error
}
