package repository

import (
	"context"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	"gorm.io/gorm"
)

// TokenRepository owns the ghl_tokens table.
type TokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a token repository.
func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Get fetches the OAuth state for a location, or nil when absent.
func (r *TokenRepository) Get(ctx context.Context, locationID string) (*domain.GHLToken, error) {
	var tok domain.GHLToken
	err := r.db.WithContext(ctx).Where("location_id = ?", locationID).First(&tok).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// Upsert stores a freshly issued or refreshed token for its location.
func (r *TokenRepository) Upsert(ctx context.Context, tok *domain.GHLToken) error {
	tok.UpdatedAt = time.Now().UTC()
	existing, err := r.Get(ctx, tok.LocationID)
	if err != nil {
		return err
	}
	if existing == nil {
		tok.CreatedAt = tok.UpdatedAt
		return r.db.WithContext(ctx).Create(tok).Error
	}
	tok.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Save(tok).Error
}
