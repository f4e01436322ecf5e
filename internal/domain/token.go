package domain

import "time"

// GHLToken holds the per-location OAuth state for the CRM. Refreshed on
// demand; the rest of the system only ever asks for a valid bearer.
type GHLToken struct {
	LocationID   string    `json:"location_id" gorm:"column:location_id;primaryKey"`
	AccessToken  string    `json:"access_token" gorm:"column:access_token"`
	RefreshToken string    `json:"refresh_token" gorm:"column:refresh_token"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"column:expires_at"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (GHLToken) TableName() string {
	return "ghl_tokens"
}

// Expired reports whether the access token needs a refresh, with a five
// minute safety margin.
func (t *GHLToken) Expired(now time.Time) bool {
	return !now.Add(5 * time.Minute).Before(t.ExpiresAt)
}
