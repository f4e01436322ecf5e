package domain

import (
	"strings"
	"time"
)

// SalesRep is the routing record for one human sales representative. Services
// and provinces are stored as comma-separated sets.
type SalesRep struct {
	ID        uint      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	GHLUserID string    `json:"ghl_user_id" gorm:"column:ghl_user_id;unique"`
	Name      string    `json:"name" gorm:"column:name"`
	Services  string    `json:"services" gorm:"column:services"`
	Provinces string    `json:"provinces" gorm:"column:provinces"`
	Active    bool      `json:"active" gorm:"column:active"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (SalesRep) TableName() string {
	return "sales_reps"
}

// Covers reports whether the rep handles the given service in the given
// province. Matching is case-insensitive on both sets.
func (r *SalesRep) Covers(service Service, province string) bool {
	if !r.Active {
		return false
	}
	return containsCSV(r.Services, string(service)) && containsCSV(r.Provinces, province)
}

func containsCSV(set, want string) bool {
	for _, part := range strings.Split(set, ",") {
		if strings.EqualFold(strings.TrimSpace(part), want) {
			return true
		}
	}
	return false
}
