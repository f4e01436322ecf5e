package repository

import (
	"context"

	"gorm.io/gorm"
)

// RepositoryManager combines all repositories behind one handle.
type RepositoryManager interface {
	CallQueue() *CallQueueRepository
	Calls() *CallRepository
	IncomingCalls() *IncomingCallRepository
	FollowUps() *FollowUpRepository
	SalesReps() *SalesRepRepository
	Tokens() *TokenRepository

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM over sqlite.
type GormRepositoryManager struct {
	db               *gorm.DB
	callQueueRepo    *CallQueueRepository
	callRepo         *CallRepository
	incomingCallRepo *IncomingCallRepository
	followUpRepo     *FollowUpRepository
	salesRepRepo     *SalesRepRepository
	tokenRepo        *TokenRepository
}

// NewGormRepositoryManager creates a repository manager over an open *gorm.DB.
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:               db,
		callQueueRepo:    NewCallQueueRepository(db),
		callRepo:         NewCallRepository(db),
		incomingCallRepo: NewIncomingCallRepository(db),
		followUpRepo:     NewFollowUpRepository(db),
		salesRepRepo:     NewSalesRepRepository(db),
		tokenRepo:        NewTokenRepository(db),
	}
}

func (m *GormRepositoryManager) CallQueue() *CallQueueRepository        { return m.callQueueRepo }
func (m *GormRepositoryManager) Calls() *CallRepository                 { return m.callRepo }
func (m *GormRepositoryManager) IncomingCalls() *IncomingCallRepository { return m.incomingCallRepo }
func (m *GormRepositoryManager) FollowUps() *FollowUpRepository         { return m.followUpRepo }
func (m *GormRepositoryManager) SalesReps() *SalesRepRepository         { return m.salesRepRepo }
func (m *GormRepositoryManager) Tokens() *TokenRepository               { return m.tokenRepo }

// Ping checks the database connection.
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
