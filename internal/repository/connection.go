package repository

import (
	"fmt"
	"time"

	"github.com/katxuyu/voice-ai-agent/internal/domain"
	pkglogger "github.com/katxuyu/voice-ai-agent/pkg/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabaseConnection opens the embedded sqlite database at path. WAL mode
// and a busy timeout keep the short-lived-connection model safe against the
// occasional overlapping writer.
func NewDatabaseConnection(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(pkglogger.NewGORMWriter(), gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// sqlite allows one writer; a single connection sidesteps SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

// AutoMigrate creates missing tables and adds missing columns for every model.
// GORM's AutoMigrate is idempotent: re-running it against a populated schema
// is a no-op, which is the migration contract this system relies on.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.CallQueueEntry{},
		&domain.CallRecord{},
		&domain.IncomingCall{},
		&domain.FollowUp{},
		&domain.SalesRep{},
		&domain.GHLToken{},
	)
}

// NewRepositoryManager opens the database, migrates the schema and returns
// the repository manager the rest of the system is built on.
func NewRepositoryManager(dbPath string) (RepositoryManager, error) {
	db, err := NewDatabaseConnection(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run auto migration: %w", err)
	}

	return NewGormRepositoryManager(db), nil
}
