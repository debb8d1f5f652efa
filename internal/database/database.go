package database

import (
	"fmt"

	"github.com/ksred/screener-api/internal/profiles"
	"github.com/ksred/screener-api/internal/risk"
	"github.com/ksred/screener-api/internal/screener"
	"github.com/ksred/screener-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the sqlite database at path and migrates the schema.
// sqlite allows a single writer; busy_timeout makes concurrent writers from
// the background loops queue instead of failing.
func NewDatabase(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates or updates all tables the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Setting{},
		&profiles.Profile{},
		&screener.Match{},
		&risk.RiskSettings{},
		&types.TradeRecord{},
		&types.Position{},
		&types.ClosedPosition{},
		&types.JobRun{},
	)
}
