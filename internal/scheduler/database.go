package scheduler

import (
	"github.com/ksred/screener-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateJobRun(run *types.JobRun) error {
	return d.db.Create(run).Error
}

func (d *Database) UpdateJobRun(run *types.JobRun) error {
	return d.db.Save(run).Error
}

func (d *Database) ListJobRuns(limit int) ([]types.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var runs []types.JobRun
	err := d.db.Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

func (d *Database) ListJobRunsForProfile(profileID uint, limit int) ([]types.JobRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var runs []types.JobRun
	err := d.db.Where("profile_id = ?", profileID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
