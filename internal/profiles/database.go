package profiles

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) Create(profile *Profile) error {
	return d.db.Create(profile).Error
}

func (d *Database) Get(id uint) (*Profile, error) {
	var profile Profile
	if err := d.db.First(&profile, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (d *Database) List() ([]Profile, error) {
	var list []Profile
	if err := d.db.Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListScheduled returns the profiles the scheduler should establish triggers
// for.
func (d *Database) ListScheduled() ([]Profile, error) {
	var list []Profile
	if err := d.db.Where("schedule_enabled = ?", true).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Database) Update(profile *Profile) error {
	return d.db.Save(profile).Error
}

func (d *Database) Delete(id uint) error {
	return d.db.Delete(&Profile{}, id).Error
}

// TouchLastRun updates only the last-run bookkeeping field.
func (d *Database) TouchLastRun(id uint, at time.Time) error {
	return d.db.Model(&Profile{}).Where("id = ?", id).Update("last_run_at", at).Error
}
