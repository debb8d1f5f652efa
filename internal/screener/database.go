package screener

import "gorm.io/gorm"

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// SaveMatches appends the scan's matches in one transaction.
func (d *Database) SaveMatches(matches []Match) error {
	if len(matches) == 0 {
		return nil
	}
	return d.db.Transaction(func(tx *gorm.DB) error {
		for i := range matches {
			if err := tx.Create(&matches[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestMatches returns the most recent matches recorded for a profile.
func (d *Database) LatestMatches(profileID uint, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 100
	}
	var matches []Match
	err := d.db.Where("profile_id = ?", profileID).
		Order("created_at DESC").
		Limit(limit).
		Find(&matches).Error
	for i := range matches {
		matches[i].DecodeSnapshot()
	}
	return matches, err
}
