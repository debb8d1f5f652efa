package database

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
)

// Setting is one persisted configuration row, e.g.
// "alpha_vantage_rate_limit_per_minute" or "scheduler_running".
type Setting struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex"`
	Value string
}

// Settings reads and writes the persisted configuration rows.
type Settings struct {
	db *gorm.DB
}

func NewSettings(db *gorm.DB) *Settings {
	return &Settings{db: db}
}

// Get returns the raw value for key, or ("", false) when unset.
func (s *Settings) Get(key string) (string, bool, error) {
	var row Setting
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return row.Value, true, nil
}

// Set upserts the value for key.
func (s *Settings) Set(key, value string) error {
	var row Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&Setting{Key: key, Value: value}).Error
	}
	if err != nil {
		return err
	}
	row.Value = value
	return s.db.Save(&row).Error
}

// GetInt returns the integer value for key, or fallback when unset or
// malformed.
func (s *Settings) GetInt(key string, fallback int) (int, error) {
	raw, ok, err := s.Get(key)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	n, convErr := strconv.Atoi(raw)
	if convErr != nil {
		return fallback, nil
	}
	return n, nil
}

func (s *Settings) SetInt(key string, value int) error {
	return s.Set(key, strconv.Itoa(value))
}

// GetBool returns the boolean value for key, or fallback when unset.
func (s *Settings) GetBool(key string, fallback bool) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	return raw == "true", nil
}

func (s *Settings) SetBool(key string, value bool) error {
	return s.Set(key, strconv.FormatBool(value))
}
