package screener

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Match is one symbol that passed every configured filter in a scan, with a
// snapshot of the data that caused the match for audit and UI display.
type Match struct {
	gorm.Model   `json:"-"`
	ProfileID    uint   `gorm:"index" json:"profile_id"`
	Symbol       string `json:"symbol"`
	SnapshotJSON string `gorm:"column:snapshot" json:"-"`
	// Snapshot is the decoded form included in API responses.
	Snapshot  map[string]interface{} `gorm:"-" json:"snapshot,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// SetSnapshot stores the matched data for persistence and response use.
func (m *Match) SetSnapshot(data map[string]interface{}) {
	m.Snapshot = data
	if raw, err := json.Marshal(data); err == nil {
		m.SnapshotJSON = string(raw)
	}
}

// DecodeSnapshot rebuilds Snapshot from the stored column after a load.
func (m *Match) DecodeSnapshot() {
	if m.SnapshotJSON == "" {
		return
	}
	_ = json.Unmarshal([]byte(m.SnapshotJSON), &m.Snapshot)
}

// ScanResult is the outcome of one scan run.
type ScanResult struct {
	ProfileID uint
	Matches   []Match
	Duration  time.Duration
}
