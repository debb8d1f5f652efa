package types

import "time"

// ProviderLimitStatus is one provider's entry in the rate-limit status
// response.
type ProviderLimitStatus struct {
	Provider       string `json:"provider"`
	UsedThisMinute int    `json:"used_this_minute"`
	MaxPerMinute   int    `json:"max_per_minute"`
	UsedToday      int    `json:"used_today"`
	MaxPerDay      int    `json:"max_per_day,omitempty"`
	Queued         int    `json:"queued"`
	ResetsInMs     int64  `json:"resets_in_ms"`
}

// SchedulerStatus reports whether the scheduler is running and how many
// profile triggers are active.
type SchedulerStatus struct {
	Running      bool      `json:"running"`
	ActiveJobs   int       `json:"active_jobs"`
	TradingMode  string    `json:"trading_mode"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastTickedAt time.Time `json:"last_ticked_at,omitempty"`
}

// ScanResponse is returned by the manual scan endpoint.
type ScanResponse struct {
	ProfileID  uint        `json:"profile_id"`
	Matches    interface{} `json:"matches"`
	MatchCount int         `json:"match_count"`
	DurationMs int64       `json:"duration_ms"`
}
