package types

import (
	"time"

	"gorm.io/gorm"
)

type JobKind string

const (
	JobScan    JobKind = "scan"
	JobMonitor JobKind = "monitor"
)

type JobStatus string

const (
	JobStarted   JobStatus = "started"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

type JobTrigger string

const (
	TriggerScheduled JobTrigger = "scheduled"
	TriggerManual    JobTrigger = "manual"
)

// JobRun is one row of the append-only audit trail: a scheduled or manual
// execution of a scan or monitor cycle.
type JobRun struct {
	gorm.Model `json:"-"`
	ProfileID  uint       `gorm:"index" json:"profile_id"`
	Kind       JobKind    `json:"kind"`
	Trigger    JobTrigger `json:"trigger"`
	Status     JobStatus  `gorm:"index" json:"status"`
	MatchCount int        `json:"match_count"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}
