package progress

import "time"

// Run statuses persisted in poll_runs.status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// MaxErrorLength caps the diagnostic text stored on failed runs.
const MaxErrorLength = 500

// Run is one row per (session, source). A running row doubles as the
// mutual-exclusion lock for its source and as the run-history record the
// ops dashboard reads.
type Run struct {
	ID             string     `json:"id" gorm:"primaryKey;column:id"`
	SessionID      *string    `json:"session_id,omitempty" gorm:"column:session_id"`
	SourceName     string     `json:"source_name" gorm:"column:source_name;index"`
	Status         string     `json:"status" gorm:"column:status;index"`
	StartedAt      time.Time  `json:"started_at" gorm:"column:started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"column:updated_at"`
	RecordsFetched int        `json:"records_fetched" gorm:"column:records_fetched"`
	ErrorMessage   string     `json:"error_message,omitempty" gorm:"column:error_message"`
}

func (Run) TableName() string {
	return "poll_runs"
}

// SourceStats is a per-source aggregate over run history.
type SourceStats struct {
	SourceName     string     `json:"source_name"`
	TotalRuns      int64      `json:"total_runs"`
	CompletedRuns  int64      `json:"completed_runs"`
	FailedRuns     int64      `json:"failed_runs"`
	SuccessRate    float64    `json:"success_rate"`
	AvgDurationSec float64    `json:"avg_duration_sec"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
}
