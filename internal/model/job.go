package model

import "time"

type JobStatus string

const (
	JobRunning     JobStatus = "running"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCancelled   JobStatus = "cancelled"
	JobInterrupted JobStatus = "interrupted"
)

// InterruptedMessage is stored on jobs found running at startup.
const InterruptedMessage = "interrupted: process stopped before the job finished"

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobInterrupted:
		return true
	}
	return false
}

// Counts are derived from the download tool output.
type Counts struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// JobRecord is the persisted outcome of one job.
type JobRecord struct {
	ID         int64      `json:"id"`
	UUID       string     `json:"uuid"`
	SourceID   int64      `json:"source_id"`
	Status     JobStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counts
	Error  string `json:"error_message,omitempty"`
	Output string `json:"log_output,omitempty"`
}

// JobOutcome is everything written to a JobRecord when it finishes.
type JobOutcome struct {
	Status     JobStatus
	FinishedAt time.Time
	Counts     Counts
	Error      string
	Output     string
}
