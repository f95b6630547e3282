package models

import (
	"time"
)

// JobStatus enumerates the async parse job lifecycle as reported by the
// server. pending and running are non-terminal; completed and failed are
// terminal and never transition further.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Terminal reports whether status ends the polling loop.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is one observation of a server-side async job.
type Job struct {
	ID          string     `json:"job_id"`
	Status      string     `json:"status"`
	Result      []Task     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TimeSlot is one AI-recommended window from POST /schedule/analyze.
type TimeSlot struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Score  int       `json:"score"`
	Reason string    `json:"reason"`
}

// WorkInfo is the structured description the analyze endpoint extracts from
// free text.
type WorkInfo struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	DurationHours float64    `json:"duration_hours"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Priority      string     `json:"priority,omitempty"`
	Preferences   []string   `json:"preferences,omitempty"`
}

// ScheduleAnalysis bundles the analyze response.
type ScheduleAnalysis struct {
	WorkInfo        WorkInfo   `json:"work_info"`
	Recommendations []TimeSlot `json:"recommendations"`
}
