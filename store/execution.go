package store

import "time"

// Outcome is the terminal result of one TaskExecution.
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeFailure             Outcome = "failure"
	OutcomeCancelled           Outcome = "cancelled"
	OutcomeGroupPartiallyFailed Outcome = "group_partially_failed"
)

// Status is the lifecycle state persisted for a task (spec §6).
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TaskExecution is one history row for a task run.
type TaskExecution struct {
	ID          string
	TaskID      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     Outcome
	RowsRead    int64
	RowsWritten int64
	RowsSkipped int64
	Error       string

	// Supplementary history counters (spec §6 "History entries").
	DocumentID       string
	TotalProducts    int64
	TotalQuantity    float64
	OrphanBonifications int64
}

// LastExecutionResult is the summary persisted on the Task record itself
// so callers can render status without fetching full history (spec §6).
type LastExecutionResult struct {
	Success      bool
	Message      string
	Error        string
	RowsAffected int64
	RecordCount  int64
}

// TaskStatus is the persisted status envelope for a task (spec §6).
type TaskStatus struct {
	TaskID              string
	Status              Status
	Progress            int // -1..100
	LastExecutionDate   time.Time
	LastExecutionResult *LastExecutionResult
	ExecutionCount      int64
}

// ScheduleConfig is the singleton daily-trigger configuration (spec §3).
type ScheduleConfig struct {
	Hour    string // "HH:MM" 24h local time
	Enabled bool
}
