package store

import "context"

// TaskFinder narrows a ListTasks query; zero-value fields are unfiltered.
type TaskFinder struct {
	ID          string
	Name        string
	LinkedGroup string
	ActiveOnly  bool
	Kinds       []Kind
}

// TaskStore persists Task definitions — the "document store" spec.md §1
// treats as an external collaborator. This engine supplies a concrete
// postgres/sqlite-backed implementation so the repo is runnable standalone,
// but any store satisfying this interface can be substituted.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, find TaskFinder) ([]*Task, error)
}

// ExecutionStore persists TaskExecution history and the per-task status
// envelope that mirrors it.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, e *TaskExecution) error
	ListHistory(ctx context.Context, taskID string) ([]*TaskExecution, error)

	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	SetTaskStatus(ctx context.Context, s *TaskStatus) error
	// ListRunningStatuses returns every task persisted as Status == running;
	// used by Task Registry reconciliation on startup (spec invariant I1).
	ListRunningStatuses(ctx context.Context) ([]*TaskStatus, error)
}

// ScheduleStore persists the singleton ScheduleConfig.
type ScheduleStore interface {
	GetSchedule(ctx context.Context) (*ScheduleConfig, error)
	SetSchedule(ctx context.Context, c *ScheduleConfig) error
}

// Driver is the backend contract a concrete database package (postgres,
// sqlite) must satisfy to back the Store facade, mirroring the teacher's
// store.Driver seam between business logic and SQL dialect.
type Driver interface {
	TaskStore
	ExecutionStore
	ScheduleStore

	Migrate(ctx context.Context) error
	Close() error
}
