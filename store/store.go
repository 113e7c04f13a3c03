// Package store defines the persisted document-store surface for Task,
// TaskExecution, and ScheduleConfig (spec.md §3), plus the postgres and
// sqlite backends under store/db.
package store

import "context"

// Store provides the engine access to the persisted task-definition and
// history substrate through a pluggable Driver.
type Store struct {
	driver Driver
}

// New wraps a concrete Driver (store/db/postgres or store/db/sqlite).
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) Driver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	return s.driver.CreateTask(ctx, t)
}

func (s *Store) UpdateTask(ctx context.Context, t *Task) (*Task, error) {
	return s.driver.UpdateTask(ctx, t)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.driver.DeleteTask(ctx, id)
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.driver.GetTask(ctx, id)
}

func (s *Store) ListTasks(ctx context.Context, find TaskFinder) ([]*Task, error) {
	return s.driver.ListTasks(ctx, find)
}

func (s *Store) RecordExecution(ctx context.Context, e *TaskExecution) error {
	return s.driver.RecordExecution(ctx, e)
}

func (s *Store) ListHistory(ctx context.Context, taskID string) ([]*TaskExecution, error) {
	return s.driver.ListHistory(ctx, taskID)
}

func (s *Store) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	return s.driver.GetTaskStatus(ctx, taskID)
}

func (s *Store) SetTaskStatus(ctx context.Context, st *TaskStatus) error {
	return s.driver.SetTaskStatus(ctx, st)
}

func (s *Store) ListRunningStatuses(ctx context.Context) ([]*TaskStatus, error) {
	return s.driver.ListRunningStatuses(ctx)
}

func (s *Store) GetSchedule(ctx context.Context) (*ScheduleConfig, error) {
	return s.driver.GetSchedule(ctx)
}

func (s *Store) SetSchedule(ctx context.Context, c *ScheduleConfig) error {
	return s.driver.SetSchedule(ctx, c)
}
