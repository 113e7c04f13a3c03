// Package api implements the Task API Surface (C11): the operations an
// external caller (CLI, HTTP handler, or another service) drives this
// engine through — list/upsert/execute/cancel a task, fetch its history
// and linking info, and read/write the daily schedule (spec §4.11).
package api

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/heriberto777/transferengine/executor"
	"github.com/heriberto777/transferengine/group"
	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/progress"
	"github.com/heriberto777/transferengine/registry"
	"github.com/heriberto777/transferengine/scheduler"
	"github.com/heriberto777/transferengine/store"
)

// Service is the engine's API surface, wrapping every lower component a
// caller-facing operation needs.
type Service struct {
	Store      *store.Store
	Registry   *registry.Registry
	Bus        *progress.Bus
	Exec       *executor.Executor
	GroupCoord *group.Coordinator
	Scheduler  *scheduler.Scheduler
}

func New(store *store.Store, reg *registry.Registry, bus *progress.Bus, exec *executor.Executor, gc *group.Coordinator, sched *scheduler.Scheduler) *Service {
	return &Service{Store: store, Registry: reg, Bus: bus, Exec: exec, GroupCoord: gc, Scheduler: sched}
}

// codeToGRPC maps this engine's stable error taxonomy (spec §7) onto a
// transport-neutral grpc/codes value, matching the teacher's approach of
// returning *status.Status errors from service methods even where the
// transport is not actually gRPC.
var codeToGRPC = map[apperrors.Code]codes.Code{
	apperrors.CodeInvalidConfig:         codes.InvalidArgument,
	apperrors.CodeInvalidGroupConfig:    codes.InvalidArgument,
	apperrors.CodeNotFound:              codes.NotFound,
	apperrors.CodeAlreadyRunning:        codes.AlreadyExists,
	apperrors.CodeGlobalBusy:            codes.ResourceExhausted,
	apperrors.CodeConnectionUnavailable: codes.Unavailable,
	apperrors.CodeConnectionLost:        codes.Unavailable,
	apperrors.CodeQueryExecutionFailed:  codes.Internal,
	apperrors.CodeValidationFailed:      codes.FailedPrecondition,
	apperrors.CodeCancelled:             codes.Cancelled,
	apperrors.CodeGroupPartiallyFailed:  codes.Aborted,
	apperrors.CodeBonificationOrphan:    codes.FailedPrecondition,
	apperrors.CodeNotManual:             codes.FailedPrecondition,
}

// toStatus wraps err as a *status.Status using codeToGRPC, defaulting to
// Internal for an error this engine's taxonomy didn't classify.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	code, ok := codeToGRPC[apperrors.CodeOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// ListTasks returns tasks matching find.
func (s *Service) ListTasks(ctx context.Context, find store.TaskFinder) ([]*store.Task, error) {
	tasks, err := s.Store.ListTasks(ctx, find)
	return tasks, toStatus(err)
}

// GetHistory returns taskID's execution history, most recent first (the
// driver is responsible for ordering; this layer only forwards).
func (s *Service) GetHistory(ctx context.Context, taskID string) ([]*store.TaskExecution, error) {
	history, err := s.Store.ListHistory(ctx, taskID)
	return history, toStatus(err)
}

// GetSchedule returns the singleton daily-trigger config.
func (s *Service) GetSchedule(ctx context.Context) (*store.ScheduleConfig, error) {
	cfg, err := s.Store.GetSchedule(ctx)
	return cfg, toStatus(err)
}

// SetSchedule persists cfg and rebuilds the scheduler's cron entry.
func (s *Service) SetSchedule(ctx context.Context, cfg *store.ScheduleConfig) error {
	return toStatus(s.Scheduler.SetSchedule(ctx, cfg))
}
