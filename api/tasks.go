package api

import (
	"context"

	"github.com/heriberto777/transferengine/group"
	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/progress"
	"github.com/heriberto777/transferengine/sqlbuild"
	"github.com/heriberto777/transferengine/store"
)

// UpsertTask validates a task definition against the invariants the
// group runner and executor assume hold by the time a task reaches them,
// then creates or updates it (spec §4.11 "upsertTask").
func (s *Service) UpsertTask(ctx context.Context, task *store.Task) (*store.Task, error) {
	if err := validateTask(ctx, s.Store, task); err != nil {
		return nil, toStatus(err)
	}

	if task.ID == "" {
		created, err := s.Store.CreateTask(ctx, task)
		return created, toStatus(err)
	}
	updated, err := s.Store.UpdateTask(ctx, task)
	return updated, toStatus(err)
}

// validateTask checks the query shape and the group/coordinator
// invariants (I3, I6) before the task reaches the executor or a group
// run, so a bad definition is rejected at authoring time rather than at
// 2am when the scheduler picks it up.
func validateTask(ctx context.Context, st *store.Store, task *store.Task) error {
	if task.Name == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "task name is required")
	}
	if err := sqlbuild.ValidateSelect(task.Query); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidConfig, err, "task query")
	}
	if task.RequiresFieldMapping() && task.FieldMapping == nil {
		return apperrors.New(apperrors.CodeInvalidConfig, "direction=down requires a field mapping")
	}
	if task.FieldMapping != nil && task.ValidationRules != nil && task.ValidationRules.ExistenceCheck.Key != "" {
		key := task.ValidationRules.ExistenceCheck.Key
		found := false
		for _, f := range task.FieldMapping.TargetFields {
			if f == key {
				found = true
				break
			}
		}
		if !found {
			return apperrors.New(apperrors.CodeInvalidConfig, "existenceCheck.key "+key+" is not among fieldMapping.targetFields")
		}
	}
	if task.PostUpdateQuery != "" {
		if err := sqlbuild.ValidateNonDestructive(task.PostUpdateQuery); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidConfig, err, "post-update query")
		}
	}
	if task.LinkingMetadata.IsCoordinator && task.PostUpdateQuery == "" {
		return apperrors.New(apperrors.CodeInvalidGroupConfig, "coordinator must define a post-update query")
	}
	if task.LinkedGroup == "" {
		return nil
	}

	siblings, err := st.ListTasks(ctx, store.TaskFinder{LinkedGroup: task.LinkedGroup})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "list group siblings")
	}
	coordinators := 0
	for _, sib := range siblings {
		if sib.ID == task.ID {
			continue
		}
		if sib.LinkingMetadata.IsCoordinator {
			coordinators++
		}
	}
	if task.LinkingMetadata.IsCoordinator {
		coordinators++
	}
	if coordinators > 1 {
		return apperrors.New(apperrors.CodeInvalidGroupConfig, "group "+task.LinkedGroup+" would have more than one coordinator")
	}
	return nil
}

// ExecuteTask runs one task on demand. It rejects a kind that cannot be
// manually triggered (invariant backing NotManual) and defers to the
// registry/executor for the AlreadyRunning check so the single source of
// truth for "is this task running" stays in one place.
func (s *Service) ExecuteTask(ctx context.Context, taskID string, overrideParams []store.Parameter) error {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return toStatus(err)
	}
	if !task.Kind.AllowsManual() {
		return toStatus(apperrors.New(apperrors.CodeNotManual, "task "+taskID+" cannot be triggered manually"))
	}
	if task.Kind.AllowsAuto() && s.Registry.RunningOfKind(store.KindAuto, store.KindBoth) {
		return toStatus(apperrors.New(apperrors.CodeGlobalBusy, "an auto/both task is already running"))
	}

	if task.LinkedGroup != "" {
		members, err := s.Store.ListTasks(ctx, store.TaskFinder{LinkedGroup: task.LinkedGroup, ActiveOnly: true})
		if err != nil {
			return toStatus(err)
		}
		_, err = s.GroupCoord.Run(ctx, members, map[string][]store.Parameter{taskID: overrideParams})
		return toStatus(err)
	}

	if len(task.LinkedTasks) > 0 {
		set, err := group.ResolveFanOutSet(ctx, s.Store, task)
		if err != nil {
			return toStatus(err)
		}
		errs := group.FanOut(ctx, s.Exec, set)
		return toStatus(errs[task.ID])
	}

	_, err = s.Exec.Run(ctx, task, overrideParams)
	return toStatus(err)
}

// CancelTask requests cancellation of a running task and returns a live
// subscription the caller can drain until a terminal status arrives
// (spec §4.11 "cancelTask" streams status, it does not just flip a flag).
func (s *Service) CancelTask(ctx context.Context, taskID string, force bool, reason string) (*progress.Subscription, error) {
	sub := s.Bus.Subscribe(taskID)
	if err := s.Registry.Cancel(taskID, force, reason); err != nil {
		sub.Unsubscribe()
		return nil, toStatus(err)
	}
	s.Bus.Publish(progress.Event{
		Kind:   progress.KindStatus,
		TaskID: taskID,
		State:  string(store.StatusCancelling),
	})
	return sub, nil
}

// LinkingInfo describes a task's position in a linked group, or reports
// that it runs standalone.
type LinkingInfo struct {
	LinkedGroup   string
	IsCoordinator bool
	Order         int
	Members       []*store.Task // full group, sorted by execution order
}

// GetLinkingInfo reports taskID's group membership and, when grouped,
// every sibling sorted the same way the group coordinator runs them.
func (s *Service) GetLinkingInfo(ctx context.Context, taskID string) (*LinkingInfo, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, toStatus(err)
	}
	info := &LinkingInfo{
		LinkedGroup:   task.LinkedGroup,
		IsCoordinator: task.LinkingMetadata.IsCoordinator,
		Order:         task.LinkedExecutionOrder,
	}
	if task.LinkedGroup == "" {
		return info, nil
	}

	members, err := s.Store.ListTasks(ctx, store.TaskFinder{LinkedGroup: task.LinkedGroup})
	if err != nil {
		return nil, toStatus(err)
	}
	info.Members = group.SortMembers(members)
	return info, nil
}
