// Package executor implements the Task Executor (C8): the single-task
// pipeline acquire -> connect-source -> compile-query -> read -> transform
// -> validate -> clear -> write -> post-update -> chain -> done, with
// per-phase progress publication, streaming-mode batching, and
// cancellation/timeout handling (spec §4.8).
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/heriberto777/transferengine/connection"
	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/metrics"
	"github.com/heriberto777/transferengine/progress"
	"github.com/heriberto777/transferengine/registry"
	"github.com/heriberto777/transferengine/retry"
	"github.com/heriberto777/transferengine/store"
)

// Phase progress percentages, verbatim from spec §4.8's table.
const (
	pctAcquire       = 5
	pctConnectSource = 10
	pctCompileQuery  = 20
	pctRead          = 40
	pctTransform     = 50
	pctValidate      = 60
	pctClear         = 65
	pctWrite         = 90
	pctPostUpdate    = 95
	pctChain         = 99
	pctDone          = 100
)

const defaultBatchSize = 500

// ChainFunc is invoked once per entry in a successfully completed task's
// nextTasks. Wired by the caller (cmd/transferengine) to avoid an import
// cycle back into whatever owns task-lookup and re-execution.
type ChainFunc func(ctx context.Context, taskID string) error

// Deps are the collaborators one Executor needs; all are required except
// Chain, which is only consulted if a task declares nextTasks.
type Deps struct {
	Conns    *connection.Manager
	Store    *store.Store
	Registry *registry.Registry
	Bus      *progress.Bus
	Retry    *retry.Executor
	Chain    ChainFunc
	// Metrics is optional; when nil, phase/row/gauge instrumentation is
	// skipped entirely.
	Metrics *metrics.Registry
}

type Executor struct {
	deps Deps
}

func New(deps Deps) *Executor {
	return &Executor{deps: deps}
}

// sourceKey/targetKey name the connection.Manager pools this engine
// pools the two relational databases under.
const (
	sourceKey = "source"
	targetKey = "target"
)

// poolsFor resolves which pool is read from and which is written to for
// a task's direction. up/down/general transfer between the two pooled
// databases; internal transfers within the source database only — the
// one case where both legs use the same pool (spec.md open question:
// clearBeforeInsert's scope, resolved in DESIGN.md, assumes this mapping).
func poolsFor(direction store.Direction) (read, write string) {
	if direction == store.DirectionInternal {
		return sourceKey, sourceKey
	}
	return sourceKey, targetKey
}

// Outcome summarizes one execution for history/status persistence.
type Outcome struct {
	RowsRead            int64
	RowsWritten         int64
	RowsSkipped         int64
	OrphanBonifications int64
}

// Run executes task standalone (not part of a linked group): the full
// pipeline through post-update and chain. overrideParams, if non-nil,
// replaces task.Parameters for this invocation only (spec §4.11
// executeTask).
func (e *Executor) Run(ctx context.Context, task *store.Task, overrideParams []store.Parameter) (*Outcome, error) {
	entry, err := e.deps.Registry.Register(ctx, task.ID, task.Kind)
	if err != nil {
		return nil, err
	}

	runCtx := entry.Context()
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, task.Timeout)
		defer cancel()
	}
	e.publish(task.ID, pctAcquire, "acquire", 0)
	started := time.Now()

	var outcome *Outcome
	var shared *SharedState
	runErr := e.deps.Retry.Do(runCtx, func(attemptCtx context.Context, attempt int) error {
		shared = newSharedState()
		var err error
		outcome, err = e.runThroughWrite(attemptCtx, task, overrideParams, shared)
		return err
	}, nil)

	if runErr == nil {
		if err := e.postUpdate(runCtx, task, shared.Keys()); err != nil {
			runErr = err
		} else {
			e.publish(task.ID, pctPostUpdate, "post-update", outcome.RowsWritten)
			e.publish(task.ID, pctChain, "chain", outcome.RowsWritten)
			e.publish(task.ID, pctDone, "done", outcome.RowsWritten)
		}
	}

	e.finish(ctx, task, outcome, runErr, started)
	return outcome, runErr
}

// RunMember executes task as one member of a linked group, stopping
// after the write phase; the group coordinator (package group) is
// responsible for the shared post-update and chaining. shared collects
// the processed identifiers across every member (spec §4.9 step 3).
func (e *Executor) RunMember(ctx context.Context, task *store.Task, overrideParams []store.Parameter, shared *SharedState) (*Outcome, error) {
	entry, err := e.deps.Registry.Register(ctx, task.ID, task.Kind)
	if err != nil {
		return nil, err
	}
	runCtx := entry.Context()
	e.publish(task.ID, pctAcquire, "acquire", 0)
	started := time.Now()

	var outcome *Outcome
	runErr := e.deps.Retry.Do(runCtx, func(attemptCtx context.Context, attempt int) error {
		var err error
		outcome, err = e.runThroughWrite(attemptCtx, task, overrideParams, shared)
		return err
	}, nil)

	if runErr != nil {
		e.finish(ctx, task, outcome, runErr, started)
		return outcome, runErr
	}
	// Group membership defers post-update/chain/done bookkeeping to the
	// coordinator; the member's own registry entry and history row close
	// only once the coordinator reports its final outcome via Finish.
	return outcome, nil
}

// Finish persists the terminal outcome for a group member once the
// coordinator knows whether the group as a whole succeeded. The
// coordinator does not track per-member start times, so phase-duration
// instrumentation is skipped for this path (finish treats a zero
// started as "unknown").
func (e *Executor) Finish(ctx context.Context, task *store.Task, outcome *Outcome, runErr error) {
	e.finish(ctx, task, outcome, runErr, time.Time{})
}

// RunPostUpdate executes coordinator's post-update statement against the
// union of processed identifiers a linked group's members wrote, scoped
// via postUpdateMapping.tableKey (spec §4.9 step 4).
func (e *Executor) RunPostUpdate(ctx context.Context, coordinator *store.Task, processedKeys []string) error {
	return e.postUpdate(ctx, coordinator, processedKeys)
}

// SharedState is the processed-identifier collection + transaction
// bookkeeping shared across a linked group's members (spec §4.9).
type SharedState struct {
	mu        map[string]struct{}
	orderedID []string
}

func newSharedState() *SharedState {
	return &SharedState{mu: make(map[string]struct{})}
}

func NewSharedState() *SharedState { return newSharedState() }

func (s *SharedState) add(id string) {
	if id == "" {
		return
	}
	if _, ok := s.mu[id]; ok {
		return
	}
	s.mu[id] = struct{}{}
	s.orderedID = append(s.orderedID, id)
}

func (s *SharedState) Keys() []string {
	out := make([]string, len(s.orderedID))
	copy(out, s.orderedID)
	return out
}

func (e *Executor) finish(ctx context.Context, task *store.Task, outcome *Outcome, runErr error, started time.Time) {
	now := time.Now().UTC()
	exec := &store.TaskExecution{
		TaskID:    task.ID,
		StartedAt: now,
	}

	var terminal registry.State
	status := &store.TaskStatus{TaskID: task.ID}

	switch {
	case runErr == nil:
		terminal = registry.StateCompleted
		exec.Outcome = store.OutcomeSuccess
		status.Status = store.StatusCompleted
		status.Progress = 100
		status.LastExecutionResult = &store.LastExecutionResult{Success: true, RecordCount: outcome.RowsWritten}
	case apperrors.CodeOf(runErr) == apperrors.CodeGroupPartiallyFailed:
		// This member's own write committed; the group as a whole did not
		// reach its shared post-update because a sibling member failed.
		terminal = registry.StateCompleted
		exec.Outcome = store.OutcomeGroupPartiallyFailed
		status.Status = store.StatusCompleted
		status.Progress = 100
		exec.Error = runErr.Error()
		status.LastExecutionResult = &store.LastExecutionResult{Success: true, RecordCount: outcome.RowsWritten, Error: runErr.Error()}
	case apperrors.CodeOf(runErr) == apperrors.CodeCancelled:
		terminal = registry.StateCancelled
		exec.Outcome = store.OutcomeCancelled
		status.Status = store.StatusCancelled
		status.Progress = -1
		exec.Error = runErr.Error()
		status.LastExecutionResult = &store.LastExecutionResult{Success: false, Error: runErr.Error()}
	default:
		terminal = registry.StateFailed
		exec.Outcome = store.OutcomeFailure
		status.Status = store.StatusFailed
		status.Progress = -1
		exec.Error = runErr.Error()
		status.LastExecutionResult = &store.LastExecutionResult{Success: false, Error: runErr.Error()}
	}

	if outcome != nil {
		exec.RowsRead = outcome.RowsRead
		exec.RowsWritten = outcome.RowsWritten
		exec.RowsSkipped = outcome.RowsSkipped
		exec.OrphanBonifications = outcome.OrphanBonifications
	}
	exec.FinishedAt = time.Now().UTC()

	final, ok := e.deps.Registry.Complete(task.ID, terminal)
	if ok {
		status.Progress = final.Progress
		if terminal == registry.StateCompleted {
			status.Progress = 100
		} else {
			status.Progress = -1
		}
	}

	if err := e.deps.Store.RecordExecution(ctx, exec); err != nil {
		slog.Error("executor: record execution history failed", "task", task.ID, "error", err)
	}
	prior, err := e.deps.Store.GetTaskStatus(ctx, task.ID)
	if err == nil && prior != nil {
		status.ExecutionCount = prior.ExecutionCount + 1
	} else {
		status.ExecutionCount = 1
	}
	status.LastExecutionDate = now
	_ = e.deps.Store.SetTaskStatus(ctx, status)

	if e.deps.Metrics != nil {
		if !started.IsZero() {
			e.deps.Metrics.ObservePhase("total", time.Since(started))
		}
		if outcome != nil {
			e.deps.Metrics.AddRows(task.ID, outcome.RowsRead, outcome.RowsWritten, outcome.RowsSkipped)
		}
		e.deps.Metrics.SetTasksRunning(len(e.deps.Registry.Snapshot()))
	}

	e.deps.Bus.Publish(progress.Event{
		Kind:   progress.KindStatus,
		TaskID: task.ID,
		State:  string(status.Status),
	})

	if runErr == nil && len(task.NextTasks) > 0 && e.deps.Chain != nil {
		for _, next := range task.NextTasks {
			if err := e.deps.Chain(ctx, next); err != nil {
				slog.Error("executor: chained task failed to start", "task", task.ID, "next", next, "error", err)
			}
		}
	}
}

func (e *Executor) publish(taskID string, percent int, phase string, rows int64) {
	e.deps.Bus.Publish(progress.Event{
		Kind:          progress.KindProgress,
		TaskID:        taskID,
		Percent:       percent,
		Phase:         phase,
		RowsProcessed: rows,
	})
	e.deps.Registry.UpdateProgress(taskID, percent)
}

func mergeParams(base, override []store.Parameter) []store.Parameter {
	if override != nil {
		return override
	}
	return base
}
