// Package group implements the Linked-Group Coordinator (C9): sequential
// execution of a group's members through the write phase, a shared
// processed-identifier set, and a single barrier-gated post-update run
// by the group's one designated coordinator (spec §4.9).
package group

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/heriberto777/transferengine/executor"
	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/store"
)

// Coordinator runs one linked group's members in sequence.
type Coordinator struct {
	exec *executor.Executor
}

func New(exec *executor.Executor) *Coordinator {
	return &Coordinator{exec: exec}
}

// SortMembers orders a group's tasks by linkedExecutionOrder ascending,
// breaking ties by name (spec §4.9 step 1).
func SortMembers(members []*store.Task) []*store.Task {
	sorted := make([]*store.Task, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].LinkedExecutionOrder != sorted[j].LinkedExecutionOrder {
			return sorted[i].LinkedExecutionOrder < sorted[j].LinkedExecutionOrder
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}

// coordinatorOf finds the single member flagged as the group's
// coordinator and validates that exactly one exists with a non-empty
// postUpdateQuery (spec invariant I3). Any other shape is a config error
// the upsert path should have already rejected, but the group runner
// re-checks defensively since group membership can change between upsert
// and execution.
func coordinatorOf(members []*store.Task) (*store.Task, error) {
	var found *store.Task
	for _, m := range members {
		if !m.LinkingMetadata.IsCoordinator {
			continue
		}
		if m.PostUpdateQuery == "" {
			return nil, apperrors.New(apperrors.CodeInvalidGroupConfig, "designated coordinator "+m.ID+" has no post-update query")
		}
		if found != nil {
			return nil, apperrors.New(apperrors.CodeInvalidGroupConfig, "group has more than one coordinator")
		}
		found = m
	}
	if found == nil {
		return nil, apperrors.New(apperrors.CodeInvalidGroupConfig, "group has no designated coordinator")
	}
	return found, nil
}

// Result summarizes one group run.
type Result struct {
	Outcomes map[string]*executor.Outcome // taskID -> outcome
	Failed   string                       // taskID of the member that broke the run, if any
}

// Run executes members in linkedExecutionOrder, sharing one processed-
// identifier set across the write phase, then gates the group's single
// post-update behind every member completing its write. overrideParams,
// keyed by taskID, lets executeTask-style callers override one member's
// parameters for this run.
func (c *Coordinator) Run(ctx context.Context, members []*store.Task, overrideParams map[string][]store.Parameter) (*Result, error) {
	sorted := SortMembers(members)
	coordinator, err := coordinatorOf(sorted)
	if err != nil {
		return nil, err
	}

	shared := executor.NewSharedState()
	result := &Result{Outcomes: make(map[string]*executor.Outcome, len(sorted))}

	for i, member := range sorted {
		outcome, runErr := c.exec.RunMember(ctx, member, overrideParams[member.ID], shared)
		result.Outcomes[member.ID] = outcome

		if runErr != nil {
			result.Failed = member.ID
			c.exec.Finish(ctx, member, outcome, runErr)
			c.failRemaining(ctx, sorted[:i], result, member.ID, runErr)
			return result, runErr
		}
	}

	if err := c.exec.RunPostUpdate(ctx, coordinator, shared.Keys()); err != nil {
		result.Failed = coordinator.ID
		partial := apperrors.Wrap(apperrors.CodeGroupPartiallyFailed, err, "group post-update failed after every member wrote")
		for _, member := range sorted {
			c.exec.Finish(ctx, member, result.Outcomes[member.ID], partial)
		}
		return result, err
	}

	for _, member := range sorted {
		c.exec.Finish(ctx, member, result.Outcomes[member.ID], nil)
	}

	return result, nil
}

// failRemaining closes out every member that already committed its
// write before member failed: each keeps its own successful write but
// is recorded as GroupPartiallyFailed since the group never reached its
// shared post-update (spec §4.9 "partial failure").
func (c *Coordinator) failRemaining(ctx context.Context, committed []*store.Task, result *Result, failedID string, cause error) {
	partial := apperrors.Wrap(apperrors.CodeGroupPartiallyFailed, cause, "sibling task "+failedID+" failed before group post-update")
	for _, member := range committed {
		c.exec.Finish(ctx, member, result.Outcomes[member.ID], partial)
	}
}

// ResolveFanOutSet returns task together with every task named in its
// linkedTasks[], for callers about to FanOut a task that has no
// linkedGroup. Order is task first, then linkedTasks in declaration order.
func ResolveFanOutSet(ctx context.Context, st *store.Store, task *store.Task) ([]*store.Task, error) {
	set := make([]*store.Task, 0, len(task.LinkedTasks)+1)
	set = append(set, task)
	for _, id := range task.LinkedTasks {
		linked, err := st.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		set = append(set, linked)
	}
	return set, nil
}

// FanOut runs a task's linkedTasks[] concurrently, each through its own
// full pipeline with its own post-update and chain — the case where
// linkedTasks is set but linkedGroup is empty, so there is no shared
// post-update barrier (spec §4.9 "fan-out without a group"). One
// member's failure does not affect the others, so unlike Run's
// sequential barrier-gated members, these run in parallel: each holds
// its own connections and registry entry, and nothing downstream waits
// on a shared state.
func FanOut(ctx context.Context, exec *executor.Executor, tasks []*store.Task) map[string]error {
	errs := make(map[string]error, len(tasks))
	var mu sync.Mutex

	var g errgroup.Group
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			_, err := exec.Run(ctx, t, nil)
			mu.Lock()
			errs[t.ID] = err
			mu.Unlock()
			return nil // independent failures don't cancel siblings
		})
	}
	_ = g.Wait()
	return errs
}
