// Package registry implements the Task Registry (C3): an in-memory map
// of active tasks to cancellation tokens and metadata, reconciled
// against the persisted store on startup (invariant I1).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/store"
)

// State mirrors store.Status for the in-memory entry; kept as its own
// type so the registry never needs the store package for anything but
// reconciliation.
type State string

const (
	StatePending    State = "pending"
	StateRunning    State = "running"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Entry is one Running Task Entry (spec §3).
type Entry struct {
	TaskID    string
	Kind      store.Kind
	State     State
	Progress  int // -1..100
	StartedAt time.Time

	cancel context.CancelFunc
	ctx    context.Context

	mu sync.Mutex
}

// Context returns the cancellation context threaded through the task's
// execution pipeline.
func (e *Entry) Context() context.Context {
	return e.ctx
}

func (e *Entry) setState(s State) {
	e.mu.Lock()
	e.State = s
	e.mu.Unlock()
}

func (e *Entry) setProgress(p int) {
	e.mu.Lock()
	e.Progress = p
	e.mu.Unlock()
}

func (e *Entry) snapshot() Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Entry{
		TaskID:    e.TaskID,
		Kind:      e.Kind,
		State:     e.State,
		Progress:  e.Progress,
		StartedAt: e.StartedAt,
	}
}

// Registry guards the taskId -> Entry map with a single lock, serializing
// register/cancel/complete against each other (spec §5).
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// isAutoExclusive reports whether kind is subject to invariant I2 ("at
// most one task with kind auto/both running process-wide").
func isAutoExclusive(kind store.Kind) bool {
	return kind == store.KindAuto || kind == store.KindBoth
}

// Register creates a Running Task Entry for taskId, deriving a
// cancellable context from parent. Fails with AlreadyRunning if an entry
// for taskId already exists (invariant I1's counterpart at start time).
// If kind is auto/both, also enforces invariant I2 atomically against
// every other currently-registered entry: a caller fanning out several
// tasks concurrently (group.FanOut, scheduler's standalone sweep) has no
// other serialization point, so this check-and-insert under the single
// registry lock is the only place I2 can be guaranteed when two auto/both
// tasks are registered from separate goroutines at nearly the same time.
func (r *Registry) Register(parent context.Context, taskID string, kind store.Kind) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[taskID]; exists {
		return nil, apperrors.New(apperrors.CodeAlreadyRunning, "task "+taskID+" is already running")
	}

	if isAutoExclusive(kind) {
		for _, e := range r.entries {
			if e.snapshot().State == StateRunning && isAutoExclusive(e.Kind) {
				return nil, apperrors.New(apperrors.CodeGlobalBusy, "an auto/both task is already running")
			}
		}
	}

	ctx, cancel := context.WithCancel(parent)
	entry := &Entry{
		TaskID:    taskID,
		Kind:      kind,
		State:     StateRunning,
		Progress:  0,
		StartedAt: time.Now(),
		cancel:    cancel,
		ctx:       ctx,
	}
	r.entries[taskID] = entry
	return entry, nil
}

// Get returns the live entry for taskId, if any.
func (r *Registry) Get(taskID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	return e, ok
}

// UpdateProgress advances the entry's published percent. Callers are
// responsible for the monotonic-non-decreasing contract (invariant I4);
// the registry itself does not reject out-of-order writes so a terminal
// -1 can always be applied.
func (r *Registry) UpdateProgress(taskID string, percent int) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	r.mu.Unlock()
	if ok {
		e.setProgress(percent)
	}
}

// Cancel triggers the entry's cancellation token and transitions it to
// cancelling. force and reason are accepted but not stored or acted on
// here; the executor only observes the cancelled context.
func (r *Registry) Cancel(taskID string, force bool, reason string) error {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	r.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.CodeNotFound, "task "+taskID+" is not running")
	}
	e.setState(StateCancelling)
	e.cancel()
	return nil
}

// Complete removes the entry for taskId and returns its final snapshot
// for the caller to persist/publish. A no-op (returns ok=false) if the
// task was never registered.
func (r *Registry) Complete(taskID string, terminal State) (Entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if ok {
		delete(r.entries, taskID)
	}
	r.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	e.setState(terminal)
	return e.snapshot(), true
}

// RunningOfKind reports whether any task of the given kinds is currently
// running, for the scheduler's single-flight check (invariant I2).
func (r *Registry) RunningOfKind(kinds ...store.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[store.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	for _, e := range r.entries {
		snap := e.snapshot()
		if snap.State == StateRunning && want[snap.Kind] {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of every live entry, for diagnostics/tests.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	return out
}

// ReconcileOnStartup scans the store for tasks persisted as running with
// no corresponding in-memory entry (because the process just restarted)
// and marks them failed with a fixed reason (invariant I1).
func ReconcileOnStartup(ctx context.Context, st *store.Store) error {
	statuses, err := st.ListRunningStatuses(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "list running statuses")
	}

	for _, s := range statuses {
		s.Status = store.StatusFailed
		s.Progress = -1
		s.LastExecutionResult = &store.LastExecutionResult{
			Success: false,
			Error:   "process restarted",
		}
		if err := st.SetTaskStatus(ctx, s); err != nil {
			return apperrors.Wrap(apperrors.CodeQueryExecutionFailed, err, "reconcile task status")
		}
	}
	return nil
}
