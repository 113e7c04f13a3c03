// Package scheduler implements the daily auto-trigger (C10): a single
// cron entry computed from the persisted ScheduleConfig, gated by a
// global single-flight check and the Task Registry's startup
// reconciliation (spec §4.10, §5).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/heriberto777/transferengine/executor"
	"github.com/heriberto777/transferengine/group"
	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/internal/config"
	"github.com/heriberto777/transferengine/metrics"
	"github.com/heriberto777/transferengine/registry"
	"github.com/heriberto777/transferengine/store"
)

// Deps are the collaborators the scheduler needs.
type Deps struct {
	Store      *store.Store
	Registry   *registry.Registry
	Exec       *executor.Executor
	GroupCoord *group.Coordinator
	// Metrics is optional; when nil, fire-cycle instrumentation is skipped.
	Metrics *metrics.Registry
}

// Scheduler owns one robfig/cron entry, rebuilt whenever the persisted
// ScheduleConfig changes via SetSchedule.
type Scheduler struct {
	deps Deps

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	active  bool
}

func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps: deps,
		cron: cron.New(),
	}
}

// Start reconciles the registry against persisted state (invariant I1),
// installs the current ScheduleConfig as a cron entry, and starts the
// cron runner. It returns once the initial entry is installed; the
// runner itself keeps firing in its own goroutine until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := registry.ReconcileOnStartup(ctx, s.deps.Store); err != nil {
		return err
	}

	cfg, err := s.deps.Store.GetSchedule(ctx)
	if err != nil {
		return err
	}
	if err := s.reschedule(cfg); err != nil {
		return err
	}

	s.cron.Start()
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight job function to
// return (it does not cancel a task already dispatched to the
// executor — that cancellation goes through the registry).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// SetSchedule persists the new configuration and rebuilds the cron
// entry to match, replacing whatever was previously scheduled.
func (s *Scheduler) SetSchedule(ctx context.Context, cfg *store.ScheduleConfig) error {
	if err := s.deps.Store.SetSchedule(ctx, cfg); err != nil {
		return err
	}
	return s.reschedule(cfg)
}

func (s *Scheduler) reschedule(cfg *store.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
		s.entryID = 0
	}
	if !cfg.Enabled {
		return nil
	}

	hour, minute, err := config.ParseHHMM(cfg.Hour)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidConfig, err, "schedule hour")
	}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)

	id, err := s.cron.AddFunc(spec, func() {
		s.runDue(context.Background())
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidConfig, err, "install cron entry")
	}
	s.entryID = id
	return nil
}

// runDue is the cron job body: single-flight check, then one pass over
// every active auto/both task, grouped tasks run through their
// coordinator and standalone tasks run directly (spec §4.10 step 2-4).
// A busy engine is logged and skipped, never queued — the next day's
// fire is the next opportunity (spec §5 "attempted, not blocked").
func (s *Scheduler) runDue(ctx context.Context) {
	if s.deps.Registry.RunningOfKind(store.KindAuto, store.KindBoth) {
		slog.Warn("scheduler: skipping fire, an auto/both task is already running")
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordSchedulerFire(false)
		}
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSchedulerFire(true)
	}

	tasks, err := s.deps.Store.ListTasks(ctx, store.TaskFinder{
		ActiveOnly: true,
		Kinds:      []store.Kind{store.KindAuto, store.KindBoth},
	})
	if err != nil {
		slog.Error("scheduler: list active tasks failed", "error", err)
		return
	}

	groups := make(map[string][]*store.Task)
	var standalone []*store.Task
	for _, t := range tasks {
		if t.LinkedGroup != "" {
			groups[t.LinkedGroup] = append(groups[t.LinkedGroup], t)
			continue
		}
		standalone = append(standalone, t)
	}

	groupKeys := make([]string, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)

	for _, key := range groupKeys {
		if _, err := s.deps.GroupCoord.Run(ctx, groups[key], nil); err != nil {
			slog.Error("scheduler: group run failed", "group", key, "error", err)
		}
	}

	sort.Slice(standalone, func(i, j int) bool { return standalone[i].ID < standalone[j].ID })
	for _, t := range standalone {
		if len(t.LinkedTasks) > 0 {
			set, err := group.ResolveFanOutSet(ctx, s.deps.Store, t)
			if err != nil {
				slog.Error("scheduler: resolve fan-out set failed", "task", t.ID, "error", err)
				continue
			}
			for id, err := range group.FanOut(ctx, s.deps.Exec, set) {
				if err != nil {
					slog.Error("scheduler: fan-out task run failed", "task", id, "error", err)
				}
			}
			continue
		}
		if _, err := s.deps.Exec.Run(ctx, t, nil); err != nil {
			slog.Error("scheduler: task run failed", "task", t.ID, "error", err)
		}
	}
}
