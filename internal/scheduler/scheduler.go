// Package scheduler runs periodic background tasks until their context is
// cancelled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one periodic job. Run is called once per Interval; a returned error
// is logged and the task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Runner owns a set of tasks.
type Runner struct {
	tasks []Task
}

func New(tasks ...Task) *Runner {
	return &Runner{tasks: tasks}
}

// Add registers a task. Tasks added after Start are not scheduled.
func (r *Runner) Add(t Task) {
	r.tasks = append(r.tasks, t)
}

// Start blocks, running every task on its own ticker, until ctx is done. It
// returns nil on cancellation and an error only for a misconfigured task.
func (r *Runner) Start(ctx context.Context) error {
	for _, t := range r.tasks {
		if t.Interval <= 0 {
			return fmt.Errorf("task %q: interval must be positive, got %s", t.Name, t.Interval)
		}
		if t.Run == nil {
			return fmt.Errorf("task %q: run func is nil", t.Name)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		g.Go(func() error {
			loop(ctx, t)
			return nil
		})
	}
	return g.Wait()
}

func loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, t)
		}
	}
}

func runOnce(ctx context.Context, t Task) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = t.Interval
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("task_panic", "task", t.Name, "panic", rec)
		}
	}()

	start := time.Now()
	if err := t.Run(opCtx); err != nil {
		slog.Warn("task_failed", "task", t.Name, "error", err, "duration_ms", time.Since(start).Milliseconds())
	}
}
