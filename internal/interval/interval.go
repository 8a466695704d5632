// Package interval runs repeating background tasks. A tick that finds the
// previous run of the same task still in flight is skipped, not queued.
package interval

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Task is one repeating job.
type Task struct {
	Name string
	// Every is the tick period. Values <= 0 default to one minute.
	Every time.Duration
	// Immediate runs the task once before the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Runner guards a single Task against overlapping runs.
type Runner struct {
	task     Task
	inFlight atomic.Bool
	skipped  atomic.Int64
}

// New builds a runner for task.
func New(task Task) *Runner {
	if task.Every <= 0 {
		task.Every = time.Minute
	}
	if task.Name == "" {
		task.Name = "task"
	}
	return &Runner{task: task}
}

// Start runs the task until ctx is cancelled. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	if r.task.Immediate {
		r.Tick(ctx)
	}
	ticker := time.NewTicker(r.task.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick launches one run unless a previous run is still in flight.
// It reports whether a run was started.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		slog.Debug("interval tick skipped", "task", r.task.Name)
		return false
	}
	go func() {
		defer r.inFlight.Store(false)
		if err := r.task.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("interval task failed", "task", r.task.Name, "err", err)
		}
	}()
	return true
}

// InFlight reports whether a run is currently executing.
func (r *Runner) InFlight() bool {
	return r.inFlight.Load()
}

// Skipped returns how many ticks were dropped because of overlap.
func (r *Runner) Skipped() int64 {
	return r.skipped.Load()
}
