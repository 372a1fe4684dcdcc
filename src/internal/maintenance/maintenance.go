// Package maintenance runs scheduled housekeeping against the engine:
// store compaction and a periodic size report.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kbserve/src/internal/kb"

	"github.com/robfig/cron/v3"
)

type Runner struct {
	engine *kb.Engine
	c      *cron.Cron
}

func NewRunner(engine *kb.Engine) *Runner {
	return &Runner{
		engine: engine,
		c:      cron.New(cron.WithSeconds()),
	}
}

// Start schedules the compaction job. Schedules use the six-field
// (seconds-first) cron format.
func (r *Runner) Start(schedule string) error {
	if _, err := r.c.AddFunc(schedule, r.run); err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	r.c.Start()
	slog.Info("maintenance scheduled", "spec", schedule)
	return nil
}

func (r *Runner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	if err := r.engine.Compact(ctx); err != nil {
		slog.Error("maintenance compaction failed", "error", err)
		return
	}
	slog.Info("maintenance run complete", "memories", r.engine.Size(), "elapsed", time.Since(start))
}

// Stop halts the schedule; a running job finishes first.
func (r *Runner) Stop() {
	ctx := r.c.Stop()
	<-ctx.Done()
}
