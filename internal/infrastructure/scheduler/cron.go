// Package scheduler drives recurring collection runs in daemon mode.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"OsintAggregator/internal/ports"
)

// CronScheduler runs the job on a cron expression in a configured
// timezone. Descriptors such as "@every 6h" are accepted too.
type CronScheduler struct {
	spec   string
	loc    *time.Location
	logger *slog.Logger
	runner *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler from a cron expression and a
// timezone. A nil location means local time.
func NewCronScheduler(spec string, loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CronScheduler{
		spec:   spec,
		loc:    loc,
		logger: logger.With("component", "scheduler"),
	}
}

// Start registers and launches the job. Triggers overlapping a still
// running job are delayed until it finishes.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || c.runner != nil {
		return nil
	}

	runner := cron.New(
		cron.WithLocation(c.loc),
		cron.WithChain(cron.DelayIfStillRunning(cronLogger{c.logger})),
	)
	_, err := runner.AddFunc(c.spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(time.Now().In(c.loc))
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.spec, err)
	}

	c.logger.Info("scheduler started", "expression", c.spec, "timezone", c.loc.String())
	runner.Start()
	c.runner = runner
	return nil
}

// Stop halts scheduling and waits for a running job to finish, bounded
// by the caller's context.
func (c *CronScheduler) Stop(ctx context.Context) error {
	if c.runner == nil {
		return nil
	}

	done := c.runner.Stop()
	c.runner = nil
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to the cron library's logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
