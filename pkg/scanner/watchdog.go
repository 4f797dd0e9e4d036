package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wachiwi/gate-scanner/pkg/logger"
)

type IdleStopper interface {
	StopIfIdle(limit time.Duration) bool
}

// Watchdog runs housekeeping jobs on cron schedules. Jobs never overlap
// with themselves and a panicking job is logged instead of crashing.
type Watchdog struct {
	cron *cron.Cron
}

func NewWatchdog(log *slog.Logger) *Watchdog {
	cl := &logger.CronLogger{Logger: log}
	return &Watchdog{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// WatchIdle stops scans that run longer than limit without a code, so an
// unattended scanner does not hold the camera forever.
func (w *Watchdog) WatchIdle(schedule string, s IdleStopper, limit time.Duration) error {
	if limit <= 0 {
		return nil
	}
	return w.Every(schedule, "idle-scan", idleJob(s, limit))
}

// Every registers fn under schedule (standard cron or "@every 30s").
func (w *Watchdog) Every(schedule, name string, fn func()) error {
	if _, err := w.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("failed to schedule %s job %q: %w", name, schedule, err)
	}
	slog.Debug("Scheduled job", "job", name, "schedule", schedule)
	return nil
}

func (w *Watchdog) Start() {
	w.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (w *Watchdog) Stop() context.Context {
	return w.cron.Stop()
}

func idleJob(s IdleStopper, limit time.Duration) func() {
	return func() {
		if s.StopIfIdle(limit) {
			slog.Info("Watchdog released idle camera", "limit", limit)
		}
	}
}
