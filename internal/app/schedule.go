package app

import (
	"context"
	"log/slog"
	"time"
)

// RunScheduled runs once immediately, then daily at hour:minute UTC, until
// ctx is cancelled. A failed run is logged and the loop waits for the next slot.
func RunScheduled(ctx context.Context, hour, minute int, run func(ctx context.Context) error) error {
	for {
		if err := run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("scheduled run failed", "error", err)
		}

		nextRun := nextRunTime(time.Now().UTC(), hour, minute)
		waitDur := time.Until(nextRun)
		slog.Info("timer waiting", "hours", waitDur.Hours(), "until", nextRun.Format("2006-01-02 15:04"))
		timer := time.NewTimer(waitDur)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("stopping scheduler", "restart_at", nextRun.Format("2006-01-02 15:04"))
			return ctx.Err()
		}
	}
}

func nextRunTime(now time.Time, hour, min int) time.Time {
	targetToday := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, time.UTC)
	if now.Before(targetToday) {
		return targetToday
	}
	tomorrow := now.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hour, min, 0, 0, time.UTC)
}
