package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// summaryScheduleInterval is how often the scheduler re-checks each agent's
// configured daily_summary_time against the wall clock.
const summaryScheduleInterval = time.Minute

// runSummaryScheduler turns each agent's function_settings.daily_summary_time
// into pending growth_summaries rows for the store's background worker to
// pick up. Enqueueing is idempotent — the (agent, date, type) uniqueness
// constraint makes repeated ticks past the configured time no-ops — so the
// scheduler can simply re-offer every due summary each tick rather than
// tracking what it already scheduled.
func (a *App) runSummaryScheduler(ctx context.Context) {
	ticker := time.NewTicker(summaryScheduleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.scheduleDueSummaries(ctx, time.Now())
		}
	}
}

// scheduleDueSummaries enqueues a daily summary for every agent whose
// configured time has passed today, and a weekly one on Sundays at the same
// time.
func (a *App) scheduleDueSummaries(ctx context.Context, now time.Time) {
	for _, agent := range a.cfg.Agents {
		if agent.Functions.DailySummaryTime == "" {
			continue
		}
		due, err := summaryDueAt(now, agent.Functions.DailySummaryTime)
		if err != nil {
			slog.Warn("invalid daily_summary_time, skipping agent",
				"agent_id", agent.ID, "value", agent.Functions.DailySummaryTime, "err", err)
			continue
		}
		if now.Before(due) {
			continue
		}

		date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if err := a.store.ScheduleGrowthSummary(ctx, agent.ID, date, "daily", due); err != nil {
			slog.Warn("schedule daily summary failed", "agent_id", agent.ID, "err", err)
		}
		if now.Weekday() == time.Sunday {
			if err := a.store.ScheduleGrowthSummary(ctx, agent.ID, date, "weekly", due); err != nil {
				slog.Warn("schedule weekly summary failed", "agent_id", agent.ID, "err", err)
			}
		}
	}
}

// summaryDueAt resolves an "HH:MM" wall-clock setting onto now's date in
// now's location.
func summaryDueAt(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", hhmm, err)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
}
