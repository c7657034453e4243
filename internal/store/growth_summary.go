package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// growthSummaryPollInterval is how often [Store.RunGrowthSummaryWorker]
// checks for pending rows whose scheduled_at has elapsed.
const growthSummaryPollInterval = 30 * time.Second

// GrowthSummary is a per-(agent, date, type) scheduled rollup (§3 GrowthSummary).
type GrowthSummary struct {
	ID          int64
	AgentID     string
	SummaryDate time.Time
	SummaryType string // "daily" or "weekly"
	Content     string
	Status      string // pending | completed | failed
	ScheduledAt time.Time
}

// ScheduleGrowthSummary enqueues a pending growth-summary row. The
// (agent_id, summary_date, summary_type) triple is unique; scheduling twice
// for the same triple is a no-op beyond the first insert.
func (s *Store) ScheduleGrowthSummary(ctx context.Context, agentID string, date time.Time, summaryType string, scheduledAt time.Time) error {
	const q = `
		INSERT INTO growth_summaries (agent_id, summary_date, summary_type, scheduled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, summary_date, summary_type) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, agentID, date, summaryType, scheduledAt); err != nil {
		return fmt.Errorf("store: schedule growth summary: %w", err)
	}
	return nil
}

// RunGrowthSummaryWorker is the single background worker that picks pending
// growth-summary rows whose scheduled_at has elapsed, runs the configured
// summarizer, and writes back content with status completed or failed. It
// blocks until ctx is cancelled, polling every growthSummaryPollInterval —
// the same ticker-driven background-worker idiom as the teacher's session
// consolidator.
func (s *Store) RunGrowthSummaryWorker(ctx context.Context) error {
	ticker := time.NewTicker(growthSummaryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.processPendingGrowthSummaries(ctx); err != nil {
				slog.Warn("growth summary worker: process pending failed", "err", err)
			}
		}
	}
}

func (s *Store) processPendingGrowthSummaries(ctx context.Context) error {
	if s.summarizer == nil {
		return fmt.Errorf("no summarizer configured")
	}

	const qPending = `
		SELECT id, agent_id, summary_date, summary_type
		FROM   growth_summaries
		WHERE  status = 'pending' AND scheduled_at <= now()
		ORDER  BY scheduled_at
		LIMIT  50`

	rows, err := s.pool.Query(ctx, qPending)
	if err != nil {
		return fmt.Errorf("select pending: %w", err)
	}
	type due struct {
		id          int64
		agentID     string
		summaryDate time.Time
		summaryType string
	}
	pending, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (due, error) {
		var d due
		err := r.Scan(&d.id, &d.agentID, &d.summaryDate, &d.summaryType)
		return d, err
	})
	if err != nil {
		return fmt.Errorf("scan pending: %w", err)
	}

	for _, d := range pending {
		prompt := fmt.Sprintf("Produce a %s growth summary for agent %s covering %s.",
			d.summaryType, d.agentID, d.summaryDate.Format("2006-01-02"))

		content, err := s.summarizer.Summarize(ctx, prompt)
		status := "completed"
		if err != nil {
			status = "failed"
			content = ""
			slog.Warn("growth summary generation failed", "id", d.id, "err", err)
		}

		const qUpdate = `UPDATE growth_summaries SET content = $1, status = $2 WHERE id = $3`
		if _, uerr := s.pool.Exec(ctx, qUpdate, content, status, d.id); uerr != nil {
			return fmt.Errorf("update growth summary %d: %w", d.id, uerr)
		}
	}
	return nil
}
