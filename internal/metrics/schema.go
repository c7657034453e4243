package metrics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlAIMetrics = `
CREATE TABLE IF NOT EXISTS ai_metrics (
    id                 BIGSERIAL PRIMARY KEY,
    monitor_id         TEXT NOT NULL,
    provider           TEXT NOT NULL,
    model              TEXT NOT NULL,
    session_id         TEXT NOT NULL,
    start_time         TIMESTAMPTZ NOT NULL,
    end_time           TIMESTAMPTZ NOT NULL,
    prompt_tokens      BIGINT NOT NULL DEFAULT 0,
    completion_tokens  BIGINT NOT NULL DEFAULT 0,
    input_chars        BIGINT NOT NULL DEFAULT 0,
    output_chars       BIGINT NOT NULL DEFAULT 0,
    tool_calls         BIGINT NOT NULL DEFAULT 0,
    cost_micros        BIGINT NOT NULL DEFAULT 0,
    first_byte_ms      DOUBLE PRECISION,
    first_token_ms     DOUBLE PRECISION,
    total_ms           DOUBLE PRECISION NOT NULL,
    status             TEXT NOT NULL
)`

const ddlAIMetricsSessionIdx = `
CREATE INDEX IF NOT EXISTS idx_ai_metrics_session ON ai_metrics (session_id, start_time)`

const ddlAIMetricsProviderIdx = `
CREATE INDEX IF NOT EXISTS idx_ai_metrics_provider ON ai_metrics (provider, model, start_time)`

// migrate creates the ai_metrics table and its indexes if they don't exist.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlAIMetrics, ddlAIMetricsSessionIdx, ddlAIMetricsProviderIdx} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("metrics: migrate: %w", err)
		}
	}
	return nil
}
