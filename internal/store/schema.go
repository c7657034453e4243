// Package store is the PostgreSQL-backed Conversation Store (component C):
// the append-only chat message log, its LLM-summarised compression, the
// scheduled growth-summary and session-analysis rollups, voice-clone
// training records, and the memory module's semantic recall index.
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS, mirroring the teacher's postgres memory
// store migration.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlChatMessages = `
CREATE TABLE IF NOT EXISTS chat_messages (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    agent_id      TEXT         NOT NULL,
    role          TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    audio_path    TEXT         NOT NULL DEFAULT '',
    emotion       TEXT         NOT NULL DEFAULT '',
    copilot_mode  BOOLEAN      NOT NULL DEFAULT false,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_session
    ON chat_messages (session_id);

CREATE INDEX IF NOT EXISTS idx_chat_messages_agent_copilot_created
    ON chat_messages (agent_id, copilot_mode, created_at);
`

const ddlCompressedHistory = `
CREATE TABLE IF NOT EXISTS compressed_history (
    id                BIGSERIAL    PRIMARY KEY,
    agent_id          TEXT         NOT NULL,
    copilot_mode      BOOLEAN      NOT NULL DEFAULT false,
    summary           TEXT         NOT NULL,
    content_last_time TIMESTAMPTZ  NOT NULL,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_compressed_history_agent_copilot_time
    ON compressed_history (agent_id, copilot_mode, content_last_time DESC);
`

const ddlGrowthSummaries = `
CREATE TABLE IF NOT EXISTS growth_summaries (
    id             BIGSERIAL    PRIMARY KEY,
    agent_id       TEXT         NOT NULL,
    summary_date   DATE         NOT NULL,
    summary_type   TEXT         NOT NULL,
    content        TEXT         NOT NULL DEFAULT '',
    status         TEXT         NOT NULL DEFAULT 'pending',
    scheduled_at   TIMESTAMPTZ  NOT NULL,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (agent_id, summary_date, summary_type)
);

CREATE INDEX IF NOT EXISTS idx_growth_summaries_pending
    ON growth_summaries (status, scheduled_at) WHERE status = 'pending';
`

const ddlSessionAnalysis = `
CREATE TABLE IF NOT EXISTS session_analysis (
    session_id      TEXT         PRIMARY KEY,
    duration_ns     BIGINT       NOT NULL DEFAULT 0,
    avg_utterance   DOUBLE PRECISION NOT NULL DEFAULT 0,
    analysis        JSONB        NOT NULL DEFAULT '{}',
    status          TEXT         NOT NULL DEFAULT 'pending',
    retry_count     INT          NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_analysis_pending
    ON session_analysis (status) WHERE status = 'pending';
`

const ddlVoiceClones = `
CREATE TABLE IF NOT EXISTS voice_clones (
    id              TEXT         PRIMARY KEY,
    user_id         TEXT         NOT NULL,
    name            TEXT         NOT NULL,
    provider_code   TEXT         NOT NULL,
    provider_voice_id TEXT       NOT NULL DEFAULT '',
    sample_path     TEXT         NOT NULL DEFAULT '',
    status          TEXT         NOT NULL DEFAULT 'training',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_clones_user
    ON voice_clones (user_id);
`

// ddlMemoryChunks returns the memory module's semantic recall DDL with the
// embedding dimension baked into the column type, matching the teacher's
// ddlL2 pattern for the chunks table.
func ddlMemoryChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_chunks (
    id          BIGSERIAL    PRIMARY KEY,
    agent_id    TEXT         NOT NULL,
    session_id  TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_agent
    ON memory_chunks (agent_id);

CREATE INDEX IF NOT EXISTS idx_memory_chunks_embedding
    ON memory_chunks USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes, and extensions
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured via
// postgres.embedding_dimensions (e.g. 1536 for OpenAI text-embedding-3-small).
// Changing it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlChatMessages,
		ddlCompressedHistory,
		ddlGrowthSummaries,
		ddlSessionAnalysis,
		ddlVoiceClones,
		ddlMemoryChunks(embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
