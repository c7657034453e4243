package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// compactThreshold is the raw message count per (agent, copilot_mode) beyond
// which [Store.CompactIfNeeded] summarises and deletes the older tail.
const compactThreshold = 200

// compactKeepTail is how many of the newest messages are left uncompressed
// after a compaction run.
const compactKeepTail = 50

// ChatMessage is one row of the append-only conversation log (§3 ChatMessage).
type ChatMessage struct {
	ID          int64
	SessionID   string
	AgentID     string
	Role        string // "user" or "assistant"
	Content     string
	AudioPath   string
	Emotion     string
	CopilotMode bool
	CreatedAt   time.Time
}

// CompressedHistory is an LLM-summarised condensation of messages older than
// ContentLastTime, for a given (agent, copilot_mode) pair (§3 CompressedHistory).
type CompressedHistory struct {
	Summary         string
	ContentLastTime time.Time
}

// AppendMessage atomically inserts a chat message and returns its id.
// AudioPath should only be set for user messages, per §3.
func (s *Store) AppendMessage(ctx context.Context, sessionID, agentID, role, content, audioPath, emotion string, copilotMode bool) (int64, error) {
	const q = `
		INSERT INTO chat_messages (session_id, agent_id, role, content, audio_path, emotion, copilot_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q, sessionID, agentID, role, content, audioPath, emotion, copilotMode).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: append message: %w", err)
	}
	return id, nil
}

// RecentWindow returns the newest ≤limit messages for (agentID, copilotMode)
// ordered oldest-first, plus the latest CompressedHistory row whose
// ContentLastTime precedes the window, if one exists.
func (s *Store) RecentWindow(ctx context.Context, agentID string, copilotMode bool, limit int) ([]ChatMessage, *CompressedHistory, error) {
	const q = `
		SELECT id, session_id, agent_id, role, content, audio_path, emotion, copilot_mode, created_at
		FROM (
		    SELECT *
		    FROM   chat_messages
		    WHERE  agent_id = $1 AND copilot_mode = $2
		    ORDER  BY created_at DESC
		    LIMIT  $3
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, agentID, copilotMode, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("store: recent window: %w", err)
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChatMessage, error) {
		var m ChatMessage
		err := row.Scan(&m.ID, &m.SessionID, &m.AgentID, &m.Role, &m.Content, &m.AudioPath, &m.Emotion, &m.CopilotMode, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store: recent window scan: %w", err)
	}
	if messages == nil {
		messages = []ChatMessage{}
	}

	var windowStart time.Time
	if len(messages) > 0 {
		windowStart = messages[0].CreatedAt
	} else {
		windowStart = time.Now()
	}

	const qch = `
		SELECT summary, content_last_time
		FROM   compressed_history
		WHERE  agent_id = $1 AND copilot_mode = $2 AND content_last_time <= $3
		ORDER  BY content_last_time DESC
		LIMIT  1`

	var ch CompressedHistory
	err = s.pool.QueryRow(ctx, qch, agentID, copilotMode, windowStart).Scan(&ch.Summary, &ch.ContentLastTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return messages, nil, nil
		}
		return nil, nil, fmt.Errorf("store: recent window compressed history: %w", err)
	}
	return messages, &ch, nil
}

// MessagesBySession returns the newest ≤limit messages for one gateway
// session, ordered oldest-first, for the HTTP CRUD surface's transcript
// view (distinct from RecentWindow, which windows by agent+mode for prompt
// assembly rather than by a single session's messages).
func (s *Store) MessagesBySession(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	const q = `
		SELECT id, session_id, agent_id, role, content, audio_path, emotion, copilot_mode, created_at
		FROM (
		    SELECT *
		    FROM   chat_messages
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC
		    LIMIT  $2
		) recent
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: messages by session: %w", err)
	}
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChatMessage, error) {
		var m ChatMessage
		err := row.Scan(&m.ID, &m.SessionID, &m.AgentID, &m.Role, &m.Content, &m.AudioPath, &m.Emotion, &m.CopilotMode, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: messages by session scan: %w", err)
	}
	if messages == nil {
		messages = []ChatMessage{}
	}
	return messages, nil
}

// SessionSummary is one row of the session-listing view: a session_id with
// aggregate stats derived from its message log.
type SessionSummary struct {
	SessionID    string
	AgentID      string
	MessageCount int
	LastActivity time.Time
}

// ListSessions returns the most recently active sessions, newest first.
// Sessions are not a first-class stored entity (§1: the HTTP CRUD surface
// is a thin shim over the append-only message log) — a session_id exists
// the moment its first message is appended, so this aggregates over
// chat_messages rather than a dedicated sessions table.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	const q = `
		SELECT session_id, max(agent_id), count(*), max(created_at)
		FROM   chat_messages
		GROUP  BY session_id
		ORDER  BY max(created_at) DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SessionSummary, error) {
		var sm SessionSummary
		err := row.Scan(&sm.SessionID, &sm.AgentID, &sm.MessageCount, &sm.LastActivity)
		return sm, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list sessions scan: %w", err)
	}
	if summaries == nil {
		summaries = []SessionSummary{}
	}
	return summaries, nil
}

// DeleteSession removes every chat_messages and session_analysis row for
// sessionID. Returns the number of chat_messages rows deleted.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: delete session: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("store: delete session: messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM session_analysis WHERE session_id = $1`, sessionID); err != nil {
		return 0, fmt.Errorf("store: delete session: analysis: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: delete session: commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CompactIfNeeded summarises and deletes the older tail of messages for
// (agentID, copilotMode) once the raw count exceeds compactThreshold,
// keeping the newest compactKeepTail rows uncompressed. Idempotent when
// already within the threshold.
//
// Takes a per-(agent,copilot_mode) Postgres advisory transaction lock so
// concurrent sessions for the same agent cannot double-compress the same
// range; the lock is scoped to the transaction and released automatically
// on commit/rollback.
func (s *Store) CompactIfNeeded(ctx context.Context, agentID string, copilotMode bool) error {
	if s.summarizer == nil {
		return fmt.Errorf("store: compact if needed: no summarizer configured")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: compact if needed: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	lockKey := advisoryLockKey(agentID, copilotMode)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("store: compact if needed: advisory lock: %w", err)
	}

	var total int
	const qCount = `SELECT count(*) FROM chat_messages WHERE agent_id = $1 AND copilot_mode = $2`
	if err := tx.QueryRow(ctx, qCount, agentID, copilotMode).Scan(&total); err != nil {
		return fmt.Errorf("store: compact if needed: count: %w", err)
	}
	if total <= compactThreshold {
		return nil
	}

	toCompress := total - compactKeepTail
	const qOlder = `
		SELECT id, role, content, created_at
		FROM   chat_messages
		WHERE  agent_id = $1 AND copilot_mode = $2
		ORDER  BY created_at
		LIMIT  $3`

	rows, err := tx.Query(ctx, qOlder, agentID, copilotMode, toCompress)
	if err != nil {
		return fmt.Errorf("store: compact if needed: select older: %w", err)
	}
	type row struct {
		id        int64
		role      string
		content   string
		createdAt time.Time
	}
	older, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (row, error) {
		var out row
		err := r.Scan(&out.id, &out.role, &out.content, &out.createdAt)
		return out, err
	})
	if err != nil {
		return fmt.Errorf("store: compact if needed: scan older: %w", err)
	}
	if len(older) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("Summarize the following conversation concisely, preserving facts and names:\n\n")
	for _, m := range older {
		fmt.Fprintf(&sb, "%s: %s\n", m.role, m.content)
	}

	summary, err := s.summarizer.Summarize(ctx, sb.String())
	if err != nil {
		return fmt.Errorf("store: compact if needed: summarize: %w", err)
	}

	lastTime := older[len(older)-1].createdAt
	const qInsertCH = `
		INSERT INTO compressed_history (agent_id, copilot_mode, summary, content_last_time)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, qInsertCH, agentID, copilotMode, summary, lastTime); err != nil {
		return fmt.Errorf("store: compact if needed: insert compressed history: %w", err)
	}

	ids := make([]int64, len(older))
	for i, m := range older {
		ids[i] = m.id
	}
	const qDelete = `DELETE FROM chat_messages WHERE id = ANY($1)`
	if _, err := tx.Exec(ctx, qDelete, ids); err != nil {
		return fmt.Errorf("store: compact if needed: delete summarised rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: compact if needed: commit: %w", err)
	}
	return nil
}

// advisoryLockKey derives a stable int64 advisory-lock key from the
// (agent, copilot_mode) pair.
func advisoryLockKey(agentID string, copilotMode bool) int64 {
	h := fnv.New64a()
	h.Write([]byte(agentID))
	if copilotMode {
		h.Write([]byte{1})
	}
	return int64(h.Sum64())
}
