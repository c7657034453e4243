package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// maxAnalysisRetries is the number of failed attempts after which a
// SessionAnalysis row stops retrying and requires a manual reset (§3).
const maxAnalysisRetries = 3

// SessionAnalysis is one row per completed session (§3 SessionAnalysis).
type SessionAnalysis struct {
	SessionID    string
	Duration     time.Duration
	AvgUtterance float64
	Analysis     map[string]any
	Status       string // pending | processing | completed | failed
	RetryCount   int
}

// PersistAnalysis upserts the session_analysis row for sessionID with status
// completed, or failed when analysisErr is non-nil; it does not set the
// pending or processing states. On failure, RetryCount is incremented; once
// a row has maxAnalysisRetries failures it stays failed, whatever later
// calls report, until [Store.ResetAnalysisRetry] sets it back to pending.
func (s *Store) PersistAnalysis(ctx context.Context, sessionID string, duration time.Duration, avgUtterance float64, analysis map[string]any, analysisErr error) error {
	status := "completed"
	var retryIncrement int
	if analysisErr != nil {
		status = "failed"
		retryIncrement = 1
	}

	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("store: persist analysis: marshal: %w", err)
	}

	const q = `
		INSERT INTO session_analysis (session_id, duration_ns, avg_utterance, analysis, status, retry_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (session_id) DO UPDATE SET
		    duration_ns   = EXCLUDED.duration_ns,
		    avg_utterance = EXCLUDED.avg_utterance,
		    analysis      = EXCLUDED.analysis,
		    status        = CASE
		        WHEN session_analysis.retry_count >= $7 THEN 'failed'
		        ELSE EXCLUDED.status
		    END,
		    retry_count   = session_analysis.retry_count + $6,
		    updated_at    = now()`

	if _, err := s.pool.Exec(ctx, q, sessionID, duration.Nanoseconds(), avgUtterance, payload, status, retryIncrement, maxAnalysisRetries); err != nil {
		return fmt.Errorf("store: persist analysis: %w", err)
	}
	return nil
}

// ResetAnalysisRetry clears the retry counter and sets status back to
// pending, allowing a previously exhausted analysis to be retried.
func (s *Store) ResetAnalysisRetry(ctx context.Context, sessionID string) error {
	const q = `UPDATE session_analysis SET status = 'pending', retry_count = 0, updated_at = now() WHERE session_id = $1`
	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("store: reset analysis retry: %w", err)
	}
	return nil
}

// GetAnalysis returns the session_analysis row for sessionID, or
// (SessionAnalysis{}, false, nil) if none exists.
func (s *Store) GetAnalysis(ctx context.Context, sessionID string) (SessionAnalysis, bool, error) {
	const q = `
		SELECT session_id, duration_ns, avg_utterance, analysis, status, retry_count
		FROM   session_analysis
		WHERE  session_id = $1`

	var (
		a          SessionAnalysis
		durationNS int64
		payload    []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&a.SessionID, &durationNS, &a.AvgUtterance, &payload, &a.Status, &a.RetryCount)
	if err != nil {
		if isNoRows(err) {
			return SessionAnalysis{}, false, nil
		}
		return SessionAnalysis{}, false, fmt.Errorf("store: get analysis: %w", err)
	}
	a.Duration = time.Duration(durationNS)
	if err := json.Unmarshal(payload, &a.Analysis); err != nil {
		return SessionAnalysis{}, false, fmt.Errorf("store: get analysis: unmarshal: %w", err)
	}
	return a, true, nil
}
