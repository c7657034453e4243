package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VoiceClone is a user-uploaded custom voice training record (§3 VoiceClone).
type VoiceClone struct {
	ID              string
	UserID          string
	Name            string
	ProviderCode    string
	ProviderVoiceID string
	SamplePath      string // directory holding the uploaded training samples
	Status          string // training | available | failed | deleted
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateVoiceClone inserts a new voice clone record in the "training" state
// and returns its generated ID. samplePath names the directory the uploaded
// training samples were written to; the background trainer reads it back
// when it submits the provider-side cloning job.
func (s *Store) CreateVoiceClone(ctx context.Context, userID, name, providerCode, samplePath string) (string, error) {
	id := uuid.NewString()
	const q = `
		INSERT INTO voice_clones (id, user_id, name, provider_code, sample_path, status)
		VALUES ($1, $2, $3, $4, $5, 'training')`
	if _, err := s.pool.Exec(ctx, q, id, userID, name, providerCode, samplePath); err != nil {
		return "", fmt.Errorf("store: create voice clone: %w", err)
	}
	return id, nil
}

// ListVoiceClonesInTraining returns every clone still awaiting provider-side
// training, oldest first, for the background trainer to drive through the
// training → available/failed state machine.
func (s *Store) ListVoiceClonesInTraining(ctx context.Context) ([]VoiceClone, error) {
	const q = `
		SELECT id, user_id, name, provider_code, provider_voice_id, sample_path, status, created_at, updated_at
		FROM   voice_clones
		WHERE  status = 'training'
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list voice clones in training: %w", err)
	}
	defer rows.Close()

	var clones []VoiceClone
	for rows.Next() {
		var c VoiceClone
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.ProviderCode, &c.ProviderVoiceID, &c.SamplePath, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list voice clones in training: scan: %w", err)
		}
		clones = append(clones, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list voice clones in training: %w", err)
	}
	return clones, nil
}

// MarkVoiceCloneAvailable transitions a voice clone to "available" once the
// provider-side training job completes, recording the provider's speaker ID.
func (s *Store) MarkVoiceCloneAvailable(ctx context.Context, id, providerVoiceID string) error {
	const q = `
		UPDATE voice_clones
		SET    status = 'available', provider_voice_id = $2, updated_at = now()
		WHERE  id = $1 AND status = 'training'`
	tag, err := s.pool.Exec(ctx, q, id, providerVoiceID)
	if err != nil {
		return fmt.Errorf("store: mark voice clone available: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: mark voice clone available: %s is not in training state", id)
	}
	return nil
}

// MarkVoiceCloneFailed transitions a voice clone to "failed".
func (s *Store) MarkVoiceCloneFailed(ctx context.Context, id string) error {
	const q = `UPDATE voice_clones SET status = 'failed', updated_at = now() WHERE id = $1 AND status = 'training'`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("store: mark voice clone failed: %w", err)
	}
	return nil
}

// DeleteVoiceClone soft-deletes a voice clone by transitioning it to
// "deleted" rather than removing the row, preserving the provider speaker ID
// for audit purposes.
func (s *Store) DeleteVoiceClone(ctx context.Context, id string) error {
	const q = `UPDATE voice_clones SET status = 'deleted', updated_at = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("store: delete voice clone: %w", err)
	}
	return nil
}

// ListVoiceClones returns every non-deleted voice clone owned by userID.
func (s *Store) ListVoiceClones(ctx context.Context, userID string) ([]VoiceClone, error) {
	const q = `
		SELECT id, user_id, name, provider_code, provider_voice_id, sample_path, status, created_at, updated_at
		FROM   voice_clones
		WHERE  user_id = $1 AND status != 'deleted'
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list voice clones: %w", err)
	}
	defer rows.Close()

	var clones []VoiceClone
	for rows.Next() {
		var c VoiceClone
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.ProviderCode, &c.ProviderVoiceID, &c.SamplePath, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list voice clones: scan: %w", err)
		}
		clones = append(clones, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list voice clones: %w", err)
	}
	if clones == nil {
		clones = []VoiceClone{}
	}
	return clones, nil
}
