package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
)

// MemoryChunk is a pre-embedded fragment of conversation history indexed for
// semantic recall (backs the memory module's Recall tool, §4.4.6).
type MemoryChunk struct {
	AgentID   string
	SessionID string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// MemoryChunkResult pairs a chunk with its cosine distance to the query
// embedding. Lower Distance means more similar.
type MemoryChunkResult struct {
	Chunk    MemoryChunk
	Distance float64
}

// IndexMemoryChunk inserts a pre-embedded chunk into the semantic recall
// index for agentID.
func (s *Store) IndexMemoryChunk(ctx context.Context, chunk MemoryChunk) error {
	const q = `
		INSERT INTO memory_chunks (agent_id, session_id, content, embedding)
		VALUES ($1, $2, $3, $4)`

	vec := pgvector.NewVector(chunk.Embedding)
	if _, err := s.pool.Exec(ctx, q, chunk.AgentID, chunk.SessionID, chunk.Content, vec); err != nil {
		return fmt.Errorf("store: index memory chunk: %w", err)
	}
	return nil
}

// SemanticRecall finds the topK memory chunks for agentID whose embeddings
// are closest (cosine distance) to embedding, ordered by ascending distance
// (most similar first).
func (s *Store) SemanticRecall(ctx context.Context, agentID string, embedding []float32, topK int) ([]MemoryChunkResult, error) {
	const q = `
		SELECT agent_id, session_id, content, embedding, created_at,
		       embedding <=> $2 AS distance
		FROM   memory_chunks
		WHERE  agent_id = $1
		ORDER  BY distance
		LIMIT  $3`

	queryVec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, q, agentID, queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("store: semantic recall: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MemoryChunkResult, error) {
		var (
			r   MemoryChunkResult
			vec pgvector.Vector
		)
		if err := row.Scan(&r.Chunk.AgentID, &r.Chunk.SessionID, &r.Chunk.Content, &vec, &r.Chunk.CreatedAt, &r.Distance); err != nil {
			return MemoryChunkResult{}, err
		}
		r.Chunk.Embedding = vec.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: semantic recall scan: %w", err)
	}
	if results == nil {
		results = []MemoryChunkResult{}
	}
	return results, nil
}
