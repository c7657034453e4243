// Package semantic implements memory.Provider on top of an embeddings
// provider and the conversation store's pgvector-backed recall index.
package semantic

import (
	"context"
	"fmt"

	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/memory"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/embeddings"
)

// recallStore is the subset of *store.Store this package depends on, kept
// narrow so tests can supply a fake index without standing up Postgres.
type recallStore interface {
	SemanticRecall(ctx context.Context, agentID string, embedding []float32, topK int) ([]store.MemoryChunkResult, error)
	IndexMemoryChunk(ctx context.Context, chunk store.MemoryChunk) error
}

var _ recallStore = (*store.Store)(nil)

// Provider answers memory.Provider.Recall by embedding the query text and
// searching the store's pgvector index for the closest indexed chunks
// belonging to the same agent.
type Provider struct {
	embed embeddings.Provider
	st    recallStore
}

// New builds a semantic recall provider backed by embed for vectorisation
// and st for storage and search.
func New(embed embeddings.Provider, st recallStore) *Provider {
	return &Provider{embed: embed, st: st}
}

var _ memory.Provider = (*Provider)(nil)

// Recall embeds q.Text and returns the q.TopK closest indexed chunks for
// q.AgentID, translated into memory.Recollection results ordered by
// ascending distance (most similar first).
func (p *Provider) Recall(ctx context.Context, q memory.RecallQuery) ([]memory.Recollection, error) {
	if q.Text == "" {
		return nil, nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	vec, err := p.embed.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("semantic recall: embed query: %w", err)
	}

	hits, err := p.st.SemanticRecall(ctx, q.AgentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("semantic recall: search: %w", err)
	}

	out := make([]memory.Recollection, 0, len(hits))
	for _, h := range hits {
		out = append(out, memory.Recollection{
			Text:      h.Chunk.Content,
			Score:     1 - h.Distance,
			CreatedAt: h.Chunk.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out, nil
}

// Index embeds content and stores it in the recall index for agentID and
// sessionID, for later retrieval by Recall. The pipeline's turn loop
// (internal/pipeline/turn.go) calls it after persisting a completed turn,
// through a type assertion, since memory.Provider itself has no write path.
func (p *Provider) Index(ctx context.Context, agentID, sessionID, content string) error {
	vec, err := p.embed.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("semantic index: embed: %w", err)
	}
	return p.st.IndexMemoryChunk(ctx, store.MemoryChunk{
		AgentID:   agentID,
		SessionID: sessionID,
		Content:   content,
		Embedding: vec,
	})
}
