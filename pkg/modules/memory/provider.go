// Package memory defines the Provider interface for the memory module type.
//
// Unlike the other five module types, a memory provider does not wrap a
// third-party streaming API — it wraps semantic recall against the
// conversation store's pgvector-backed embedding index. It is kept as its
// own registrable module (rather than folded directly into
// internal/store) so agents can swap recall strategies — or disable
// recall entirely — the same way they swap ASR or TTS backends.
package memory

import "context"

// RecallQuery carries the inputs to a semantic recall lookup.
type RecallQuery struct {
	// AgentID scopes recall to one agent's indexed memory chunks.
	AgentID string

	// SessionID names the conversation the query comes from. The semantic
	// backend searches by AgentID only and does not filter on it.
	SessionID string

	// Text is the query text to embed and search against.
	Text string

	// TopK bounds the number of results returned.
	TopK int
}

// Recollection is a single semantic-recall hit.
type Recollection struct {
	Text      string
	Score     float64
	CreatedAt string
}

// Provider is the abstraction over any memory recall backend.
type Provider interface {
	// Recall returns up to q.TopK semantically relevant past turns for the
	// agent in q.
	Recall(ctx context.Context, q RecallQuery) ([]Recollection, error)
}
