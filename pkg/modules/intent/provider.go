// Package intent defines the Provider interface for the reserved "intent"
// module type (spec §9 Open Questions: a registrable module type with a
// minimal interface, no pipeline stage invokes it yet).
package intent

import "context"

// Classification is the result of a pre-LLM intent routing decision.
type Classification struct {
	Label      string
	Confidence float64
}

// Provider is the abstraction over any intent-classification backend. No
// stage of the pipeline orchestrator calls this today; it exists so the
// registry's module taxonomy matches spec §4.1's six named types and a
// future routing stage has somewhere to plug in without a registry change.
type Provider interface {
	Classify(ctx context.Context, text string) (Classification, error)
}
