// Package llmclassify implements intent.Provider by asking an LLM provider
// to label an utterance against a fixed set of candidate intents.
package llmclassify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cnwinds/chatflow-nexus/pkg/modules/intent"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/llm"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// Provider classifies utterances by issuing a single non-streaming
// completion against an underlying LLM and parsing a "label|confidence"
// response. It exists to give the reserved intent module type (spec §9) a
// working implementation a future routing stage can call, even though no
// pipeline stage invokes it today.
type Provider struct {
	llm    llm.Provider
	labels []string
}

// New builds a classifier over candidateLabels using p for completions.
func New(p llm.Provider, candidateLabels []string) *Provider {
	return &Provider{llm: p, labels: candidateLabels}
}

var _ intent.Provider = (*Provider)(nil)

// Classify asks the underlying LLM to pick the best matching label for
// text and returns it with a parsed confidence score. A response with no
// label falls back to the first candidate label, rather than failing the
// caller outright; a missing or unparsable confidence reads as 0. The label
// is not checked against the candidate list.
func (p *Provider) Classify(ctx context.Context, text string) (intent.Classification, error) {
	prompt := fmt.Sprintf(
		"Classify the following utterance into exactly one of these labels: %s.\n"+
			"Respond with only \"label|confidence\" where confidence is between 0 and 1.\n\nUtterance: %s",
		strings.Join(p.labels, ", "), text,
	)

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return intent.Classification{}, fmt.Errorf("llmclassify: complete: %w", err)
	}

	label, confidence := parseResponse(resp.Content)
	if label == "" && len(p.labels) > 0 {
		label = p.labels[0]
	}
	return intent.Classification{Label: label, Confidence: confidence}, nil
}

// parseResponse splits a "label|confidence" response, tolerating extra
// whitespace and a missing confidence segment.
func parseResponse(raw string) (string, float64) {
	raw = strings.TrimSpace(raw)
	parts := strings.SplitN(raw, "|", 2)
	label := strings.TrimSpace(parts[0])
	if len(parts) < 2 {
		return label, 0
	}
	conf, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return label, 0
	}
	return label, conf
}
