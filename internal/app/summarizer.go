package app

import (
	"context"
	"fmt"

	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/llm"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// llmSummarizer adapts a catalog-resolved LLM module to [store.Summarizer]
// so the conversation store's compaction and growth-summary rollups stay
// independent of any concrete provider. code selects which configured LLM
// instance performs the summarization; empty resolves to the type's default.
type llmSummarizer struct {
	catalog *registry.Catalog
	code    string
}

func newLLMSummarizer(catalog *registry.Catalog, code string) *llmSummarizer {
	return &llmSummarizer{catalog: catalog, code: code}
}

func (s *llmSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	req := llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: prompt}},
	}
	result, err := s.catalog.Call(ctx, types.ModuleLLM, s.code, "complete", req)
	if err != nil {
		return "", fmt.Errorf("app: summarize: %w", err)
	}
	resp, ok := result.(*llm.CompletionResponse)
	if !ok {
		return "", fmt.Errorf("app: summarize: unexpected result type %T", result)
	}
	return resp.Content, nil
}
