package metrics

import "fmt"

// Pricing is the per-million-token rate for one provider+model pair, in
// USD micros (1 USD = 1_000_000 micros) so totals stay integral.
type Pricing struct {
	PromptMicrosPerMillion     int64
	CompletionMicrosPerMillion int64
}

// PricingTable maps "provider/model" to its Pricing entry. Entries absent
// from the table cost 0 — cost tracking degrades gracefully for unlisted
// or self-hosted models rather than failing the call.
type PricingTable map[string]Pricing

// DefaultPricingTable is a representative starter table. NewRecorder falls
// back to it when given a nil table; there is no config key that overrides
// it, and internal/app passes it unchanged.
func DefaultPricingTable() PricingTable {
	return PricingTable{
		"openai/gpt-4o":        {PromptMicrosPerMillion: 5_000_000, CompletionMicrosPerMillion: 15_000_000},
		"openai/gpt-4o-mini":   {PromptMicrosPerMillion: 150_000, CompletionMicrosPerMillion: 600_000},
		"zhipu/glm-4":          {PromptMicrosPerMillion: 1_000_000, CompletionMicrosPerMillion: 1_000_000},
		"bailian/qwen-turbo":   {PromptMicrosPerMillion: 300_000, CompletionMicrosPerMillion: 600_000},
		"deepgram/nova-2":      {PromptMicrosPerMillion: 0, CompletionMicrosPerMillion: 0},
		"elevenlabs/eleven_v2": {PromptMicrosPerMillion: 0, CompletionMicrosPerMillion: 0},
	}
}

func pricingKey(provider, model string) string {
	return fmt.Sprintf("%s/%s", provider, model)
}

// cost returns the cost in USD micros for the given token counts.
func (t PricingTable) cost(provider, model string, promptTokens, completionTokens int64) int64 {
	p, ok := t[pricingKey(provider, model)]
	if !ok {
		return 0
	}
	promptCost := promptTokens * p.PromptMicrosPerMillion / 1_000_000
	completionCost := completionTokens * p.CompletionMicrosPerMillion / 1_000_000
	return promptCost + completionCost
}
