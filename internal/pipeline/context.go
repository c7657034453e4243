package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/memory"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// defaultRecentWindow is the default number of raw messages (W in §4.4.6)
// included in the assembled prompt.
const defaultRecentWindow = 20

// defaultRecallTopK bounds how many semantic-recall hits the memory module
// contributes to the assembled prompt.
const defaultRecallTopK = 5

// promptContext is everything [assemblePrompt] gathers before an LLM call,
// concurrently fetched the way hotctx.Assembler fetches its three
// components (§4.4.6 lists them as an ordered composition, not a
// dependency chain, so they fetch in parallel).
type promptContext struct {
	compressedHistory *store.CompressedHistory
	recentMessages    []store.ChatMessage
	recollections     []memory.Recollection
}

// assemblePrompt concurrently gathers the compressed-history rollup, the
// recent raw-message window, and (if a memory module is configured)
// semantic recall hits into a promptContext. [promptContext.buildMessages]
// then composes the ordered message list; the system prompt travels
// separately in [llm.CompletionRequest].SystemPrompt.
//
// Grounded on hotctx.Assembler.Assemble's errgroup fan-out-then-join shape,
// adapted from the three hot-layer components (identity/transcript/scene)
// to this gateway's three history components.
func assemblePrompt(ctx context.Context, st historyStore, recall memory.Provider, sessionID, agentID string, copilotMode bool, userTurn string) (promptContext, error) {
	var pc promptContext

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		messages, compressed, err := st.RecentWindow(egCtx, agentID, copilotMode, defaultRecentWindow)
		if err != nil {
			return fmt.Errorf("assemble prompt: recent window: %w", err)
		}
		pc.recentMessages = messages
		pc.compressedHistory = compressed
		return nil
	})

	if recall != nil {
		eg.Go(func() error {
			hits, err := recall.Recall(egCtx, memory.RecallQuery{
				AgentID:   agentID,
				SessionID: sessionID,
				Text:      userTurn,
				TopK:      defaultRecallTopK,
			})
			if err != nil {
				return fmt.Errorf("assemble prompt: recall: %w", err)
			}
			pc.recollections = hits
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return promptContext{}, err
	}
	return pc, nil
}

// buildMessages composes the final ordered message list per §4.4.6:
// compressed-history summary (if present) as a system-role note, the recent
// raw window, semantic-recall hits folded in as an assistant-visible system
// note, then the new user turn.
func (pc promptContext) buildMessages(userTurn string) []types.Message {
	msgs := make([]types.Message, 0, len(pc.recentMessages)+3)

	if pc.compressedHistory != nil && pc.compressedHistory.Summary != "" {
		msgs = append(msgs, types.Message{
			Role:    "system",
			Content: "Summary of earlier conversation: " + pc.compressedHistory.Summary,
		})
	}

	for _, m := range pc.recentMessages {
		msgs = append(msgs, types.Message{Role: m.Role, Content: m.Content})
	}

	if len(pc.recollections) > 0 {
		var note string
		for i, r := range pc.recollections {
			if i > 0 {
				note += "\n"
			}
			note += "- " + r.Text
		}
		msgs = append(msgs, types.Message{
			Role:    "system",
			Content: "Relevant memories:\n" + note,
		})
	}

	msgs = append(msgs, types.Message{Role: "user", Content: userTurn})
	return msgs
}
