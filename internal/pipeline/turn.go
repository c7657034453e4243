package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/metrics"
	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/llm"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// providerRetryBackoff is the pause before the single retry attempt §7
// grants a provider_transient failure.
const providerRetryBackoff = 300 * time.Millisecond

// turnIndexer is implemented by memory providers that support a write-back
// path (e.g. semantic.Provider.Index). Checked via type assertion since
// memory.Provider itself is read-only — not every backend indexes.
type turnIndexer interface {
	Index(ctx context.Context, agentID, sessionID, content string) error
}

// runTurn drives one full generation turn: prompt assembly, streaming LLM
// completion, sentence-by-sentence TTS synthesis, frame emission, and
// post-turn persistence (§4.4.4, §4.4.6). It is run on its own goroutine by
// [Session.startTurn] and must never touch Session state directly except
// through the read-only fields set at construction — any state mutation
// happens back on the actor goroutine via the turnDoneCmd it posts on
// return.
func (s *Session) runTurn(ctx context.Context, turnID uint64, userTurn, audioPath string, synthetic bool) {
	pc, err := assemblePrompt(ctx, s.store, s.recall, s.sessionID, s.agentID, s.copilotMode, userTurn)
	if err != nil {
		s.reportTurnError(err)
		return
	}

	// A synthetic turn (the opening greeting) is a server-side instruction,
	// not something the user said; only the assistant's reply is persisted.
	if !synthetic {
		if _, err := s.store.AppendMessage(context.WithoutCancel(ctx), s.sessionID, s.agentID, "user", userTurn, audioPath, "", s.copilotMode); err != nil {
			s.log.Error("persist user turn failed", "error", err)
		}
	}

	systemPrompt := s.cfg.Profile.Character.Prompt
	if s.copilotMode && s.cfg.Profile.Character.PromptCopilot != "" {
		systemPrompt = s.cfg.Profile.Character.PromptCopilot
	}

	req := llm.CompletionRequest{
		Messages:     pc.buildMessages(userTurn),
		SystemPrompt: systemPrompt,
	}

	chunksResult, scope, err := s.callWithRetry(ctx, s.llmCode, len(userTurn), func() (any, error) {
		return s.catalog.CallStream(ctx, types.ModuleLLM, s.llmCode, "stream_complete", req)
	})
	if err != nil {
		s.reportTurnError(err)
		return
	}
	chunksAny := chunksResult.(<-chan any)

	textCh := make(chan string, 8)
	audioDone := make(chan struct{})
	voice := types.VoiceProfile{Provider: s.cfg.Voice.Provider, ID: s.cfg.Voice.VoiceID, PitchShift: s.cfg.Voice.PitchShift, SpeedFactor: s.cfg.Voice.SpeedFactor}

	audioAny, err := s.callTTSWithRetry(ctx, textCh, voice)
	if err != nil {
		close(textCh)
		if scope != nil {
			scope.End(context.WithoutCancel(ctx), 0, 0, 0, 0, string(types.ClassifyError(err)))
		}
		s.reportTurnError(err)
		return
	}
	audioCh, ok := audioAny.(<-chan []byte)
	if !ok {
		close(textCh)
		if scope != nil {
			scope.End(context.WithoutCancel(ctx), 0, 0, 0, 0, string(types.ErrorInternal))
		}
		s.reportTurnError(errors.New("pipeline: tts module returned unexpected audio channel type"))
		return
	}

	go func() {
		defer close(audioDone)
		first := true
		for data := range audioCh {
			if first {
				if scope != nil {
					scope.MarkFirstByte()
				}
				_ = s.out.SendFrame(ttsStartFrame(""))
				first = false
			}
			if err := s.out.SendAudio(data); err != nil {
				return
			}
		}
	}()

	var acc sentenceAccumulator
	var full strings.Builder
	var promptTokens, completionTokens int64
	var toolCalls int64
	status := "ok"
	firstToken := true

	for chunkAny := range chunksAny {
		chunk, ok := chunkAny.(llm.Chunk)
		if !ok {
			continue
		}
		if chunk.Text != "" {
			if firstToken && scope != nil {
				scope.MarkFirstToken()
				firstToken = false
			}
			full.WriteString(chunk.Text)
			_ = s.out.SendFrame(llmFrame(chunk.Text, "", false))
			for _, sentence := range acc.push(chunk.Text) {
				s.emitSentence(ctx, textCh, sentence)
			}
		}
		if chunk.Usage != nil {
			// The terminal usage block carries the request's totals; it is
			// what the scope's cost computation keys off.
			promptTokens = int64(chunk.Usage.PromptTokens)
			completionTokens = int64(chunk.Usage.CompletionTokens)
		}
		toolCalls += int64(len(chunk.ToolCalls))
		if chunk.FinishReason == "error" {
			status = "provider_error"
		}
	}

	truncated := ctx.Err() != nil
	if rest := acc.flush(); rest != "" {
		s.emitSentence(ctx, textCh, rest)
	}
	close(textCh)
	<-audioDone

	_ = s.out.SendFrame(llmFrame("", "", true))
	_ = s.out.SendFrame(ttsStopFrame())

	emotion := ""
	if truncated {
		emotion = "truncated"
		status = "cancelled"
	}

	// Persisted unconditionally: §8 requires even an empty LLM output to
	// leave behind a single assistant message with empty content.
	content := full.String()
	if _, err := s.store.AppendMessage(context.WithoutCancel(ctx), s.sessionID, s.agentID, "assistant", content, "", emotion, s.copilotMode); err != nil {
		s.log.Error("persist assistant turn failed", "error", err)
	}
	if err := s.store.CompactIfNeeded(context.WithoutCancel(ctx), s.agentID, s.copilotMode); err != nil {
		s.log.Warn("best-effort compaction failed", "error", err)
	}
	if content != "" && !synthetic {
		if indexer, ok := s.recall.(turnIndexer); ok {
			if err := indexer.Index(context.WithoutCancel(ctx), s.agentID, s.sessionID, userTurn+"\n"+content); err != nil {
				s.log.Warn("best-effort memory indexing failed", "error", err)
			}
		}
	}

	if scope != nil {
		scope.End(context.WithoutCancel(ctx), promptTokens, completionTokens, int64(len(content)), toolCalls, status)
	}
}

// emitSentence feeds a completed sentence to the TTS text channel and
// announces it on the wire. The send blocks under ordinary backpressure so
// sentences are never silently dropped; it only gives up once ctx is
// cancelled by a barge-in, at which point nothing downstream is reading the
// channel anyway.
func (s *Session) emitSentence(ctx context.Context, textCh chan<- string, sentence string) {
	select {
	case textCh <- sentence:
		_ = s.out.SendFrame(ttsSentenceStartFrame(sentence))
	case <-ctx.Done():
	}
}

// callWithRetry runs call once, retrying exactly once after
// providerRetryBackoff when the failure classifies as provider_transient
// (§7). Each attempt gets its own metrics scope, so a retried call leaves
// two AIMetric rows behind: the failed attempt (zero cost, its classified
// status) and the attempt the caller goes on to End with the turn's real
// token counts. Returns the still-open scope for the attempt that
// succeeded, or nil alongside the final error if every attempt failed.
func (s *Session) callWithRetry(ctx context.Context, code string, inputChars int, call func() (any, error)) (any, *metrics.Scope, error) {
	for attempt := 1; ; attempt++ {
		var scope *metrics.Scope
		if s.metrics != nil {
			scope = s.metrics.Start(code, "", s.sessionID, inputChars)
		}
		result, err := call()
		if err == nil {
			return result, scope, nil
		}

		kind := types.ClassifyError(err)
		if scope != nil {
			scope.End(context.WithoutCancel(ctx), 0, 0, 0, 0, string(kind))
		}
		if attempt > 1 || !kind.Retriable() {
			return nil, nil, err
		}

		s.log.Warn("provider call failed, retrying once", "module_code", code, "error", err)
		select {
		case <-time.After(providerRetryBackoff):
		case <-ctx.Done():
			return nil, nil, err
		}
	}
}

// callTTSWithRetry starts TTS synthesis, retrying exactly once on a
// provider_transient failure. Unlike the LLM call, synthesis isn't tracked
// by its own AIMetric row, so no metrics scope is involved.
func (s *Session) callTTSWithRetry(ctx context.Context, textCh <-chan string, voice types.VoiceProfile) (any, error) {
	for attempt := 1; ; attempt++ {
		result, err := s.catalog.Call(ctx, types.ModuleTTS, s.ttsCode, "synthesize_stream", registry.TTSSynthesizeInput{Text: textCh, Voice: voice})
		if err == nil {
			return result, nil
		}
		if attempt > 1 || !types.ClassifyError(err).Retriable() {
			return nil, err
		}

		s.log.Warn("tts call failed, retrying once", "module_code", s.ttsCode, "error", err)
		select {
		case <-time.After(providerRetryBackoff):
		case <-ctx.Done():
			return nil, err
		}
	}
}

// reportTurnError surfaces a non-recoverable turn failure to the client as
// an error frame, classifying err so the wire error_kind (§7) reflects why
// the turn actually failed rather than always reading provider_fatal.
func (s *Session) reportTurnError(err error) {
	s.log.Error("turn failed", "error", err)
	_ = s.out.SendFrame(errorFrame(string(types.ClassifyError(err)), err.Error()))
}
