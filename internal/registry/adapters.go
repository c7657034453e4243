package registry

import (
	"context"
	"fmt"

	"github.com/cnwinds/chatflow-nexus/pkg/modules/intent"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/memory"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/llm"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/stt"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/tts"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/vad"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// This file adapts the six typed provider interfaces into the registry's
// uniform Module surface. Each adapter preserves the provider's original
// method shapes (StreamCompletion, StartStream, SynthesizeStream,
// NewSession) behind Call/CallStream, so a provider implementation never
// needs to know it's being dispatched through the registry.

// --- LLM -------------------------------------------------------------------

// LLMAdapter wraps a [llm.Provider] as a registry [StreamingModule].
type LLMAdapter struct {
	code string
	desc string
	p    llm.Provider
}

// NewLLMAdapter wraps p under code for catalog registration.
func NewLLMAdapter(code, description string, p llm.Provider) *LLMAdapter {
	return &LLMAdapter{code: code, desc: description, p: p}
}

var _ StreamingModule = (*LLMAdapter)(nil)

func (a *LLMAdapter) Name() string           { return a.code }
func (a *LLMAdapter) Description() string    { return a.desc }
func (a *LLMAdapter) Type() types.ModuleType { return types.ModuleLLM }
func (a *LLMAdapter) Close() error           { return nil }

func (a *LLMAdapter) Tools() []types.ToolSpec {
	return []types.ToolSpec{
		{Name: "complete", Description: "Non-streaming chat completion"},
		{Name: "stream_complete", Description: "Streaming chat completion"},
		{Name: "count_tokens", Description: "Estimate token usage for a message list"},
		{Name: "capabilities", Description: "Report the provider's capabilities"},
	}
}

func (a *LLMAdapter) Call(ctx context.Context, tool string, input any) (any, error) {
	switch tool {
	case "complete":
		req, ok := input.(llm.CompletionRequest)
		if !ok {
			return nil, fmt.Errorf("registry: llm.complete expects llm.CompletionRequest, got %T", input)
		}
		return a.p.Complete(ctx, req)
	case "count_tokens":
		msgs, ok := input.([]types.Message)
		if !ok {
			return nil, fmt.Errorf("registry: llm.count_tokens expects []types.Message, got %T", input)
		}
		return a.p.CountTokens(msgs)
	case "capabilities":
		return a.p.Capabilities(), nil
	default:
		return nil, fmt.Errorf("registry: llm module has no tool %q", tool)
	}
}

func (a *LLMAdapter) CallStream(ctx context.Context, tool string, input any) (<-chan any, error) {
	if tool != "stream_complete" {
		return nil, fmt.Errorf("registry: llm module has no streaming tool %q", tool)
	}
	req, ok := input.(llm.CompletionRequest)
	if !ok {
		return nil, fmt.Errorf("registry: llm.stream_complete expects llm.CompletionRequest, got %T", input)
	}
	chunks, err := a.p.StreamCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan any)
	go func() {
		defer close(out)
		for c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// --- ASR (speech-to-text) ---------------------------------------------------

// ASRAdapter wraps a [stt.Provider] as a registry [Module]. ASR's own
// streaming happens on the returned [stt.SessionHandle], not on the module
// call itself, so no [StreamingModule] implementation is needed here.
type ASRAdapter struct {
	code string
	desc string
	p    stt.Provider
}

// NewASRAdapter wraps p under code for catalog registration.
func NewASRAdapter(code, description string, p stt.Provider) *ASRAdapter {
	return &ASRAdapter{code: code, desc: description, p: p}
}

var _ Module = (*ASRAdapter)(nil)

func (a *ASRAdapter) Name() string           { return a.code }
func (a *ASRAdapter) Description() string    { return a.desc }
func (a *ASRAdapter) Type() types.ModuleType { return types.ModuleASR }
func (a *ASRAdapter) Close() error           { return nil }

func (a *ASRAdapter) Tools() []types.ToolSpec {
	return []types.ToolSpec{
		{Name: "start_stream", Description: "Open a streaming transcription session"},
	}
}

func (a *ASRAdapter) Call(ctx context.Context, tool string, input any) (any, error) {
	if tool != "start_stream" {
		return nil, fmt.Errorf("registry: asr module has no tool %q", tool)
	}
	cfg, ok := input.(stt.StreamConfig)
	if !ok {
		return nil, fmt.Errorf("registry: asr.start_stream expects stt.StreamConfig, got %T", input)
	}
	return a.p.StartStream(ctx, cfg)
}

// --- TTS ---------------------------------------------------------------

// TTSSynthesizeInput bundles the arguments to the "synthesize_stream" tool,
// since Module.Call takes a single input value.
type TTSSynthesizeInput struct {
	Text  <-chan string
	Voice types.VoiceProfile
}

// TTSAdapter wraps a [tts.Provider] as a registry [Module].
type TTSAdapter struct {
	code string
	desc string
	p    tts.Provider
}

// NewTTSAdapter wraps p under code for catalog registration.
func NewTTSAdapter(code, description string, p tts.Provider) *TTSAdapter {
	return &TTSAdapter{code: code, desc: description, p: p}
}

var _ Module = (*TTSAdapter)(nil)

func (a *TTSAdapter) Name() string           { return a.code }
func (a *TTSAdapter) Description() string    { return a.desc }
func (a *TTSAdapter) Type() types.ModuleType { return types.ModuleTTS }
func (a *TTSAdapter) Close() error           { return nil }

func (a *TTSAdapter) Tools() []types.ToolSpec {
	return []types.ToolSpec{
		{Name: "synthesize_stream", Description: "Stream text fragments into synthesized audio"},
		{Name: "list_voices", Description: "List available voice profiles"},
		{Name: "clone_voice", Description: "Train a new voice profile from audio samples"},
	}
}

func (a *TTSAdapter) Call(ctx context.Context, tool string, input any) (any, error) {
	switch tool {
	case "synthesize_stream":
		in, ok := input.(TTSSynthesizeInput)
		if !ok {
			return nil, fmt.Errorf("registry: tts.synthesize_stream expects TTSSynthesizeInput, got %T", input)
		}
		return a.p.SynthesizeStream(ctx, in.Text, in.Voice)
	case "list_voices":
		return a.p.ListVoices(ctx)
	case "clone_voice":
		samples, ok := input.([][]byte)
		if !ok {
			return nil, fmt.Errorf("registry: tts.clone_voice expects [][]byte, got %T", input)
		}
		return a.p.CloneVoice(ctx, samples)
	default:
		return nil, fmt.Errorf("registry: tts module has no tool %q", tool)
	}
}

// --- VAD ---------------------------------------------------------------

// VADAdapter wraps a [vad.Engine] as a registry [Module].
type VADAdapter struct {
	code string
	desc string
	e    vad.Engine
}

// NewVADAdapter wraps e under code for catalog registration.
func NewVADAdapter(code, description string, e vad.Engine) *VADAdapter {
	return &VADAdapter{code: code, desc: description, e: e}
}

var _ Module = (*VADAdapter)(nil)

func (a *VADAdapter) Name() string           { return a.code }
func (a *VADAdapter) Description() string    { return a.desc }
func (a *VADAdapter) Type() types.ModuleType { return types.ModuleVAD }
func (a *VADAdapter) Close() error           { return nil }

func (a *VADAdapter) Tools() []types.ToolSpec {
	return []types.ToolSpec{
		{Name: "new_session", Description: "Create a new per-stream VAD session"},
	}
}

func (a *VADAdapter) Call(ctx context.Context, tool string, input any) (any, error) {
	if tool != "new_session" {
		return nil, fmt.Errorf("registry: vad module has no tool %q", tool)
	}
	cfg, ok := input.(vad.Config)
	if !ok {
		return nil, fmt.Errorf("registry: vad.new_session expects vad.Config, got %T", input)
	}
	return a.e.NewSession(cfg)
}

// --- Memory --------------------------------------------------------------

// MemoryAdapter wraps a [memory.Provider] as a registry [Module].
type MemoryAdapter struct {
	code string
	desc string
	p    memory.Provider
}

// NewMemoryAdapter wraps p under code for catalog registration.
func NewMemoryAdapter(code, description string, p memory.Provider) *MemoryAdapter {
	return &MemoryAdapter{code: code, desc: description, p: p}
}

var _ Module = (*MemoryAdapter)(nil)

func (a *MemoryAdapter) Name() string           { return a.code }
func (a *MemoryAdapter) Description() string    { return a.desc }
func (a *MemoryAdapter) Type() types.ModuleType { return types.ModuleMemory }
func (a *MemoryAdapter) Close() error           { return nil }

func (a *MemoryAdapter) Tools() []types.ToolSpec {
	return []types.ToolSpec{
		{Name: "recall", Description: "Semantic recall of past turns for a session"},
	}
}

func (a *MemoryAdapter) Call(ctx context.Context, tool string, input any) (any, error) {
	if tool != "recall" {
		return nil, fmt.Errorf("registry: memory module has no tool %q", tool)
	}
	q, ok := input.(memory.RecallQuery)
	if !ok {
		return nil, fmt.Errorf("registry: memory.recall expects memory.RecallQuery, got %T", input)
	}
	return a.p.Recall(ctx, q)
}

// Provider exposes the wrapped memory.Provider directly, for callers (the
// gateway's per-session construction) that want to hold onto a typed
// reference instead of dispatching every call through the catalog — e.g. to
// type-assert for the optional write-back path a backend like
// pkg/modules/memory/semantic.Provider supports.
func (a *MemoryAdapter) Provider() memory.Provider { return a.p }

// --- Intent (reserved) -----------------------------------------------------

// IntentAdapter wraps an [intent.Provider] as a registry [Module]. Reserved
// per spec §9: registrable, but no pipeline stage invokes it yet.
type IntentAdapter struct {
	code string
	desc string
	p    intent.Provider
}

// NewIntentAdapter wraps p under code for catalog registration.
func NewIntentAdapter(code, description string, p intent.Provider) *IntentAdapter {
	return &IntentAdapter{code: code, desc: description, p: p}
}

var _ Module = (*IntentAdapter)(nil)

func (a *IntentAdapter) Name() string           { return a.code }
func (a *IntentAdapter) Description() string    { return a.desc }
func (a *IntentAdapter) Type() types.ModuleType { return types.ModuleIntent }
func (a *IntentAdapter) Close() error           { return nil }

func (a *IntentAdapter) Tools() []types.ToolSpec {
	return []types.ToolSpec{
		{Name: "classify", Description: "Classify pre-LLM routing intent for an utterance"},
	}
}

func (a *IntentAdapter) Call(ctx context.Context, tool string, input any) (any, error) {
	if tool != "classify" {
		return nil, fmt.Errorf("registry: intent module has no tool %q", tool)
	}
	text, ok := input.(string)
	if !ok {
		return nil, fmt.Errorf("registry: intent.classify expects string, got %T", input)
	}
	return a.p.Classify(ctx, text)
}
