// Package types defines the shared wire/domain value types used across the
// gateway, the module registry, and the conversation store.
//
// These types are the lingua franca between the pipeline orchestrator, the
// registered modules, and the store. Each package is free to define richer
// internal types, but anything that crosses a package boundary without
// creating an import cycle lives here.
package types

import (
	"context"
	"errors"
	"time"
)

// AudioFrame represents a single frame of Opus audio flowing through the
// pipeline, in either direction.
type AudioFrame struct {
	// Data is the raw Opus packet payload.
	Data []byte

	// SampleRate in Hz. The gateway is Opus-only, 16 kHz mono by design.
	SampleRate int

	// Channels: always 1 for this gateway (mono).
	Channels int

	// FrameDuration is the nominal frame length (60ms per §6).
	FrameDuration time.Duration

	// Timestamp marks when this frame was captured, relative to turn start.
	Timestamp time.Duration
}

// Transcript is a speech-to-text result from an ASR module. Both partial
// (interim) and final transcripts use this type.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []WordDetail
	Timestamp  time.Duration
	Duration   time.Duration
}

// WordDetail holds per-word metadata from ASR modules that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Message is a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	Content string

	// Name is an optional participant name, used to attribute compressed
	// history and growth-summary turns.
	Name string

	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which call this
	// responds to.
	ToolCallID string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes a tool a module offers to the LLM's function-calling
// surface, per §4.1's JSON-Schema-shaped convention.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// VoiceProfile describes a TTS voice configuration for an agent.
type VoiceProfile struct {
	ID          string
	Name        string
	Provider    string
	PitchShift  float64
	SpeedFactor float64
	Metadata    map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow       int
	MaxOutputTokens     int
	SupportsToolCalling bool
	SupportsVision      bool
	SupportsStreaming   bool
}

// KeywordBoost is a keyword to boost in ASR recognition, used to improve
// recognition of proper nouns (child names, agent names).
type KeywordBoost struct {
	Keyword string
	Boost   float64
}

// VADEventType enumerates voice-activity-detection states.
type VADEventType int

const (
	VADSpeechStart VADEventType = iota
	VADSpeechContinue
	VADSpeechEnd
	VADSilence
)

// VADEvent is a single VAD decision for one audio frame.
type VADEvent struct {
	Type        VADEventType
	Probability float64
}

// ModuleType enumerates the fixed module taxonomy from §4.1.
type ModuleType string

const (
	ModuleVAD    ModuleType = "vad"
	ModuleASR    ModuleType = "asr"
	ModuleLLM    ModuleType = "llm"
	ModuleTTS    ModuleType = "tts"
	ModuleMemory ModuleType = "memory"
	ModuleIntent ModuleType = "intent"
)

// ErrorKind is the closed set of error kinds from spec §7.
type ErrorKind string

const (
	ErrorAuth              ErrorKind = "auth"
	ErrorProtocol          ErrorKind = "protocol"
	ErrorBusyDropped       ErrorKind = "busy_dropped"
	ErrorProviderTransient ErrorKind = "provider_transient"
	ErrorProviderFatal     ErrorKind = "provider_fatal"
	ErrorInternal          ErrorKind = "internal"
	ErrorTimeout           ErrorKind = "timeout"
)

// Retriable reports whether the orchestrator should retry once with backoff
// before giving up on the current turn.
func (k ErrorKind) Retriable() bool {
	return k == ErrorProviderTransient
}

// ClassifiedError tags an underlying provider error with the ErrorKind the
// orchestrator should treat it as. Providers that can tell apart a
// transient failure (rate limit, dropped connection, 5xx) from a fatal one
// (bad request, unsupported model) should return one of these instead of a
// bare error, so the pipeline's retry policy (§7) has something to dispatch
// on.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

// NewClassifiedError wraps err under kind.
func NewClassifiedError(kind ErrorKind, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Err: err}
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// ClassifyError maps any error returned by a module call to the ErrorKind
// the orchestrator should react with. A [ClassifiedError] anywhere in err's
// chain wins; otherwise context cancellation maps to timeout/internal, and
// everything else defaults to provider_fatal (non-retriable) since most
// provider SDKs don't yet distinguish transient failures from us.
func ClassifyError(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorInternal
	}
	return ErrorProviderFatal
}
