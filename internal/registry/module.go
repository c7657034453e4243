// Package registry implements the UTCP-style module catalog: a uniform
// surface over the six provider types (vad/asr/llm/tts/memory/intent), a
// two-phase construct/init lifecycle, and dispatch by (type, code).
package registry

import (
	"context"

	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// Module is the uniform surface every provider implementation exposes to the
// pipeline orchestrator, regardless of its underlying module type.
type Module interface {
	// Name returns the module's registered code, e.g. "openai-gpt4o".
	Name() string

	// Description is a human-readable summary surfaced to tool hosts and
	// operators; it has no effect on dispatch.
	Description() string

	// Type reports which of the six module types this instance implements.
	Type() types.ModuleType

	// Tools lists the callable operations this module exposes, by the tool
	// names Call accepts (e.g. "start_stream" for an ASR module).
	Tools() []types.ToolSpec

	// Call invokes the named tool synchronously.
	Call(ctx context.Context, tool string, input any) (any, error)

	// Close releases any resources (connections, background goroutines)
	// acquired during Init.
	Close() error
}

// StreamingModule is implemented by modules whose primary operation produces
// a stream of incremental results. Of the built-in adapters only the LLM
// adapter implements it; TTS returns its audio channel from Call and ASR
// streams through its session handle. [Catalog.CallStream] returns an error
// for a module that does not implement it.
type StreamingModule interface {
	Module

	// CallStream invokes the named tool and returns a channel of incremental
	// results. The channel is closed when the call completes or ctx is
	// canceled.
	CallStream(ctx context.Context, tool string, input any) (<-chan any, error)
}

// Factory constructs a Module from its configuration. Construct is expected
// to be cheap — parse config, allocate the struct — and must not dial
// networks or validate credentials. That happens in a separate Init phase
// (see [Initializer]) so the catalog can report bad-config errors distinctly
// from unreachable-backend errors.
type Factory interface {
	Construct(params ModuleParams) (Module, error)
}

// FactoryFunc adapts a plain function to a [Factory].
type FactoryFunc func(params ModuleParams) (Module, error)

// Construct implements [Factory].
func (f FactoryFunc) Construct(params ModuleParams) (Module, error) {
	return f(params)
}

// Initializer is implemented by modules whose construction is followed by a
// network-touching setup phase. The catalog calls Init once, after
// Construct, before the module is placed in the dispatch table.
type Initializer interface {
	Init(ctx context.Context) error
}

// ModuleParams is the parsed {code, config} pair from an agent's module
// configuration block.
type ModuleParams struct {
	Type      types.ModuleType
	Code      string
	IsDefault bool
	Config    map[string]any
}
