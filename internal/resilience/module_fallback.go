package resilience

import (
	"context"
	"errors"

	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// errNotStreaming is returned internally when a fallback entry doesn't
// implement [registry.StreamingModule]; ExecuteWithResult treats it like any
// other failure and tries the next entry.
var errNotStreaming = errors.New("resilience: module does not support streaming")

// ModuleFallback wraps a [registry.Module] with automatic failover across
// multiple instances of the same module type. Each instance has its own
// circuit breaker; when the primary fails, or its breaker is open, the next
// healthy fallback is tried in registration order.
//
// Unlike the teacher this repo is modeled on — which needed one wrapper per
// provider interface (LLM, STT, TTS) — a single generic wrapper covers every
// module type here, because [registry.Module] already gives every type the
// same Call/CallStream shape.
type ModuleFallback struct {
	group *FallbackGroup[registry.Module]
}

// Compile-time interface assertion: a ModuleFallback is itself callable as a
// Module, so the orchestrator never needs to know whether it's talking to a
// single module or a fallback group.
var _ registry.Module = (*ModuleFallback)(nil)

// NewModuleFallback creates a [ModuleFallback] with primary as the preferred
// module instance.
func NewModuleFallback(primary registry.Module, cfg FallbackConfig) *ModuleFallback {
	return &ModuleFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional module instance as a fallback. It must
// be of the same module type as the primary; the caller is responsible for
// that invariant, same as the registry's own dispatch-by-type contract.
func (f *ModuleFallback) AddFallback(m registry.Module) {
	f.group.AddFallback(m.Name(), m)
}

// Name returns the primary's name — the fallback group is addressed under
// the primary's identity even when a call is actually served by a fallback.
func (f *ModuleFallback) Name() string {
	if len(f.group.entries) == 0 {
		return ""
	}
	return f.group.entries[0].value.Name()
}

// Description returns the primary's description.
func (f *ModuleFallback) Description() string {
	if len(f.group.entries) == 0 {
		return ""
	}
	return f.group.entries[0].value.Description()
}

// Type returns the primary's module type. This does not participate in
// failover — module type is static metadata, identical across every entry.
func (f *ModuleFallback) Type() types.ModuleType {
	if len(f.group.entries) == 0 {
		var zero types.ModuleType
		return zero
	}
	return f.group.entries[0].value.Type()
}

// Tools returns the primary's tool list.
func (f *ModuleFallback) Tools() []types.ToolSpec {
	if len(f.group.entries) == 0 {
		return nil
	}
	return f.group.entries[0].value.Tools()
}

// Call tries the named tool against the first healthy module instance,
// failing over to subsequent instances on error or open circuit.
func (f *ModuleFallback) Call(ctx context.Context, tool string, input any) (any, error) {
	return ExecuteWithResult(f.group, func(m registry.Module) (any, error) {
		return m.Call(ctx, tool, input)
	})
}

// CallStream tries the named streaming tool against the first healthy
// instance that implements [registry.StreamingModule]. Only the initial
// stream setup is covered by failover; once a stream is established,
// mid-stream errors are the caller's responsibility, same as the teacher's
// LLM/TTS streaming wrappers.
func (f *ModuleFallback) CallStream(ctx context.Context, tool string, input any) (<-chan any, error) {
	return ExecuteWithResult(f.group, func(m registry.Module) (<-chan any, error) {
		sm, ok := m.(registry.StreamingModule)
		if !ok {
			return nil, errNotStreaming
		}
		return sm.CallStream(ctx, tool, input)
	})
}

// Close shuts down every module instance in the group, joining any errors.
func (f *ModuleFallback) Close() error {
	var errs []error
	for _, e := range f.group.entries {
		if err := e.value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
