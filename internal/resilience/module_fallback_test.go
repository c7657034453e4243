package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// fakeModule is a minimal registry.Module stand-in for exercising
// ModuleFallback without depending on any concrete provider package.
type fakeModule struct {
	name    string
	callErr error
	closed  bool
}

func (m *fakeModule) Name() string            { return m.name }
func (m *fakeModule) Description() string     { return "fake" }
func (m *fakeModule) Type() types.ModuleType  { return types.ModuleLLM }
func (m *fakeModule) Tools() []types.ToolSpec { return nil }
func (m *fakeModule) Close() error            { m.closed = true; return nil }
func (m *fakeModule) Call(ctx context.Context, tool string, input any) (any, error) {
	if m.callErr != nil {
		return nil, m.callErr
	}
	return m.name, nil
}

func TestModuleFallback_PrimarySuccess(t *testing.T) {
	primary := &fakeModule{name: "primary"}
	secondary := &fakeModule{name: "secondary"}

	mf := NewModuleFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	mf.AddFallback(secondary)

	got, err := mf.Call(context.Background(), "complete", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "primary" {
		t.Fatalf("got %v, want primary", got)
	}
}

func TestModuleFallback_FailsOverToSecondary(t *testing.T) {
	primary := &fakeModule{name: "primary", callErr: errors.New("down")}
	secondary := &fakeModule{name: "secondary"}

	mf := NewModuleFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	mf.AddFallback(secondary)

	got, err := mf.Call(context.Background(), "complete", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "secondary" {
		t.Fatalf("got %v, want secondary", got)
	}
}

func TestModuleFallback_AllFail(t *testing.T) {
	primary := &fakeModule{name: "primary", callErr: errors.New("down")}
	secondary := &fakeModule{name: "secondary", callErr: errors.New("also down")}

	mf := NewModuleFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	mf.AddFallback(secondary)

	_, err := mf.Call(context.Background(), "complete", nil)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestModuleFallback_Close(t *testing.T) {
	primary := &fakeModule{name: "primary"}
	secondary := &fakeModule{name: "secondary"}

	mf := NewModuleFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
	mf.AddFallback(secondary)

	if err := mf.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !primary.closed || !secondary.closed {
		t.Fatal("expected both entries closed")
	}
}

func TestModuleFallback_NameDescriptionType(t *testing.T) {
	primary := &fakeModule{name: "primary"}
	mf := NewModuleFallback(primary, FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})

	if mf.Name() != "primary" {
		t.Errorf("Name() = %q, want primary", mf.Name())
	}
	if mf.Type() != types.ModuleLLM {
		t.Errorf("Type() = %v, want ModuleLLM", mf.Type())
	}
}
