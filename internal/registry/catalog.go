package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// ErrFactoryNotRegistered is returned when a module type has no registered
// factory for the requested code's underlying kind.
var ErrFactoryNotRegistered = errors.New("registry: factory not registered")

// ErrModuleNotFound is returned when dispatch by (type, code) has no match
// and no default is registered for that type.
var ErrModuleNotFound = errors.New("registry: module not found")

// entry pairs a live Module with the metadata needed for dispatch.
type entry struct {
	module    Module
	isDefault bool
}

// Catalog is the runtime module registry: it holds every constructed and
// initialized [Module], keyed by (type, code), and resolves calls against
// them. It is read-mostly after startup — construction happens once per
// agent template load, then the catalog serves concurrent reads from many
// session actors.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	factories map[types.ModuleType]map[string]Factory
	modules   map[types.ModuleType]map[string]*entry
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[types.ModuleType]map[string]Factory),
		modules:   make(map[types.ModuleType]map[string]*entry),
	}
}

// RegisterFactory associates a kind name (e.g. "openai", "whisper-cpp",
// "deepgram") with a [Factory] for a given module type. Kind names are
// distinct from the (type, code) pair used at dispatch time: a kind is a
// class of implementation, a code is a specific configured instance of it.
func (c *Catalog) RegisterFactory(t types.ModuleType, kind string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.factories[t] == nil {
		c.factories[t] = make(map[string]Factory)
	}
	c.factories[t][kind] = f
}

// Construct builds and initializes a module instance from its kind and
// params, then adds it to the catalog under (params.Type, params.Code).
// Construction failures and initialization failures are both returned
// directly; the caller decides whether a failed module should block agent
// startup or merely be logged and skipped.
func (c *Catalog) Construct(ctx context.Context, kind string, params ModuleParams) error {
	c.mu.RLock()
	factory, ok := c.factories[params.Type][kind]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: type=%s kind=%s", ErrFactoryNotRegistered, params.Type, kind)
	}

	mod, err := factory.Construct(params)
	if err != nil {
		return fmt.Errorf("registry: construct %s/%s: %w", params.Type, params.Code, err)
	}

	if initer, ok := mod.(Initializer); ok {
		if err := initer.Init(ctx); err != nil {
			return fmt.Errorf("registry: init %s/%s: %w", params.Type, params.Code, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.modules[params.Type] == nil {
		c.modules[params.Type] = make(map[string]*entry)
	}
	c.modules[params.Type][params.Code] = &entry{module: mod, isDefault: params.IsDefault}
	slog.Info("module registered", "type", params.Type, "code", params.Code, "kind", kind, "default", params.IsDefault)
	return nil
}

// Put overwrites the (t, code) slot with an already-constructed module,
// preserving whatever isDefault flag the slot already had. Used to wrap a
// freshly [Catalog.Construct]-ed instance in a [resilience.ModuleFallback]
// after its configured fallback instances are also in place, without
// re-running Construct's factory/Init lifecycle.
func (c *Catalog) Put(t types.ModuleType, code string, mod Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	isDefault := false
	if c.modules[t] == nil {
		c.modules[t] = make(map[string]*entry)
	} else if e, ok := c.modules[t][code]; ok {
		isDefault = e.isDefault
	}
	c.modules[t][code] = &entry{module: mod, isDefault: isDefault}
}

// Resolve looks up the module registered under (t, code). If code is empty,
// the type's default module is returned. If code is non-empty but not found,
// ErrModuleNotFound is returned — callers must not silently fall back to the
// default when a specific code was requested.
func (c *Catalog) Resolve(t types.ModuleType, code string) (Module, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCode := c.modules[t]
	if code != "" {
		if e, ok := byCode[code]; ok {
			return e.module, nil
		}
		return nil, fmt.Errorf("%w: type=%s code=%s", ErrModuleNotFound, t, code)
	}

	for _, e := range byCode {
		if e.isDefault {
			return e.module, nil
		}
	}
	return nil, fmt.Errorf("%w: type=%s (no default)", ErrModuleNotFound, t)
}

// Call resolves (t, code) and invokes tool on it.
func (c *Catalog) Call(ctx context.Context, t types.ModuleType, code, tool string, input any) (any, error) {
	mod, err := c.Resolve(t, code)
	if err != nil {
		return nil, err
	}
	return mod.Call(ctx, tool, input)
}

// CallStream resolves (t, code) and invokes tool on it in streaming mode. It
// returns an error if the resolved module does not implement
// [StreamingModule].
func (c *Catalog) CallStream(ctx context.Context, t types.ModuleType, code, tool string, input any) (<-chan any, error) {
	mod, err := c.Resolve(t, code)
	if err != nil {
		return nil, err
	}
	sm, ok := mod.(StreamingModule)
	if !ok {
		return nil, fmt.Errorf("registry: module %s/%s does not support streaming", t, mod.Name())
	}
	return sm.CallStream(ctx, tool, input)
}

// All returns every module currently registered for type t, for catalog
// inspection.
func (c *Catalog) All(t types.ModuleType) []Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mods := make([]Module, 0, len(c.modules[t]))
	for _, e := range c.modules[t] {
		mods = append(mods, e.module)
	}
	return mods
}

// Close shuts down every registered module across all types. Errors are
// collected and joined rather than short-circuited, so a single stuck
// module doesn't prevent the rest from closing.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for t, byCode := range c.modules {
		for code, e := range byCode {
			if err := e.module.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s/%s: %w", t, code, err))
			}
		}
	}
	return errors.Join(errs...)
}
