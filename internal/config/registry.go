package config

import (
	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// ToModuleParams converts a YAML-level module entry into the runtime
// catalog's construction parameters ([registry.Catalog.Construct] takes a
// kind plus these params, and dispatches by (Type, Code) afterward).
func (e ModuleEntry) ToModuleParams(typ string) registry.ModuleParams {
	cfg := make(map[string]any, len(e.Options)+3)
	for k, v := range e.Options {
		cfg[k] = v
	}
	if e.APIKey != "" {
		cfg["api_key"] = e.APIKey
	}
	if e.BaseURL != "" {
		cfg["base_url"] = e.BaseURL
	}
	if e.Model != "" {
		cfg["model"] = e.Model
	}
	return registry.ModuleParams{
		Type:      types.ModuleType(typ),
		Code:      e.Code,
		IsDefault: e.IsDefault,
		Config:    cfg,
	}
}
