package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked — per §5, the
// module registry is read-mostly after init, so module instance additions
// are hot-reloadable but changes to an existing module's kind are not (the
// module would need to be reconstructed, which this diff does not attempt).
type ConfigDiff struct {
	AgentsChanged   bool
	AgentChanges    []AgentDiff
	LogLevelChanged bool
	NewLogLevel     string
}

// AgentDiff describes what changed for a single agent template between two
// configs.
type AgentDiff struct {
	ID             string
	PromptChanged  bool
	VoiceChanged   bool
	ModulesChanged bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restarting live
// sessions.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldAgents := make(map[string]*AgentConfig, len(old.Agents))
	for i := range old.Agents {
		oldAgents[old.Agents[i].ID] = &old.Agents[i]
	}
	newAgents := make(map[string]*AgentConfig, len(new.Agents))
	for i := range new.Agents {
		newAgents[new.Agents[i].ID] = &new.Agents[i]
	}

	for id, oldAgent := range oldAgents {
		newAgent, exists := newAgents[id]
		if !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{ID: id, Removed: true})
			d.AgentsChanged = true
			continue
		}
		ad := diffAgent(id, oldAgent, newAgent)
		if ad.PromptChanged || ad.VoiceChanged || ad.ModulesChanged {
			d.AgentChanges = append(d.AgentChanges, ad)
			d.AgentsChanged = true
		}
	}

	for id := range newAgents {
		if _, exists := oldAgents[id]; !exists {
			d.AgentChanges = append(d.AgentChanges, AgentDiff{ID: id, Added: true})
			d.AgentsChanged = true
		}
	}

	return d
}

// diffAgent compares two agent configs with the same ID.
func diffAgent(id string, old, new *AgentConfig) AgentDiff {
	ad := AgentDiff{ID: id}

	if old.Profile.Character != new.Profile.Character {
		ad.PromptChanged = true
	}
	if old.Voice != new.Voice {
		ad.VoiceChanged = true
	}
	if !mapsEqual(old.ModuleCodes, new.ModuleCodes) {
		ad.ModulesChanged = true
	}

	return ad
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
