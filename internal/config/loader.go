package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/cnwinds/chatflow-nexus/internal/mcp"
	"gopkg.in/yaml.v3"
)

// validLogLevels enumerates accepted values for server.log_level.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// validListeningModes enumerates accepted values for an agent's
// listening_mode, per §4.4.2.
var validListeningModes = []string{"auto", "manual", "realtime"}

// validModuleKinds lists known factory kinds per module type, used by
// [Validate] to warn about likely typos. Unknown kinds are not rejected —
// operators may register their own factories — only flagged.
var validModuleKinds = map[string][]string{
	"llm":    {"openai", "any-llm"},
	"asr":    {"whisper-cpp", "deepgram", "azure"},
	"tts":    {"elevenlabs", "coqui", "azure"},
	"vad":    {"silero", "webrtc-vad"},
	"memory": {"pgvector"},
	"intent": {},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	hasDefault := map[string]bool{}
	validateModuleEntries("vad", cfg.Modules.VAD, &errs, hasDefault)
	validateModuleEntries("asr", cfg.Modules.ASR, &errs, hasDefault)
	validateModuleEntries("llm", cfg.Modules.LLM, &errs, hasDefault)
	validateModuleEntries("tts", cfg.Modules.TTS, &errs, hasDefault)
	validateModuleEntries("memory", cfg.Modules.Memory, &errs, hasDefault)
	validateModuleEntries("intent", cfg.Modules.Intent, &errs, hasDefault)

	if len(cfg.Agents) > 0 {
		if !hasDefault["llm"] {
			slog.Warn("no default llm module configured; agents will need an explicit module_codes.llm entry")
		}
		if !hasDefault["tts"] {
			slog.Warn("no default tts module configured; agents will need an explicit module_codes.tts entry")
		}
	}

	if cfg.Modules.Memory != nil && cfg.Postgres.EmbeddingDimensions <= 0 {
		slog.Warn("a memory module is configured but postgres.embedding_dimensions is not set; defaulting to 1536")
		cfg.Postgres.EmbeddingDimensions = 1536
	}
	if cfg.Postgres.DSN == "" && len(cfg.Agents) > 0 {
		slog.Warn("postgres.dsn is empty; the conversation store and memory recall will not be available")
	}

	agentIDsSeen := make(map[string]int, len(cfg.Agents))
	for i, agent := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if agent.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else if prev, ok := agentIDsSeen[agent.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of agents[%d]", prefix, agent.ID, prev))
		} else {
			agentIDsSeen[agent.ID] = i
		}

		if agent.ListeningMode != "" && !slices.Contains(validListeningModes, agent.ListeningMode) {
			errs = append(errs, fmt.Errorf("%s.listening_mode %q is invalid; valid values: %v", prefix, agent.ListeningMode, validListeningModes))
		}
		if agent.Voice.SpeedFactor != 0 && (agent.Voice.SpeedFactor < 0.5 || agent.Voice.SpeedFactor > 2.0) {
			errs = append(errs, fmt.Errorf("%s.voice.speed_factor %.2f is out of range [0.5, 2.0]", prefix, agent.Voice.SpeedFactor))
		}
		if agent.Voice.PitchShift < -10 || agent.Voice.PitchShift > 10 {
			errs = append(errs, fmt.Errorf("%s.voice.pitch_shift %.2f is out of range [-10, 10]", prefix, agent.Voice.PitchShift))
		}
		if agent.Profile.Character.Prompt == "" {
			errs = append(errs, fmt.Errorf("%s.profile.character.prompt is required", prefix))
		}
		if agent.Audio.VADThreshold < 0 || agent.Audio.VADThreshold > 1 {
			errs = append(errs, fmt.Errorf("%s.audio_settings.vad_threshold %.2f is out of range [0, 1]", prefix, agent.Audio.VADThreshold))
		}
		if high, low := agent.Audio.ConfidenceThreshold[0], agent.Audio.ConfidenceThreshold[1]; high != 0 || low != 0 {
			if low > high {
				errs = append(errs, fmt.Errorf("%s.audio_settings.confidence_threshold low %.2f must be <= high %.2f", prefix, low, high))
			}
		}
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && srv.Transport != string(mcp.TransportStdio) && srv.Transport != string(mcp.TransportStreamableHTTP) {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == string(mcp.TransportStdio) && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == string(mcp.TransportStreamableHTTP) && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateModuleEntries checks one module type's entry list: duplicate
// codes, at most one default, and unknown kinds (warned, not rejected).
func validateModuleEntries(typ string, entries []ModuleEntry, errs *[]error, hasDefault map[string]bool) {
	codesSeen := make(map[string]int, len(entries))
	for i, e := range entries {
		prefix := fmt.Sprintf("modules.%s[%d]", typ, i)
		if e.Code == "" {
			*errs = append(*errs, fmt.Errorf("%s.code is required", prefix))
		} else if prev, ok := codesSeen[e.Code]; ok {
			*errs = append(*errs, fmt.Errorf("%s.code %q is a duplicate of modules.%s[%d]", prefix, e.Code, typ, prev))
		} else {
			codesSeen[e.Code] = i
		}
		if e.Kind == "" {
			*errs = append(*errs, fmt.Errorf("%s.kind is required", prefix))
		} else if known, ok := validModuleKinds[typ]; ok && len(known) > 0 && !slices.Contains(known, e.Kind) {
			slog.Warn("unknown module kind — may be a typo or a third-party factory",
				"type", typ, "kind", e.Kind, "known", known)
		}
		if e.IsDefault {
			if hasDefault[typ] {
				*errs = append(*errs, fmt.Errorf("%s: more than one default module for type %q", prefix, typ))
			}
			hasDefault[typ] = true
		}
	}
}
