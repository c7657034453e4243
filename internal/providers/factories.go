// Package providers registers every concrete backend implementation this
// gateway ships with against a [registry.Catalog], keyed by module type and
// kind. internal/config.ModuleEntry.Kind selects among the kinds registered
// here; internal/app wires RegisterFactories in before loading the
// configured module entries.
package providers

import (
	"fmt"

	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/intent/llmclassify"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/memory/semantic"
	embeddingsollama "github.com/cnwinds/chatflow-nexus/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/cnwinds/chatflow-nexus/pkg/provider/embeddings/openai"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/llm/anyllm"
	llmopenai "github.com/cnwinds/chatflow-nexus/pkg/provider/llm/openai"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/stt/deepgram"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/stt/whisper"
	ttscoqui "github.com/cnwinds/chatflow-nexus/pkg/provider/tts/coqui"
	ttselevenlabs "github.com/cnwinds/chatflow-nexus/pkg/provider/tts/elevenlabs"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/vad/energy"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// RegisterFactories registers every kind this binary knows how to build for
// every module type. st provides the conversation store's recall index to
// the "semantic" memory kind; pass nil if memory modules will not be used.
func RegisterFactories(catalog *registry.Catalog, st *store.Store) {
	registerLLM(catalog)
	registerASR(catalog)
	registerTTS(catalog)
	registerVAD(catalog)
	registerMemory(catalog, st)
	registerIntent(catalog)
}

func str(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

// --- LLM -------------------------------------------------------------------

func registerLLM(catalog *registry.Catalog) {
	catalog.RegisterFactory(types.ModuleLLM, "openai", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		model := str(p.Config, "model")
		opts := []llmopenai.Option{}
		if base := str(p.Config, "base_url"); base != "" {
			opts = append(opts, llmopenai.WithBaseURL(base))
		}
		prov, err := llmopenai.New(str(p.Config, "api_key"), model, opts...)
		if err != nil {
			return nil, fmt.Errorf("providers: llm/openai: %w", err)
		}
		return registry.NewLLMAdapter(p.Code, "OpenAI-compatible chat completion: "+model, prov), nil
	}))

	catalog.RegisterFactory(types.ModuleLLM, "anyllm-anthropic", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		prov, err := anyllm.NewAnthropic(str(p.Config, "model"))
		if err != nil {
			return nil, fmt.Errorf("providers: llm/anyllm-anthropic: %w", err)
		}
		return registry.NewLLMAdapter(p.Code, "Anthropic via any-llm", prov), nil
	}))

	catalog.RegisterFactory(types.ModuleLLM, "anyllm-gemini", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		prov, err := anyllm.NewGemini(str(p.Config, "model"))
		if err != nil {
			return nil, fmt.Errorf("providers: llm/anyllm-gemini: %w", err)
		}
		return registry.NewLLMAdapter(p.Code, "Gemini via any-llm", prov), nil
	}))

	catalog.RegisterFactory(types.ModuleLLM, "anyllm-ollama", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		prov, err := anyllm.NewOllama(str(p.Config, "model"))
		if err != nil {
			return nil, fmt.Errorf("providers: llm/anyllm-ollama: %w", err)
		}
		return registry.NewLLMAdapter(p.Code, "Ollama via any-llm", prov), nil
	}))

	catalog.RegisterFactory(types.ModuleLLM, "anyllm-groq", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		prov, err := anyllm.NewGroq(str(p.Config, "model"))
		if err != nil {
			return nil, fmt.Errorf("providers: llm/anyllm-groq: %w", err)
		}
		return registry.NewLLMAdapter(p.Code, "Groq via any-llm", prov), nil
	}))
}

// --- ASR (speech-to-text) ---------------------------------------------------

func registerASR(catalog *registry.Catalog) {
	catalog.RegisterFactory(types.ModuleASR, "deepgram", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		opts := []deepgram.Option{}
		if model := str(p.Config, "model"); model != "" {
			opts = append(opts, deepgram.WithModel(model))
		}
		prov, err := deepgram.New(str(p.Config, "api_key"), opts...)
		if err != nil {
			return nil, fmt.Errorf("providers: asr/deepgram: %w", err)
		}
		return registry.NewASRAdapter(p.Code, "Deepgram streaming transcription", prov), nil
	}))

	catalog.RegisterFactory(types.ModuleASR, "whisper", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		opts := []whisper.Option{}
		if model := str(p.Config, "model"); model != "" {
			opts = append(opts, whisper.WithModel(model))
		}
		prov, err := whisper.New(str(p.Config, "base_url"), opts...)
		if err != nil {
			return nil, fmt.Errorf("providers: asr/whisper: %w", err)
		}
		return registry.NewASRAdapter(p.Code, "whisper.cpp server transcription", prov), nil
	}))
}

// --- TTS ---------------------------------------------------------------

func registerTTS(catalog *registry.Catalog) {
	catalog.RegisterFactory(types.ModuleTTS, "elevenlabs", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		opts := []ttselevenlabs.Option{}
		if model := str(p.Config, "model"); model != "" {
			opts = append(opts, ttselevenlabs.WithModel(model))
		}
		prov, err := ttselevenlabs.New(str(p.Config, "api_key"), opts...)
		if err != nil {
			return nil, fmt.Errorf("providers: tts/elevenlabs: %w", err)
		}
		return registry.NewTTSAdapter(p.Code, "ElevenLabs streaming synthesis", prov), nil
	}))

	catalog.RegisterFactory(types.ModuleTTS, "coqui", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		prov, err := ttscoqui.New(str(p.Config, "base_url"))
		if err != nil {
			return nil, fmt.Errorf("providers: tts/coqui: %w", err)
		}
		return registry.NewTTSAdapter(p.Code, "Coqui TTS server synthesis", prov), nil
	}))
}

// --- VAD ---------------------------------------------------------------

func registerVAD(catalog *registry.Catalog) {
	catalog.RegisterFactory(types.ModuleVAD, "energy", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		return registry.NewVADAdapter(p.Code, "RMS energy threshold VAD", energy.New()), nil
	}))
}

// --- Memory --------------------------------------------------------------

func registerMemory(catalog *registry.Catalog, st *store.Store) {
	catalog.RegisterFactory(types.ModuleMemory, "semantic", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		if st == nil {
			return nil, fmt.Errorf("providers: memory/semantic requires a conversation store")
		}
		backend := str(p.Config, "embedding_backend")
		if backend == "" {
			backend = "openai"
		}

		switch backend {
		case "ollama":
			prov, err := embeddingsollama.New(str(p.Config, "base_url"), str(p.Config, "model"))
			if err != nil {
				return nil, fmt.Errorf("providers: memory/semantic embeddings/ollama: %w", err)
			}
			return registry.NewMemoryAdapter(p.Code, "Semantic recall (Ollama embeddings)", semantic.New(prov, st)), nil
		default:
			opts := []embeddingsopenai.Option{}
			if base := str(p.Config, "base_url"); base != "" {
				opts = append(opts, embeddingsopenai.WithBaseURL(base))
			}
			prov, err := embeddingsopenai.New(str(p.Config, "api_key"), str(p.Config, "model"), opts...)
			if err != nil {
				return nil, fmt.Errorf("providers: memory/semantic embeddings/openai: %w", err)
			}
			return registry.NewMemoryAdapter(p.Code, "Semantic recall (OpenAI embeddings)", semantic.New(prov, st)), nil
		}
	}))
}

// --- Intent ----------------------------------------------------------------

func registerIntent(catalog *registry.Catalog) {
	catalog.RegisterFactory(types.ModuleIntent, "llmclassify", registry.FactoryFunc(func(p registry.ModuleParams) (registry.Module, error) {
		var labels []string
		if raw, ok := p.Config["labels"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					labels = append(labels, s)
				}
			}
		}
		if len(labels) == 0 {
			labels = []string{"chat", "command", "question"}
		}
		prov, err := llmopenai.New(str(p.Config, "api_key"), str(p.Config, "model"))
		if err != nil {
			return nil, fmt.Errorf("providers: intent/llmclassify: %w", err)
		}
		return registry.NewIntentAdapter(p.Code, "LLM-backed intent classification", llmclassify.New(prov, labels)), nil
	}))
}
