package pipeline

import (
	"context"

	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// historyStore is the subset of *store.Store the pipeline depends on. Kept
// narrow and package-local so tests can supply a fake without standing up
// Postgres, the way store_test.go's stubSummarizer decouples compaction
// tests from a concrete LLM module.
type historyStore interface {
	RecentWindow(ctx context.Context, agentID string, copilotMode bool, limit int) ([]store.ChatMessage, *store.CompressedHistory, error)
	AppendMessage(ctx context.Context, sessionID, agentID, role, content, audioPath, emotion string, copilotMode bool) (int64, error)
	CompactIfNeeded(ctx context.Context, agentID string, copilotMode bool) error
}

var _ historyStore = (*store.Store)(nil)

// moduleCaller is the subset of *registry.Catalog the pipeline depends on
// to invoke LLM/TTS modules by (type, code).
type moduleCaller interface {
	Call(ctx context.Context, t types.ModuleType, code, tool string, input any) (any, error)
	CallStream(ctx context.Context, t types.ModuleType, code, tool string, input any) (<-chan any, error)
}

var _ moduleCaller = (*registry.Catalog)(nil)
