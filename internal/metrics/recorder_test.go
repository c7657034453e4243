package metrics

import (
	"context"
	"testing"
)

// newUnflushedRecorder builds a Recorder with no pool and no background
// flush loop, for exercising Start/End/enqueue/buffer-bound logic without a
// live database.
func newUnflushedRecorder() *Recorder {
	return &Recorder{
		pricing: DefaultPricingTable(),
		done:    make(chan struct{}),
	}
}

func TestScope_EndEnqueuesRow(t *testing.T) {
	r := newUnflushedRecorder()
	ctx := context.Background()

	scope := r.Start("openai", "gpt-4o-mini", "sess-1", 42)
	scope.MarkFirstToken()
	scope.End(ctx, 100, 50, 80, 0, "ok")

	if len(r.buf) != 1 {
		t.Fatalf("buf len = %d, want 1", len(r.buf))
	}
	row := r.buf[0]
	if row.Provider != "openai" || row.Model != "gpt-4o-mini" || row.SessionID != "sess-1" {
		t.Errorf("unexpected row identity: %+v", row)
	}
	if row.PromptTokens != 100 || row.CompletionTokens != 50 {
		t.Errorf("unexpected token counts: %+v", row)
	}
	if row.FirstTokenMS == nil {
		t.Error("expected FirstTokenMS to be set after MarkFirstToken")
	}
	if row.FirstByteMS != nil {
		t.Error("expected FirstByteMS to be nil when MarkFirstByte was never called")
	}
	if row.CostMicros <= 0 {
		t.Errorf("expected non-zero cost for a known provider/model, got %d", row.CostMicros)
	}
}

func TestRecorder_EnqueueDropsOldestWhenFull(t *testing.T) {
	r := newUnflushedRecorder()

	for i := 0; i < bufferCapacity+10; i++ {
		r.enqueue(Row{MonitorID: "m", SessionID: "sess"})
	}

	if len(r.buf) != bufferCapacity {
		t.Fatalf("buf len = %d, want %d", len(r.buf), bufferCapacity)
	}
	if r.dropped != 10 {
		t.Errorf("dropped = %d, want 10", r.dropped)
	}
}
