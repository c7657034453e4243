package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scope tracks one in-flight provider call from Start to End. It is not
// safe for concurrent use by multiple goroutines — a call's own worker owns
// its scope.
type Scope struct {
	recorder *Recorder

	monitorID  string
	provider   string
	model      string
	sessionID  string
	inputChars int64
	startTime  time.Time

	firstByteAt  time.Time
	firstTokenAt time.Time
}

// MarkFirstByte records that the first byte of output (audio or text) has
// arrived. Call at most once; later calls are ignored.
func (s *Scope) MarkFirstByte() {
	if s.firstByteAt.IsZero() {
		s.firstByteAt = time.Now()
	}
}

// MarkFirstToken records that the first LLM token has arrived. Call at most
// once; later calls are ignored.
func (s *Scope) MarkFirstToken() {
	if s.firstTokenAt.IsZero() {
		s.firstTokenAt = time.Now()
	}
}

// End closes the scope, computing cost from the recorder's pricing table and
// enqueueing the row for async persistence. status should be "ok" or an
// error-kind string (§4.1's error_kind vocabulary). End must be called
// exactly once per Scope.
func (s *Scope) End(ctx context.Context, promptTokens, completionTokens, outputChars, toolCalls int64, status string) {
	end := time.Now()
	total := end.Sub(s.startTime)

	row := Row{
		MonitorID:        s.monitorID,
		Provider:         s.provider,
		Model:            s.model,
		SessionID:        s.sessionID,
		StartTime:        s.startTime,
		EndTime:          end,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		InputChars:       s.inputChars,
		OutputChars:      outputChars,
		ToolCalls:        toolCalls,
		CostMicros:       s.recorder.pricing.cost(s.provider, s.model, promptTokens, completionTokens),
		TotalMS:          float64(total.Microseconds()) / 1000,
		Status:           status,
	}
	if !s.firstByteAt.IsZero() {
		ms := float64(s.firstByteAt.Sub(s.startTime).Microseconds()) / 1000
		row.FirstByteMS = &ms
	}
	if !s.firstTokenAt.IsZero() {
		ms := float64(s.firstTokenAt.Sub(s.startTime).Microseconds()) / 1000
		row.FirstTokenMS = &ms
	}

	s.recorder.enqueue(row)
	s.recorder.mirrorOTel(ctx, row)
}

// mirrorOTel records the same call against the live OTel instruments, when
// an observe.Metrics instance was supplied to NewRecorder.
func (r *Recorder) mirrorOTel(ctx context.Context, row Row) {
	if r.obs == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("provider", row.Provider),
		attribute.String("model", row.Model),
		attribute.String("status", row.Status),
	)

	switch {
	case row.PromptTokens > 0 || row.CompletionTokens > 0:
		r.obs.LLMDuration.Record(ctx, row.TotalMS/1000, attrs)
		if row.FirstTokenMS != nil {
			r.obs.LLMFirstTokenLatency.Record(ctx, *row.FirstTokenMS/1000, attrs)
		}
		r.obs.RecordTokens(ctx, row.SessionID, row.PromptTokens, row.CompletionTokens)
	default:
		if row.FirstByteMS != nil {
			r.obs.TTSFirstByteLatency.Record(ctx, *row.FirstByteMS/1000, attrs)
		}
		r.obs.TTSDuration.Record(ctx, row.TotalMS/1000, attrs)
	}

	if row.CostMicros > 0 {
		r.obs.EstimatedCostMicros.Add(ctx, row.CostMicros, attrs)
	}
}
