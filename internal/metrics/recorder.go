// Package metrics implements the recorder that wraps every provider call in
// a monitor scope, buffers the resulting AIMetric rows in memory, and
// flushes them to the ai_metrics table in batches without blocking callers.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cnwinds/chatflow-nexus/internal/observe"
)

// flushBatchSize is the maximum number of rows written in a single flush.
const flushBatchSize = 100

// flushInterval is how often the recorder writes one batch of buffered rows.
const flushInterval = 5 * time.Second

// bufferCapacity bounds the in-memory queue; once full, the oldest row is
// dropped to make room for the newest (a warning is logged).
const bufferCapacity = 10_000

// Row is one persisted ai_metrics record (§3 AIMetric).
type Row struct {
	MonitorID        string
	Provider         string
	Model            string
	SessionID        string
	StartTime        time.Time
	EndTime          time.Time
	PromptTokens     int64
	CompletionTokens int64
	InputChars       int64
	OutputChars      int64
	ToolCalls        int64
	CostMicros       int64
	FirstByteMS      *float64
	FirstTokenMS     *float64
	TotalMS          float64
	Status           string
}

// Recorder buffers AIMetric rows and flushes them to Postgres asynchronously.
// A single Recorder should be shared across all sessions in the process.
type Recorder struct {
	pool    *pgxpool.Pool
	pricing PricingTable
	obs     *observe.Metrics

	mu      sync.Mutex
	buf     []Row
	dropped int64

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a Recorder backed by pool, running its schema
// migration. obs may be nil, in which case OTel mirroring is skipped.
func NewRecorder(ctx context.Context, pool *pgxpool.Pool, pricing PricingTable, obs *observe.Metrics) (*Recorder, error) {
	if err := migrate(ctx, pool); err != nil {
		return nil, err
	}
	if pricing == nil {
		pricing = DefaultPricingTable()
	}
	r := &Recorder{
		pool:    pool,
		pricing: pricing,
		obs:     obs,
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.flushLoop()
	return r, nil
}

// Stop halts the background flush loop, flushing whatever remains buffered.
// Safe to call multiple times.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// Start begins a monitor scope for one provider call. Call methods on the
// returned [Scope] as the call progresses, then [Scope.End] exactly once.
func (r *Recorder) Start(provider, model, sessionID string, inputChars int) *Scope {
	return &Scope{
		recorder:   r,
		monitorID:  uuid.NewString(),
		provider:   provider,
		model:      model,
		sessionID:  sessionID,
		inputChars: int64(inputChars),
		startTime:  time.Now(),
	}
}

// enqueue appends row to the buffer, dropping the oldest entry if full.
func (r *Recorder) enqueue(row Row) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) >= bufferCapacity {
		r.buf = r.buf[1:]
		r.dropped++
		slog.Warn("metrics recorder buffer full, dropping oldest row", "dropped_total", r.dropped)
	}
	r.buf = append(r.buf, row)
}

// flushLoop runs until Stop is called. Each flushInterval tick writes one
// batch of up to flushBatchSize rows; the buffer reaching flushBatchSize does
// not trigger a flush by itself. On Stop it flushes batch by batch until
// every row buffered at that moment has had one write attempt.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			r.mu.Lock()
			batches := (len(r.buf) + flushBatchSize - 1) / flushBatchSize
			r.mu.Unlock()
			for i := 0; i < batches; i++ {
				r.flush(context.Background())
			}
			return
		case <-ticker.C:
			r.flush(context.Background())
		}
	}
}

// flush writes up to flushBatchSize buffered rows to ai_metrics. On failure
// the rows are re-queued (subject to the same bounded-buffer drop policy)
// rather than lost.
func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	n := len(r.buf)
	if n > flushBatchSize {
		n = flushBatchSize
	}
	batch := r.buf[:n]
	r.buf = r.buf[n:]
	r.mu.Unlock()

	if err := r.insertBatch(ctx, batch); err != nil {
		slog.Warn("metrics recorder flush failed, re-queueing batch", "rows", len(batch), "err", err)
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		for len(r.buf) > bufferCapacity {
			r.buf = r.buf[1:]
			r.dropped++
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) insertBatch(ctx context.Context, rows []Row) error {
	const q = `
		INSERT INTO ai_metrics
			(monitor_id, provider, model, session_id, start_time, end_time,
			 prompt_tokens, completion_tokens, input_chars, output_chars,
			 tool_calls, cost_micros, first_byte_ms, first_token_ms, total_ms, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(q,
			row.MonitorID, row.Provider, row.Model, row.SessionID, row.StartTime, row.EndTime,
			row.PromptTokens, row.CompletionTokens, row.InputChars, row.OutputChars,
			row.ToolCalls, row.CostMicros, row.FirstByteMS, row.FirstTokenMS, row.TotalMS, row.Status)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
