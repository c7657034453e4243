package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/llm"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// fakeStore is a minimal historyStore double: no compression, no compaction,
// just enough bookkeeping for the turn lifecycle to run to completion.
type fakeStore struct {
	mu       sync.Mutex
	appended []store.ChatMessage
}

func (f *fakeStore) RecentWindow(ctx context.Context, agentID string, copilotMode bool, limit int) ([]store.ChatMessage, *store.CompressedHistory, error) {
	return nil, nil, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, sessionID, agentID, role, content, audioPath, emotion string, copilotMode bool) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, store.ChatMessage{Role: role, Content: content, Emotion: emotion})
	return int64(len(f.appended)), nil
}

func (f *fakeStore) CompactIfNeeded(ctx context.Context, agentID string, copilotMode bool) error {
	return nil
}

// fakeCatalog is a minimal moduleCaller double. CallStream feeds back
// llmChunks as a single llm.Chunk per call, honouring ctx.Done the way the
// real registry adapters do so a barge-in actually unblocks the turn
// goroutine. streamErrCalls limits StreamErr to the first N CallStream
// invocations, mirroring mock.Provider's StreamErrCalls knob, so a retry
// test can make the first attempt fail and the second succeed.
type fakeCatalog struct {
	mu             sync.Mutex
	llmChunks      []llm.Chunk
	streamErr      error
	streamErrCalls int
	streamCalls    int

	// ignoreCancelFor, when non-zero, makes the TTS call's returned audio
	// channel stay open for this long regardless of ctx cancellation,
	// simulating a provider that does not honour cancellation so the
	// barge-in drain deadline can actually be exercised.
	ignoreCancelFor time.Duration

	// chunkDelay, when non-zero, is waited out before each llmChunks entry
	// is sent, simulating a slow-streaming provider so a turn stays busy
	// long enough for a test to observe it mid-flight.
	chunkDelay time.Duration
}

func (f *fakeCatalog) Call(ctx context.Context, t types.ModuleType, code, tool string, input any) (any, error) {
	in, ok := input.(registry.TTSSynthesizeInput)
	if !ok {
		return nil, nil
	}
	textCh := in.Text
	audioCh := make(chan []byte, 1)
	go func() {
		defer close(audioCh)
		for range textCh {
			select {
			case audioCh <- []byte("x"):
			case <-ctx.Done():
			}
		}
		if f.ignoreCancelFor > 0 {
			<-time.After(f.ignoreCancelFor)
		}
	}()
	var ch <-chan []byte = audioCh
	return ch, nil
}

func (f *fakeCatalog) CallStream(ctx context.Context, t types.ModuleType, code, tool string, input any) (<-chan any, error) {
	f.mu.Lock()
	f.streamCalls++
	callNum := f.streamCalls
	err := f.streamErr
	chunks := f.llmChunks
	f.mu.Unlock()

	if err != nil && (f.streamErrCalls == 0 || callNum <= f.streamErrCalls) {
		return nil, err
	}

	out := make(chan any, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			if f.chunkDelay > 0 {
				select {
				case <-time.After(f.chunkDelay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	var ch <-chan any = out
	return ch, nil
}

// fakeOutbound records every frame and audio write a Session sends.
type fakeOutbound struct {
	mu     sync.Mutex
	frames []Frame
	audio  int
}

func (f *fakeOutbound) SendFrame(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeOutbound) SendAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio++
	return nil
}

func (f *fakeOutbound) framesOfType(typ string) []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Frame
	for _, fr := range f.frames {
		if fr.Type == typ {
			out = append(out, fr)
		}
	}
	return out
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		ID:          "agent-1",
		ModuleCodes: map[string]string{"llm": "test-llm", "tts": "test-tts"},
		Profile:     config.AgentProfile{Character: config.AgentCharacter{Prompt: "you are a test agent"}},
	}
}

// testSession wires a Session over fakes and starts its Run loop, returning
// teardown via t.Cleanup.
func testSession(t *testing.T, catalog *fakeCatalog, st *fakeStore, out *fakeOutbound) *Session {
	t.Helper()
	s := NewSession("sess-1", "agent-1", testAgentConfig(), catalog, st, nil, nil, out, false)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

// waitForState polls until s.State() matches want or t fails on timeout.
// State() round-trips through the actor's mailbox, so once it returns want
// every mailbox command enqueued before the poll started is guaranteed
// processed.
func waitForState(t *testing.T, s *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last was %s", want, s.State())
}

func TestSession_ListenStopOutsideListeningIsNoOp(t *testing.T) {
	catalog := &fakeCatalog{}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	if got := s.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}

	// §8: listen:stop outside LISTENING is a no-op.
	s.EnqueueListen("stop")
	waitForState(t, s, StateIdle, time.Second)
}

func TestSession_AbortWhenIdleIsNoOp(t *testing.T) {
	catalog := &fakeCatalog{}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	// §8: replaying abort while already IDLE must be a true no-op — it must
	// not transition the session into LISTENING.
	s.EnqueueAbort()
	waitForState(t, s, StateIdle, time.Second)

	if frames := out.framesOfType("tts"); len(frames) != 0 {
		t.Fatalf("abort-when-idle sent tts frames, want none: %#v", frames)
	}
}

func TestSession_BusyDroppedCollapsesPendingInput(t *testing.T) {
	catalog := &fakeCatalog{llmChunks: []llm.Chunk{{Text: "hi."}}, chunkDelay: 300 * time.Millisecond}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	s.EnqueueText("first turn, stays busy for a while")
	waitForState(t, s, StateGenerating, time.Second)

	// The second input barges in on the first turn and parks itself as
	// pending; the third arrives while the drain is still running and
	// collapses over it, which is the one busy_dropped this test expects.
	s.EnqueueText("second, barges in and parks as pending")
	s.EnqueueText("third, collapses over second")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(out.framesOfType("error")) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	errFrames := out.framesOfType("error")
	if len(errFrames) != 1 {
		t.Fatalf("got %d error frames, want exactly 1 busy_dropped: %#v", len(errFrames), errFrames)
	}
	if errFrames[0].Code != string(types.ErrorBusyDropped) {
		t.Fatalf("error frame code = %q, want %q", errFrames[0].Code, types.ErrorBusyDropped)
	}
}

func TestSession_BargeInDeadline(t *testing.T) {
	// A TTS fake that ignores cancellation keeps the cancelled turn's
	// goroutine alive well past the drain deadline; the session must force
	// its way back to LISTENING at the deadline instead of waiting it out.
	catalog := &fakeCatalog{
		llmChunks:       []llm.Chunk{{Text: "a slow sentence. "}},
		ignoreCancelFor: bargeInDrainDeadline * 4,
	}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	s.EnqueueText("trigger a turn")
	waitForState(t, s, StateGenerating, time.Second)

	start := time.Now()
	s.EnqueueListen("start")
	waitForState(t, s, StateListening, 2*time.Second)
	elapsed := time.Since(start)

	if elapsed < bargeInDrainDeadline {
		t.Fatalf("cancelling exited after %s, before the drain deadline %s", elapsed, bargeInDrainDeadline)
	}
	if elapsed > bargeInDrainDeadline*3 {
		t.Fatalf("cancelling exited after %s, expected to be forced near the drain deadline %s (not the provider's %s)",
			elapsed, bargeInDrainDeadline, catalog.ignoreCancelFor)
	}
}

func TestSession_TextBargeInPreemptsTurn(t *testing.T) {
	// §8 scenario 2: a text frame arriving mid-turn stops TTS, cancels the
	// stream, persists the partial assistant content with a truncated
	// marker, and then runs the interrupting text as its own turn.
	catalog := &fakeCatalog{
		llmChunks:  []llm.Chunk{{Text: "a very long answer. "}, {Text: "second sentence."}},
		chunkDelay: 150 * time.Millisecond,
	}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	s.EnqueueText("tell me a story")
	waitForState(t, s, StateGenerating, time.Second)

	// Let the first chunk land so the truncated message has partial content.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(out.framesOfType("llm")) == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	s.EnqueueText("停")

	// The interrupting turn runs to completion after the drain.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st.mu.Lock()
		n := len(st.appended)
		st.mu.Unlock()
		if n >= 4 { // user, truncated assistant, user "停", assistant
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	waitForState(t, s, StateListening, 2*time.Second)

	var stops int
	for _, fr := range out.framesOfType("tts") {
		if fr.State == "stop" {
			stops++
		}
	}
	if stops == 0 {
		t.Fatal("barge-in never sent a tts stop frame")
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var truncated, secondUser bool
	for _, m := range st.appended {
		if m.Role == "assistant" && m.Emotion == "truncated" {
			truncated = true
		}
		if m.Role == "user" && m.Content == "停" {
			secondUser = true
		}
	}
	if !truncated {
		t.Fatalf("no assistant message persisted with a truncated marker: %#v", st.appended)
	}
	if !secondUser {
		t.Fatalf("the interrupting text never became its own turn: %#v", st.appended)
	}
}

func TestSession_SpeechStartPreemptsTurn(t *testing.T) {
	// VAD speech onset during a turn barges in (auto/realtime modes) without
	// starting a new turn of its own — the transcript follows separately.
	catalog := &fakeCatalog{
		llmChunks:  []llm.Chunk{{Text: "interruptible. "}},
		chunkDelay: 300 * time.Millisecond,
	}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	s.EnqueueText("something long")
	waitForState(t, s, StateGenerating, time.Second)

	s.EnqueueSpeechStart()
	waitForState(t, s, StateListening, 2*time.Second)

	var stops int
	for _, fr := range out.framesOfType("tts") {
		if fr.State == "stop" {
			stops++
		}
	}
	if stops == 0 {
		t.Fatal("speech-start barge-in never sent a tts stop frame")
	}

	catalog.mu.Lock()
	calls := catalog.streamCalls
	catalog.mu.Unlock()
	if calls != 1 {
		t.Fatalf("CallStream invoked %d times, want 1 — speech onset alone must not start a turn", calls)
	}
}

func TestSession_RetriesTransientLLMFailureOnce(t *testing.T) {
	catalog := &fakeCatalog{
		llmChunks:      []llm.Chunk{{Text: "recovered."}},
		streamErr:      types.NewClassifiedError(types.ErrorProviderTransient, context.DeadlineExceeded),
		streamErrCalls: 1,
	}
	st := &fakeStore{}
	out := &fakeOutbound{}
	s := testSession(t, catalog, st, out)

	s.EnqueueText("please retry")
	waitForState(t, s, StateListening, 2*time.Second)

	catalog.mu.Lock()
	calls := catalog.streamCalls
	catalog.mu.Unlock()
	if calls != 2 {
		t.Fatalf("CallStream invoked %d times, want 2 (one failure, one retry)", calls)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	var assistantMsgs int
	for _, m := range st.appended {
		if m.Role == "assistant" {
			assistantMsgs++
		}
	}
	if assistantMsgs != 1 {
		t.Fatalf("persisted %d assistant messages, want exactly 1", assistantMsgs)
	}
}
