package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/cnwinds/chatflow-nexus/internal/metrics"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/memory"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// bargeInDrainDeadline bounds how long the cancellation protocol (§4.4.3)
// may spend draining in-flight TTS/outbound-audio before forcing the
// transition onward regardless.
const bargeInDrainDeadline = 500 * time.Millisecond

// Outbound is the gateway-facing sink a Session writes frames and audio to.
// Implemented by the WebSocket transport; a fake implementation drives
// tests.
type Outbound interface {
	SendFrame(Frame) error
	SendAudio(data []byte) error
}

// pendingInput is the capacity-1 collapsing queue slot from §4.4.5. It is
// occupied by the input that triggered a barge-in (promoted to the next
// turn once the drain completes) and by any input arriving during the
// drain, which replaces whatever was already queued rather than appending
// to it.
type pendingInput struct {
	text      string
	audioPath string
	synthetic bool
}

// inputCmd carries a new user turn (text message or finalized ASR
// transcript) into the actor's mailbox. audioPath is non-empty only when
// the turn originated from a transcribed utterance that was archived
// (§3 ChatMessage: "audio path present only for user messages").
// synthetic marks a server-originated turn (the opening greeting) whose
// instruction text must not be persisted as a user message.
type inputCmd struct {
	text      string
	audioPath string
	synthetic bool
}

// listenCmd carries a listen frame's state transition (§4.5) into the
// actor's mailbox.
type listenCmd struct {
	state string // "start", "stop", "detect"
}

// abortCmd requests an explicit client-initiated cancellation of the
// current turn.
type abortCmd struct{}

// speechStartCmd signals VAD-detected onset of user speech, the audio-path
// barge-in trigger (§4.4.3 "audio speech-start").
type speechStartCmd struct{}

// drainTimeoutCmd fires when a cancelled turn has not unwound within
// bargeInDrainDeadline, forcing the CANCELLING exit so a stuck provider
// cannot wedge the session.
type drainTimeoutCmd struct{ turnID uint64 }

// closeCmd shuts the session actor down.
type closeCmd struct{}

// stateQuery requests the actor's current state over reply, keeping
// introspection on the single-writer goroutine like every other mailbox
// command instead of reading Session fields from another goroutine.
type stateQuery struct {
	reply chan State
}

// Session is one gateway connection's turn-taking actor (§4.4.1). All
// mutation of its state happens on a single goroutine, serialised through
// mailbox: callers never touch state directly, mirroring the
// single-writer-per-NPC discipline orchestrator.Orchestrator uses for its
// routing table, generalised here to a per-connection state machine
// instead of a shared map.
type Session struct {
	sessionID string
	agentID   string
	cfg       config.AgentConfig
	llmCode   string
	ttsCode   string

	catalog moduleCaller
	store   historyStore
	recall  memory.Provider
	metrics *metrics.Recorder
	out     Outbound
	log     *slog.Logger

	mailbox chan any
	done    chan struct{}
	closed  sync.Once

	// actor-owned; read and written only inside run().
	state       State
	copilotMode bool
	turnSeq     uint64
	pending     *pendingInput
	cancelTurn  context.CancelFunc
	drainTimer  *time.Timer
	turnWG      sync.WaitGroup
}

// NewSession constructs a session actor for one gateway connection. Run
// must be called to start its goroutine before any Enqueue* call can make
// progress; commands sent before Run are simply buffered on the mailbox.
// copilotMode selects the agent's PromptCopilot system prompt and segregates
// this session's history/compaction from its ordinary-mode counterpart.
func NewSession(sessionID, agentID string, cfg config.AgentConfig, catalog moduleCaller, st historyStore, recall memory.Provider, rec *metrics.Recorder, out Outbound, copilotMode bool) *Session {
	llmCode := cfg.ModuleCodes["llm"]
	ttsCode := cfg.ModuleCodes["tts"]
	if ttsCode == "" {
		ttsCode = cfg.Voice.Provider
	}
	return &Session{
		sessionID:   sessionID,
		agentID:     agentID,
		cfg:         cfg,
		llmCode:     llmCode,
		ttsCode:     ttsCode,
		catalog:     catalog,
		store:       st,
		recall:      recall,
		metrics:     rec,
		out:         out,
		log:         slog.With("session_id", sessionID, "agent_id", agentID),
		mailbox:     make(chan any, 8),
		done:        make(chan struct{}),
		state:       StateIdle,
		copilotMode: copilotMode,
	}
}

// Run drives the actor's command loop until ctx is cancelled or Close is
// called. It must be run in its own goroutine.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.bargeIn()
			s.turnWG.Wait()
			return
		case cmd := <-s.mailbox:
			switch c := cmd.(type) {
			case inputCmd:
				s.handleInput(ctx, c)
			case listenCmd:
				s.handleListen(ctx, c)
			case abortCmd:
				s.bargeIn()
			case speechStartCmd:
				s.handleSpeechStart()
			case turnDoneCmd:
				s.handleTurnDone(ctx, c)
			case drainTimeoutCmd:
				s.handleDrainTimeout(ctx, c)
			case closeCmd:
				s.bargeIn()
				s.turnWG.Wait()
				return
			case stateQuery:
				c.reply <- s.state
			}
		}
	}
}

// Close stops the session actor. Safe to call more than once.
func (s *Session) Close() {
	s.closed.Do(func() {
		select {
		case s.mailbox <- closeCmd{}:
		default:
		}
	})
	<-s.done
}

// EnqueueText submits a "text" frame's content as a new user turn.
func (s *Session) EnqueueText(text string) {
	s.mailbox <- inputCmd{text: text}
}

// EnqueueTranscript submits a finalized ASR transcript as a new user turn.
// audioPath is the archived recording's path (§3), or empty when audio
// archiving is disabled.
func (s *Session) EnqueueTranscript(text, audioPath string) {
	s.mailbox <- inputCmd{text: text, audioPath: audioPath}
}

// openingInstruction is the synthetic turn submitted when the agent's
// enable_opening_say_hello toggle is on: the LLM greets the child by its
// persona before any user input arrives.
const openingInstruction = "请用你的角色向刚连线的小朋友打个简短的招呼。"

// EnqueueOpening submits the opening greeting as a synthetic turn. The
// instruction drives one ordinary generation but is not persisted as a user
// message; only the assistant's greeting lands in the session history.
func (s *Session) EnqueueOpening() {
	s.mailbox <- inputCmd{text: openingInstruction, synthetic: true}
}

// EnqueueListen submits a "listen" frame's state transition.
func (s *Session) EnqueueListen(state string) {
	s.mailbox <- listenCmd{state: state}
}

// EnqueueAbort submits an explicit client "abort" frame.
func (s *Session) EnqueueAbort() {
	s.mailbox <- abortCmd{}
}

// EnqueueSpeechStart signals that VAD detected the onset of user speech,
// called by the audio ingestor in auto/realtime mode. Speech over a running
// turn preempts it (§4.4.2: realtime barge-in is always on).
func (s *Session) EnqueueSpeechStart() {
	s.mailbox <- speechStartCmd{}
}

// State reports the session's current state, synchronised through the
// mailbox so the read can never race the actor goroutine's mutations.
func (s *Session) State() State {
	reply := make(chan State, 1)
	s.mailbox <- stateQuery{reply: reply}
	return <-reply
}

// handleListen reacts to listen:start/detect as a barge-in trigger when the
// session is mid-turn (§4.4.3): voice activity during GENERATING/SPEAKING
// means the user is interrupting, not queuing a follow-up.
func (s *Session) handleListen(ctx context.Context, c listenCmd) {
	switch c.state {
	case "start", "detect":
		if s.state == StateCancelling {
			return
		}
		if !s.bargeIn() {
			s.state = StateListening
		}
	case "stop":
		if s.state == StateListening {
			s.state = StateTranscribing
		}
	}
}

// handleSpeechStart reacts to VAD-detected speech onset exactly like an
// explicit listen:start: a running turn is preempted, an idle session just
// transitions to LISTENING. A drain already in progress is left to finish —
// the utterance's transcript arrives later as an inputCmd anyway.
func (s *Session) handleSpeechStart() {
	if s.state == StateCancelling {
		return
	}
	if !s.bargeIn() {
		s.state = StateListening
	}
}

// handleInput routes a complete new input (text message or finalized ASR
// transcript). An idle session starts the turn immediately; a turn in
// flight is preempted (§4.4.3) with the input parked for promotion once the
// drain completes; while the drain is still running, further inputs
// collapse into the single pending slot, dropping (and reporting) whatever
// was queued there before (§4.4.5).
func (s *Session) handleInput(ctx context.Context, c inputCmd) {
	switch {
	case s.state == StateCancelling:
		if s.pending != nil {
			s.emitBusyDropped()
		}
		s.pending = &pendingInput{text: c.text, audioPath: c.audioPath, synthetic: c.synthetic}
	case s.state == StateGenerating || s.state == StateSpeaking:
		s.bargeIn()
		s.pending = &pendingInput{text: c.text, audioPath: c.audioPath, synthetic: c.synthetic}
	default:
		s.startTurn(ctx, c.text, c.audioPath, c.synthetic)
	}
}

// emitBusyDropped reports the collapsed pending input as a non-fatal error
// frame, per §4.4.5.
func (s *Session) emitBusyDropped() {
	_ = s.out.SendFrame(errorFrame(string(types.ErrorBusyDropped), "a queued input was replaced by a newer one"))
}

// startTurn transitions into GENERATING and spawns the turn's work on its
// own cancellable context, tracked by turnWG so Close/bargeIn can wait for
// it to unwind.
func (s *Session) startTurn(ctx context.Context, userTurn, audioPath string, synthetic bool) {
	s.turnSeq++
	turnID := s.turnSeq
	s.state = StateGenerating

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		s.runTurn(turnCtx, turnID, userTurn, audioPath, synthetic)
		s.mailbox <- turnDoneCmd{turnID: turnID}
	}()
}

// turnDoneCmd notifies the actor loop that a turn's goroutine has
// finished, so the next state transition and any queued pending input are
// handled back on the single-writer goroutine.
type turnDoneCmd struct{ turnID uint64 }

func (s *Session) handleTurnDone(ctx context.Context, c turnDoneCmd) {
	if c.turnID != s.turnSeq {
		// Stale completion from an already-superseded turn; ignore.
		return
	}
	if s.drainTimer != nil {
		s.drainTimer.Stop()
		s.drainTimer = nil
	}
	s.cancelTurn = nil
	s.state = StateListening

	if s.pending != nil {
		p := s.pending
		s.pending = nil
		s.startTurn(ctx, p.text, p.audioPath, p.synthetic)
	}
}

// handleDrainTimeout forces the CANCELLING exit when a cancelled turn has
// not unwound within bargeInDrainDeadline (§4.4.3: a provider call that
// does not honour cancellation in time has its result dropped on arrival).
// Promoting the pending input bumps the turn counter, so the abandoned
// turn's eventual turnDoneCmd is discarded as stale (§5).
func (s *Session) handleDrainTimeout(ctx context.Context, c drainTimeoutCmd) {
	if c.turnID != s.turnSeq || s.state != StateCancelling {
		return
	}
	s.log.Warn("barge-in drain deadline exceeded, abandoning the cancelled turn")
	s.drainTimer = nil
	s.state = StateListening

	if s.pending != nil {
		p := s.pending
		s.pending = nil
		s.startTurn(ctx, p.text, p.audioPath, p.synthetic)
	}
}

// bargeIn starts the cancellation protocol (§4.4.3): stop TTS immediately,
// cancel the in-flight turn, and let the drain run asynchronously — the
// actor stays responsive during it, with re-entry blocked by CANCELLING.
// The drain ends when the turn goroutine posts its turnDoneCmd, or when the
// drain timer forces the transition at bargeInDrainDeadline if the provider
// ignores cancellation. The turn goroutine itself persists the partial
// assistant content with a truncated marker before exiting.
//
// Reports whether a turn was actually interrupted, so callers like the
// abortCmd handler can stay idempotent when there was nothing to cancel
// (§8: replaying an abort while already IDLE is a no-op).
func (s *Session) bargeIn() bool {
	if !s.state.busy() || s.cancelTurn == nil {
		return false
	}
	s.state = StateCancelling
	_ = s.out.SendFrame(ttsStopFrame())
	s.cancelTurn()
	s.cancelTurn = nil

	turnID := s.turnSeq
	s.drainTimer = time.AfterFunc(bargeInDrainDeadline, func() {
		// Non-blocking: if the actor is already gone the timeout is moot.
		select {
		case s.mailbox <- drainTimeoutCmd{turnID: turnID}:
		default:
		}
	})
	return true
}
