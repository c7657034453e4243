// Package gateway implements the bidirectional WebSocket transport (§4.5):
// auth handshake, JSON+binary frame codec, dispatch into a per-connection
// [pipeline.Session], and the idle-timeout/reconnect-supplant lifecycle
// around it. Grounded on the teacher's own outbound websocket clients
// (pkg/provider/stt/deepgram, pkg/provider/s2s/gemini) for the coder/websocket
// read/write idiom, turned inward into an accepting server.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/cnwinds/chatflow-nexus/internal/mcp"
	"github.com/cnwinds/chatflow-nexus/internal/metrics"
	"github.com/cnwinds/chatflow-nexus/internal/pipeline"
	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/internal/store"
	"github.com/cnwinds/chatflow-nexus/pkg/audio/opus"
	"github.com/cnwinds/chatflow-nexus/pkg/modules/memory"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// helloTimeout bounds how long a connection may take to send its opening
// hello frame (§5 Timeouts).
const helloTimeout = 5 * time.Second

// defaultIdleTimeout is used when neither the agent nor the server config
// overrides close_connection_no_voice_time.
const defaultIdleTimeout = 120 * time.Second

// writeTimeout bounds a single outbound frame/audio write.
const writeTimeout = 5 * time.Second

// Server accepts WebSocket connections at /ws/chat and drives each one's
// pipeline.Session for its lifetime.
type Server struct {
	agents      map[string]config.AgentConfig
	catalog     *registry.Catalog
	store       *store.Store
	metrics     *metrics.Recorder
	mcpHost     mcp.Host
	authTokens  []string
	audioDir    string
	defaultIdle time.Duration

	log *slog.Logger

	mu    sync.Mutex
	conns map[string]*connState // keyed by client_id
}

// New constructs a Server. agents indexes cfg.Agents by ID; mcpHost may be
// nil to disable the "mcp" frame pass-through.
func New(cfg *config.Config, catalog *registry.Catalog, st *store.Store, rec *metrics.Recorder, mcpHost mcp.Host) *Server {
	agents := make(map[string]config.AgentConfig, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents[a.ID] = a
	}
	idle := time.Duration(cfg.Server.CloseConnectionNoVoiceTimeSeconds * float64(time.Second))
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Server{
		agents:      agents,
		catalog:     catalog,
		store:       st,
		metrics:     rec,
		mcpHost:     mcpHost,
		authTokens:  cfg.Server.AuthTokens,
		audioDir:    cfg.Server.AudioDir,
		defaultIdle: idle,
		log:         slog.With("component", "gateway"),
		conns:       make(map[string]*connState),
	}
}

// connState is one client_id's live (or recently-live) connection: the
// pipeline actor and audio ingestor persist across reconnects, only the
// websocket conn and its outbound sink are swapped.
type connState struct {
	clientID  string
	sessionID string
	agentID   string
	copilot   bool

	session  *pipeline.Session
	ingestor *pipeline.AudioIngestor
	out      *wsOutbound

	cancel      context.CancelFunc
	idle        time.Duration
	reaperDone  chan struct{}
	closeOnce   sync.Once
	openingOnce sync.Once
	startedAt   time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

func (c *connState) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *connState) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// ServeHTTP upgrades the request to a WebSocket and drives the connection
// until it closes. Registered at /ws/chat by internal/app.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	agentID := r.URL.Query().Get("agent_id")
	agent, ok := s.agents[agentID]
	if !ok {
		http.Error(w, "unknown agent_id", http.StatusBadRequest)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	sessionID := r.URL.Query().Get("session_id")
	copilotMode := r.URL.Query().Get("copilot_mode") == "true"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	cs := s.attach(agent, clientID, sessionID, copilotMode, conn)
	if !s.handleConn(conn, cs) {
		// Hello never completed; nothing will ever resume this client_id,
		// so tear it down immediately instead of waiting for the idle reaper.
		s.forget(clientID, cs)
	}
}

// authorize checks the bearer token against the configured allowlist. An
// empty AuthTokens list disables the check (local development only, §4.5).
func (s *Server) authorize(r *http.Request) bool {
	if len(s.authTokens) == 0 {
		return true
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			token = auth[7:]
		}
	}
	return token != "" && slices.Contains(s.authTokens, token)
}

// attach resolves client_id to either an existing connState (reconnect —
// the old socket, if any, is supplanted) or constructs a fresh one, whose
// actor, audio ingestor, and idle reaper all outlive any single physical
// connection — only forget tears them down.
func (s *Server) attach(agent config.AgentConfig, clientID, sessionID string, copilotMode bool, conn *websocket.Conn) *connState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cs, ok := s.conns[clientID]; ok && cs.agentID == agent.ID {
		cs.out.supplantWith(conn)
		cs.touch()
		return cs
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	out := newWSOutbound(conn)
	recall := s.resolveMemory(agent)
	sess := pipeline.NewSession(sessionID, agent.ID, agent, s.catalog, s.store, recall, s.metrics, out, copilotMode)
	ingestor := pipeline.NewAudioIngestor(sess, s.catalog, agent, s.audioDir)

	ctx, cancel := context.WithCancel(context.Background())
	cs := &connState{
		clientID:   clientID,
		sessionID:  sessionID,
		agentID:    agent.ID,
		copilot:    copilotMode,
		session:    sess,
		ingestor:   ingestor,
		out:        out,
		cancel:     cancel,
		idle:       s.idleTimeoutFor(agent),
		reaperDone: make(chan struct{}),
		startedAt:  time.Now(),
	}
	cs.touch()

	go sess.Run(ctx)
	if err := ingestor.Start(ctx); err != nil {
		s.log.Error("start audio ingestor failed", "error", err, "agent_id", agent.ID)
	}
	go s.reapIdle(cs)

	s.conns[clientID] = cs
	return cs
}

// resolveMemory looks up the agent's configured memory module code and
// unwraps the concrete [memory.Provider] behind it, or nil if none is
// configured — [pipeline.NewSession] treats a nil recall provider as
// "semantic recall disabled".
func (s *Server) resolveMemory(agent config.AgentConfig) memory.Provider {
	code := agent.ModuleCodes["memory"]
	mod, err := s.catalog.Resolve(types.ModuleMemory, code)
	if err != nil {
		return nil
	}
	adapter, ok := mod.(*registry.MemoryAdapter)
	if !ok {
		return nil
	}
	return adapter.Provider()
}

// forget removes cs from the client registry and tears down its actor, audio
// sessions, and idle reaper. Called once either the reaper or a failed hello
// handshake decides the session is truly done, not merely disconnected; safe
// to call at most once per connState (attach never re-adds a forgotten one).
func (s *Server) forget(clientID string, cs *connState) {
	s.mu.Lock()
	if s.conns[clientID] == cs {
		delete(s.conns, clientID)
	}
	s.mu.Unlock()

	cs.closeOnce.Do(func() {
		cs.cancel()
		close(cs.reaperDone)
		cs.session.Close()
		if err := cs.ingestor.Close(); err != nil {
			s.log.Warn("close audio ingestor failed", "error", err)
		}
		go s.persistAnalysis(cs)
	})
}

// persistAnalysis computes a session's completed-session rollup (§3
// SessionAnalysis) from its message log and writes it best-effort; failures
// are logged rather than surfaced, since nothing downstream blocks on this
// running (§4.3 retry/failed state machine tolerates it).
func (s *Server) persistAnalysis(cs *connState) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	messages, err := s.store.MessagesBySession(ctx, cs.sessionID, 10000)
	if err != nil {
		s.log.Warn("session analysis: load messages failed", "session_id", cs.sessionID, "error", err)
		return
	}
	if len(messages) == 0 {
		return
	}

	var userChars, userTurns int
	for _, m := range messages {
		if m.Role == "user" {
			userChars += len(m.Content)
			userTurns++
		}
	}
	var avgUtterance float64
	if userTurns > 0 {
		avgUtterance = float64(userChars) / float64(userTurns)
	}

	analysis := map[string]any{
		"message_count": len(messages),
		"user_turns":    userTurns,
	}

	if err := s.store.PersistAnalysis(ctx, cs.sessionID, time.Since(cs.startedAt), avgUtterance, analysis, nil); err != nil {
		s.log.Warn("session analysis: persist failed", "session_id", cs.sessionID, "error", err)
	}
}

// handleConn drives one physical connection: the hello handshake, then the
// frame read loop, until the socket closes or is supplanted. Returns whether
// the hello handshake completed; the idle reaper and actor teardown are
// owned by attach/forget, not by this single connection's lifetime, so that
// a dropped socket leaves the session resumable within its idle window.
func (s *Server) handleConn(conn *websocket.Conn, cs *connState) bool {
	defer conn.Close(websocket.StatusNormalClosure, "")

	if !s.doHello(conn, cs) {
		return false
	}

	// The greeting fires once per session, after the first successful hello
	// exchange — a reconnect resumes mid-conversation and gets no second one.
	if agent, ok := s.agents[cs.agentID]; ok && agent.Functions.EnableOpeningSayHello {
		cs.openingOnce.Do(cs.session.EnqueueOpening)
	}

	s.readLoop(conn, cs)
	return true
}

// idleTimeoutFor resolves the agent-specific idle timeout override, falling
// back to the server default (§6 audio_settings.close_connection_no_voice_time).
func (s *Server) idleTimeoutFor(agent config.AgentConfig) time.Duration {
	if agent.Audio.CloseConnectionNoVoiceTimeSeconds > 0 {
		return time.Duration(agent.Audio.CloseConnectionNoVoiceTimeSeconds * float64(time.Second))
	}
	return s.defaultIdle
}

// reapIdle closes the session once it has gone idle for longer than cs.idle,
// regardless of whether a socket is currently attached — this is what lets a
// disconnected client resume within the window and what eventually tears
// down a session nobody reconnects to. Scoped to the connState's lifetime
// (started once in attach, stopped once in forget), not to any single
// physical connection.
func (s *Server) reapIdle(cs *connState) {
	ticker := time.NewTicker(cs.idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-cs.reaperDone:
			return
		case <-ticker.C:
			if cs.idleFor() >= cs.idle {
				s.log.Info("closing idle session", "session_id", cs.sessionID, "client_id", cs.clientID)
				cs.out.closeIdle()
				s.forget(cs.clientID, cs)
				return
			}
		}
	}
}

// doHello waits up to helloTimeout for the opening hello frame, rejecting
// any other frame type with a protocol error per §4.5. Replies with the
// server's own hello echoing negotiated transport/audio params.
func (s *Server) doHello(conn *websocket.Conn, cs *connState) bool {
	ctx, cancel := context.WithTimeout(context.Background(), helloTimeout)
	defer cancel()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return false
		}
		if typ != websocket.MessageText {
			writeProtocolError(conn, "expected hello as a text frame")
			continue
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			writeProtocolError(conn, "malformed json")
			continue
		}
		if f.Type != "hello" {
			writeProtocolError(conn, "first frame must be hello")
			continue
		}

		reply := helloFrame{
			Type:      "hello",
			Version:   protocolVersion,
			Transport: "websocket",
			SessionID: cs.sessionID,
			AudioParams: audioParams{
				Format:        negotiatedAudioFormat,
				SampleRate:    negotiatedAudioSampleRate,
				Channels:      negotiatedAudioChannels,
				FrameDuration: negotiatedAudioFrameDuration,
			},
		}
		out, _ := json.Marshal(reply)
		wctx, wcancel := context.WithTimeout(context.Background(), writeTimeout)
		err = conn.Write(wctx, websocket.MessageText, out)
		wcancel()
		return err == nil
	}
}

func writeProtocolError(conn *websocket.Conn, message string) {
	data, _ := json.Marshal(newProtocolError(message))
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// readLoop dispatches every subsequent frame on conn until it errors or
// closes. Binary frames are decoded Opus audio; text frames are JSON control
// frames per §4.5's type discriminator.
func (s *Server) readLoop(conn *websocket.Conn, cs *connState) {
	ctx := context.Background()
	dec, err := opus.NewDecoder()
	if err != nil {
		s.log.Error("create opus decoder failed", "error", err)
		return
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Debug("connection read ended", "client_id", cs.clientID, "error", err)
			}
			return
		}
		cs.touch()

		switch typ {
		case websocket.MessageBinary:
			pcm, err := dec.Decode(data)
			if err != nil {
				s.log.Warn("opus decode failed", "error", err)
				continue
			}
			if err := cs.ingestor.PushFrame(ctx, pcm); err != nil {
				s.log.Warn("push audio frame failed", "error", err)
			}
		case websocket.MessageText:
			s.dispatchFrame(ctx, cs, data)
		}
	}
}

// dispatchFrame decodes one JSON control frame and routes it to the
// session actor, the audio ingestor, or the MCP host.
func (s *Server) dispatchFrame(ctx context.Context, cs *connState, data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = cs.out.SendFrame(pipeline.Frame{Type: "error", Code: "protocol", Message: "malformed json"})
		return
	}

	switch f.Type {
	case "listen":
		cs.ingestor.SetListening(f.State == "start" || f.State == "detect")
		cs.session.EnqueueListen(f.State)
	case "text":
		cs.session.EnqueueText(f.Content)
	case "abort":
		cs.session.EnqueueAbort()
	case "mcp":
		s.handleMCP(ctx, cs, f)
	default:
		s.log.Debug("unknown frame type ignored", "type", f.Type)
	}
}

// handleMCP executes an opaque tool-call envelope against the configured
// MCP host and replies with its result on the same "mcp" frame type (§9
// Open Questions: pass-through between client tooling and the LLM's
// function-calling surface).
func (s *Server) handleMCP(ctx context.Context, cs *connState, f clientFrame) {
	if s.mcpHost == nil {
		_ = cs.out.SendFrame(pipeline.Frame{Type: "error", Code: "internal", Message: "mcp not configured"})
		return
	}
	result, err := s.mcpHost.ExecuteTool(ctx, f.Server, f.Tool, f.Args)
	reply := mcpResultFrame{Type: "mcp", Server: f.Server, Tool: f.Tool}
	if err != nil {
		reply.IsError = true
		reply.Message = err.Error()
	} else {
		reply.Content = result.Content
		reply.IsError = result.IsError
	}
	data, _ := json.Marshal(reply)
	_ = cs.out.writeRaw(websocket.MessageText, data)
}

// wsOutbound implements [pipeline.Outbound] over a (possibly reattached)
// websocket connection, encoding PCM to Opus on the way out. A nil conn
// (disconnected, or not yet reconnected) makes writes no-ops rather than
// blocking the turn goroutine.
type wsOutbound struct {
	mu   sync.Mutex
	conn *websocket.Conn
	enc  *opus.Encoder
}

func newWSOutbound(conn *websocket.Conn) *wsOutbound {
	enc, err := opus.NewEncoder()
	if err != nil {
		// Encoder construction only fails on invalid static params; treated
		// as a programming error rather than a per-connection failure.
		panic(fmt.Sprintf("gateway: create opus encoder: %v", err))
	}
	return &wsOutbound{conn: conn, enc: enc}
}

// supplantWith swaps in a new (or nil) conn, closing out the previous one
// with reason "supplanted" if it was live (§4.5 reconnect rule).
func (o *wsOutbound) supplantWith(conn *websocket.Conn) {
	o.mu.Lock()
	old := o.conn
	o.conn = conn
	o.mu.Unlock()
	if old != nil && old != conn {
		old.Close(websocket.StatusNormalClosure, "supplanted")
	}
}

// closeIdle closes the currently attached connection, if any, with a
// normal-closure reason — used by the idle reaper, distinct from
// supplantWith's "supplanted" reason used on reconnect.
func (o *wsOutbound) closeIdle() {
	o.mu.Lock()
	conn := o.conn
	o.conn = nil
	o.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "idle_timeout")
	}
}

func (o *wsOutbound) SendFrame(f pipeline.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return o.writeRaw(websocket.MessageText, data)
}

func (o *wsOutbound) SendAudio(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	packet, err := o.enc.Encode(pcm)
	if err != nil {
		return fmt.Errorf("gateway: opus encode: %w", err)
	}
	return o.writeLocked(websocket.MessageBinary, packet)
}

// writeRaw acquires the connection lock for the duration of the write, so
// JSON control frames and binary audio frames from concurrent goroutines
// (the turn goroutine and its audio-drain goroutine) never interleave on
// the wire (§5: "Frames sent to a single client are strictly ordered").
func (o *wsOutbound) writeRaw(typ websocket.MessageType, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeLocked(typ, data)
}

func (o *wsOutbound) writeLocked(typ websocket.MessageType, data []byte) error {
	if o.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return o.conn.Write(ctx, typ, data)
}
