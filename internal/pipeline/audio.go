package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cnwinds/chatflow-nexus/internal/config"
	"github.com/cnwinds/chatflow-nexus/internal/registry"
	"github.com/cnwinds/chatflow-nexus/internal/transcript"
	"github.com/cnwinds/chatflow-nexus/pkg/audio/opus"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/stt"
	"github.com/cnwinds/chatflow-nexus/pkg/provider/vad"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// AudioIngestor turns a connection's decoded PCM frame stream into finalised
// user turns, gating ASR with VAD per the agent's listening_mode (§4.4.2):
//
//   - "auto": VAD decides speech boundaries. Entering speech requires a
//     probability at or above ConfidenceThreshold[0] (high); once in speech,
//     staying below ConfidenceThreshold[1] (low) for SilenceTimeoutSeconds
//     finalises the utterance.
//   - "manual": audio is forwarded to ASR only between a listen:start and the
//     matching listen:stop frame; VAD is not consulted.
//   - "realtime": audio is forwarded to ASR continuously; the provider's own
//     Finals channel drives turn boundaries.
//
// One AudioIngestor is owned by a single gateway connection and must not be
// shared across goroutines; PushFrame is called from the connection's single
// read loop.
type AudioIngestor struct {
	session   *Session
	catalog   *registry.Catalog
	vadCode   string
	asrCode   string
	mode      string
	audio     config.AudioSettings
	audioDir  string
	agentID   string
	sessionID string
	keywords  []string
	corrector *transcript.Corrector

	log *slog.Logger

	vadSession vad.SessionHandle
	asrSession stt.SessionHandle

	listening    bool // manual mode: between listen:start/listen:stop
	inSpeech     bool // auto mode: VAD currently reports speech
	silenceSince time.Time
	speechStart  time.Time
	buf          []byte
}

// NewAudioIngestor constructs an ingestor bound to session, resolving the
// VAD/ASR module codes from cfg the same way [NewSession] resolves llm/tts
// codes. audioDir is the directory archived recordings are written under;
// empty disables archiving.
func NewAudioIngestor(session *Session, catalog *registry.Catalog, cfg config.AgentConfig, audioDir string) *AudioIngestor {
	mode := cfg.ListeningMode
	if mode == "" {
		mode = "auto"
	}
	a := &AudioIngestor{
		session:   session,
		catalog:   catalog,
		vadCode:   cfg.ModuleCodes["vad"],
		asrCode:   cfg.ModuleCodes["asr"],
		mode:      mode,
		audio:     cfg.Audio,
		audioDir:  audioDir,
		agentID:   session.agentID,
		sessionID: session.sessionID,
		keywords:  cfg.Keywords,
		log:       slog.With("session_id", session.sessionID, "agent_id", session.agentID, "component", "audio_ingestor"),
	}
	if len(cfg.Keywords) > 0 {
		a.corrector = transcript.NewCorrector(cfg.Keywords)
	}
	return a
}

// Start opens the VAD and ASR module sessions. Must be called once before
// any PushFrame call.
func (a *AudioIngestor) Start(ctx context.Context) error {
	if a.mode != "manual" {
		vadAny, err := a.catalog.Call(ctx, types.ModuleVAD, a.vadCode, "new_session", vad.Config{
			SampleRate:       opus.SampleRate,
			FrameSizeMs:      opus.FrameSizeMs,
			SpeechThreshold:  a.confidenceHigh(),
			SilenceThreshold: a.confidenceLow(),
		})
		if err != nil {
			return fmt.Errorf("pipeline: open vad session: %w", err)
		}
		vs, ok := vadAny.(vad.SessionHandle)
		if !ok {
			return fmt.Errorf("pipeline: vad module returned unexpected session type %T", vadAny)
		}
		a.vadSession = vs
	}

	asrAny, err := a.catalog.Call(ctx, types.ModuleASR, a.asrCode, "start_stream", stt.StreamConfig{
		SampleRate: opus.SampleRate,
		Channels:   opus.Channels,
		Language:   a.audio.Language,
		Keywords:   keywordBoosts(a.keywords),
	})
	if err != nil {
		return fmt.Errorf("pipeline: open asr stream: %w", err)
	}
	as, ok := asrAny.(stt.SessionHandle)
	if !ok {
		return fmt.Errorf("pipeline: asr module returned unexpected session type %T", asrAny)
	}
	a.asrSession = as

	go a.watchFinals(ctx)
	return nil
}

// confidenceHigh returns the configured speech-entry threshold, falling back
// to the legacy single VADThreshold field when ConfidenceThreshold is unset.
func (a *AudioIngestor) confidenceHigh() float64 {
	if a.audio.ConfidenceThreshold[0] != 0 {
		return a.audio.ConfidenceThreshold[0]
	}
	if a.audio.VADThreshold != 0 {
		return a.audio.VADThreshold
	}
	return 0.5
}

func (a *AudioIngestor) confidenceLow() float64 {
	if a.audio.ConfidenceThreshold[1] != 0 {
		return a.audio.ConfidenceThreshold[1]
	}
	return 0.35
}

// watchFinals relays the ASR session's authoritative transcripts into the
// session actor as new user turns, applying realtime mode's "the provider's
// own finals drive turn boundaries" rule. In auto/manual mode, finals are
// only emitted once PushFrame has already decided the utterance is over, but
// the provider may still stream them asynchronously afterward, so this loop
// runs for the session's whole lifetime regardless of mode.
func (a *AudioIngestor) watchFinals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-a.asrSession.Finals():
			if !ok {
				return
			}
			if t.Text == "" {
				continue
			}
			text := t.Text
			if a.corrector != nil {
				corrected, corrections := a.corrector.Correct(text)
				if len(corrections) > 0 {
					a.log.Debug("transcript keywords aligned", "original", text, "corrected", corrected)
					text = corrected
				}
			}
			audioPath := a.archive()
			a.session.EnqueueTranscript(text, audioPath)
		}
	}
}

// PushFrame feeds one decoded PCM frame (960 samples / 60ms at 16kHz mono,
// matching [opus.FrameSize]) through the configured listening mode.
func (a *AudioIngestor) PushFrame(ctx context.Context, pcm []byte) error {
	switch a.mode {
	case "manual":
		if !a.listening {
			return nil
		}
		a.buf = append(a.buf, pcm...)
		return a.asrSession.SendAudio(pcm)
	case "realtime":
		a.detectSpeechStart(pcm)
		a.buf = append(a.buf, pcm...)
		return a.asrSession.SendAudio(pcm)
	default:
		return a.pushAuto(pcm)
	}
}

// pushAuto implements the VAD-gated "auto" listening mode (§4.4.2, §8).
func (a *AudioIngestor) pushAuto(pcm []byte) error {
	event, err := a.vadSession.ProcessFrame(pcm)
	if err != nil {
		return fmt.Errorf("pipeline: vad process frame: %w", err)
	}

	now := time.Now()
	switch {
	case event.Probability >= a.confidenceHigh():
		if !a.inSpeech {
			a.inSpeech = true
			a.speechStart = now
			a.buf = a.buf[:0]
			// Speech onset preempts a turn in flight (§4.4.3 barge-in).
			a.session.EnqueueSpeechStart()
		}
		a.silenceSince = time.Time{}
	case event.Probability <= a.confidenceLow():
		if a.inSpeech && a.silenceSince.IsZero() {
			a.silenceSince = now
		}
	}

	if !a.inSpeech {
		return nil
	}

	a.buf = append(a.buf, pcm...)
	if err := a.asrSession.SendAudio(pcm); err != nil {
		return fmt.Errorf("pipeline: asr send audio: %w", err)
	}

	elapsed := now.Sub(a.speechStart).Seconds()
	silenceTimeout := a.audio.SilenceTimeoutSeconds
	if silenceTimeout <= 0 {
		silenceTimeout = 0.8
	}

	forcedBySilence := !a.silenceSince.IsZero() && now.Sub(a.silenceSince).Seconds() >= silenceTimeout
	forcedByMax := a.audio.MaxRecordingDurationSeconds > 0 && elapsed >= a.audio.MaxRecordingDurationSeconds
	if !forcedBySilence && !forcedByMax {
		return nil
	}

	a.inSpeech = false
	a.silenceSince = time.Time{}
	a.vadSession.Reset()

	if a.audio.MinRecordingDurationSeconds > 0 && elapsed < a.audio.MinRecordingDurationSeconds {
		// Too short to be real speech: clear the archive buffer so the
		// segment is not recorded. Its frames were already streamed to ASR
		// above, and a transcript the provider finalises for them still
		// reaches watchFinals.
		a.buf = a.buf[:0]
		return nil
	}
	// The ASR session's own Finals channel (watched by watchFinals) carries
	// the resulting transcript once the provider commits to it.
	return nil
}

// detectSpeechStart is realtime mode's always-on barge-in (§4.4.2): VAD is
// consulted purely for speech onset so an utterance spoken over the
// assistant preempts it; segmentation stays with the ASR provider's own
// finals.
func (a *AudioIngestor) detectSpeechStart(pcm []byte) {
	if a.vadSession == nil {
		return
	}
	event, err := a.vadSession.ProcessFrame(pcm)
	if err != nil {
		return
	}
	switch {
	case event.Probability >= a.confidenceHigh():
		if !a.inSpeech {
			a.inSpeech = true
			a.session.EnqueueSpeechStart()
		}
	case event.Probability <= a.confidenceLow():
		a.inSpeech = false
	}
}

// keywordBoosts converts the agent's configured keyword list into the boost
// entries ASR backends like Deepgram accept natively. Backends without
// keyword support (whisper.cpp) ignore them; the phonetic corrector covers
// those after the fact.
func keywordBoosts(keywords []string) []types.KeywordBoost {
	if len(keywords) == 0 {
		return nil
	}
	boosts := make([]types.KeywordBoost, len(keywords))
	for i, kw := range keywords {
		boosts[i] = types.KeywordBoost{Keyword: kw, Boost: 2}
	}
	return boosts
}

// archive writes the currently buffered utterance to AudioDir, returning its
// path, or "" when archiving is disabled or nothing is buffered.
func (a *AudioIngestor) archive() string {
	if a.audioDir == "" || len(a.buf) == 0 {
		return ""
	}
	name := fmt.Sprintf("%s-%d.pcm", a.sessionID, time.Now().UnixNano())
	path := filepath.Join(a.audioDir, a.agentID, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.log.Warn("create audio archive dir failed", "error", err)
		return ""
	}
	if err := os.WriteFile(path, a.buf, 0o644); err != nil {
		a.log.Warn("archive audio failed", "error", err)
		return ""
	}
	return path
}

// SetListening implements the manual listening mode's explicit boundary
// control (§4.5's listen:start/listen:stop), called from the same place
// [Session.EnqueueListen] is, since both act on client-declared speech
// boundaries.
func (a *AudioIngestor) SetListening(on bool) {
	if a.mode != "manual" {
		return
	}
	if on {
		a.listening = true
		a.buf = a.buf[:0]
		return
	}
	a.listening = false
}

// Close releases the VAD and ASR sessions.
func (a *AudioIngestor) Close() error {
	var err error
	if a.vadSession != nil {
		if e := a.vadSession.Close(); e != nil {
			err = e
		}
	}
	if a.asrSession != nil {
		if e := a.asrSession.Close(); e != nil {
			err = e
		}
	}
	return err
}
