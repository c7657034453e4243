// Package energy provides a dependency-free VAD engine based on short-term
// RMS energy thresholding. It exists as the built-in fallback: none of the
// real-time VAD libraries surveyed for this module turned out to have a
// working Go binding, so energy-based gating is what ships when no external
// VAD provider is configured.
//
// It is not a substitute for a model-based detector — it cannot distinguish
// speech from steady background noise louder than SilenceThreshold — but it
// is enough to gate ASR input in quiet-to-moderate environments and is
// trivially portable since it only reads the raw PCM16 frame.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cnwinds/chatflow-nexus/pkg/provider/vad"
	"github.com/cnwinds/chatflow-nexus/pkg/types"
)

// Engine is a vad.Engine backed by RMS energy thresholding.
type Engine struct{}

// New creates an energy-based VAD engine.
func New() *Engine { return &Engine{} }

var _ vad.Engine = (*Engine)(nil)

// NewSession validates cfg and returns a new per-stream energy session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: frame size must be positive, got %d", cfg.FrameSizeMs)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %.3f must be <= speech threshold %.3f", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &session{cfg: cfg}, nil
}

// session tracks whether the stream was speaking on the previous frame, so
// ProcessFrame can emit edge events (SpeechStart/SpeechEnd) instead of just
// the per-frame classification.
type session struct {
	mu       sync.Mutex
	cfg      vad.Config
	speaking bool
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame computes the RMS of frame (interpreted as little-endian
// PCM16 mono) normalised to [0,1] and compares it against the session's
// thresholds to emit a speech/silence transition.
func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.VADEvent{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) < 2 {
		return types.VADEvent{}, fmt.Errorf("energy: frame too short: %d bytes", len(frame))
	}

	prob := rmsProbability(frame)
	var evt types.VADEventType
	switch {
	case !s.speaking && prob >= s.cfg.SpeechThreshold:
		s.speaking = true
		evt = types.VADSpeechStart
	case s.speaking && prob < s.cfg.SilenceThreshold:
		s.speaking = false
		evt = types.VADSpeechEnd
	case s.speaking:
		evt = types.VADSpeechContinue
	default:
		evt = types.VADSilence
	}
	return types.VADEvent{Type: evt, Probability: prob}, nil
}

// Reset clears the speaking/silence edge state without releasing resources.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

// Close marks the session as no longer usable. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// rmsProbability computes the root-mean-square amplitude of a little-endian
// PCM16 frame, normalised against the maximum possible amplitude so the
// result falls in [0,1] and can be compared directly against the
// [0,1]-scaled thresholds in vad.Config.
func rmsProbability(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		v := float64(s)
		sumSq += v * v
	}
	rms := math.Sqrt(sumSq / float64(n))
	prob := rms / 32768.0
	if prob > 1 {
		prob = 1
	}
	return prob
}
