// Package opus wraps a single Opus codec instance for the gateway's realtime
// audio path: client frames arrive and leave the wire Opus-encoded (§6), but
// every downstream module — VAD, ASR, TTS — operates on raw 16-bit
// little-endian PCM, so every connection needs one decoder for inbound audio
// and one encoder for outbound speech.
package opus

import (
	"fmt"

	"layeh.com/gopus"
)

// The gateway negotiates 16 kHz mono audio at a 60 ms frame size (§4.5),
// distinct from Discord's 48 kHz stereo 20 ms frames but the same codec.
const (
	SampleRate    = 16000
	Channels      = 1
	FrameSizeMs   = 60
	FrameSize     = SampleRate * FrameSizeMs / 1000 // 960 samples/frame
	maxPacketSize = 4000
)

// Decoder decodes inbound Opus packets from one connection into PCM. Each
// connection owns its own Decoder so internal Opus state (history buffers)
// tracks that stream alone.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a Decoder configured for the gateway's negotiated audio
// parameters.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode converts one Opus packet into interleaved 16-bit little-endian PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Encoder encodes outbound PCM speech from one connection into Opus.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates an Encoder configured for the gateway's negotiated
// audio parameters, tuned for speech rather than general audio.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode converts interleaved 16-bit little-endian PCM into one Opus packet.
func (e *Encoder) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	packet, err := e.enc.Encode(pcm, FrameSize, maxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return packet, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
