// Package energy provides a pure-Go [vad.Engine] that classifies frames by
// comparing their RMS energy against an adaptive noise floor.
//
// Each [vad.Mode] selects a threshold multiplier, an absolute energy floor,
// and a hangover period, in the style of the WebRTC VAD aggressiveness
// levels: higher modes need louder frames to count as speech and release
// sooner once the speaker stops.
//
// The classifier is deterministic: the same frame sequence always produces
// the same verdicts.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/tara/pkg/provider/vad"
)

const (
	// pcmMaxAmplitude normalizes 16-bit samples to [-1, 1].
	pcmMaxAmplitude = 32768.0

	// quietAlpha is the per-10ms smoothing factor used to track the noise floor
	// while the frame is not speech.
	quietAlpha = 0.05

	// speechAlpha lets the floor creep up during speech so a sustained level
	// change in the background is eventually absorbed.
	speechAlpha = 0.0002
)

// params are the per-mode tuning values.
type params struct {
	ratio      float64 // speech when rms > floor*ratio
	minRMS     float64 // and rms > minRMS
	hangoverMs int
}

var modeParams = [...]params{
	vad.ModeQuality:        {ratio: 2.0, minRMS: 0.003, hangoverMs: 200},
	vad.ModeLowBitrate:     {ratio: 2.5, minRMS: 0.004, hangoverMs: 150},
	vad.ModeModerate:       {ratio: 3.0, minRMS: 0.005, hangoverMs: 100},
	vad.ModeVeryAggressive: {ratio: 4.0, minRMS: 0.008, hangoverMs: 50},
}

// Engine creates energy-based VAD sessions. The zero value is ready for use.
type Engine struct{}

// New returns an energy [Engine].
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("energy: %w", err)
	}
	p := modeParams[cfg.Mode]
	steps := float64(cfg.FrameSizeMs) / 10
	return &Session{
		frameBytes:  cfg.FrameBytes(),
		p:           p,
		hangover:    p.hangoverMs / cfg.FrameSizeMs,
		quietAlpha:  1 - math.Pow(1-quietAlpha, steps),
		speechAlpha: 1 - math.Pow(1-speechAlpha, steps),
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is a single-stream energy classifier. It is safe for concurrent use,
// although frames from different goroutines interleave in one noise estimate.
type Session struct {
	mu sync.Mutex

	frameBytes  int
	p           params
	hangover    int
	quietAlpha  float64
	speechAlpha float64

	floor    float64
	primed   bool
	hangLeft int
	closed   bool
}

// IsSpeech implements [vad.SessionHandle].
func (s *Session) IsSpeech(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return false, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrInvalidFrameDuration, len(frame), s.frameBytes)
	}

	rms := frameRMS(frame)
	if !s.primed {
		// Seed from the first frame, capped so a stream that opens on speech
		// still detects it.
		s.floor = min(rms, s.p.minRMS)
		s.primed = true
	}
	raw := rms > s.p.minRMS && rms > s.floor*s.p.ratio

	if raw {
		s.floor += s.speechAlpha * (rms - s.floor)
		s.hangLeft = s.hangover
		return true, nil
	}
	s.floor += s.quietAlpha * (rms - s.floor)
	if s.hangLeft > 0 {
		s.hangLeft--
		return true, nil
	}
	return false, nil
}

// NoiseFloor returns the current background energy estimate.
func (s *Session) NoiseFloor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floor
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floor = 0
	s.primed = false
	s.hangLeft = 0
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*Session)(nil)

func frameRMS(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i*2:]))) / pcmMaxAmplitude
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
