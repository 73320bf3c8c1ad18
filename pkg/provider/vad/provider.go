// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., WebRTC VAD, an energy
// gate, or a model) and surfaces it as a stateful, per-stream session. Each
// session maintains its own internal state (noise floor, hangover counters) so
// that multiple audio streams can be classified independently.
//
// Classification is synchronous: IsSpeech returns immediately with a binary
// verdict, making it suitable for the per-frame loop of the segment recorder.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// Mode is the aggressiveness of the classifier, 0 (least aggressive, most
// frames classified as speech) to 3 (most aggressive).
type Mode int

const (
	ModeQuality Mode = iota
	ModeLowBitrate
	ModeModerate
	ModeVeryAggressive
)

// DefaultMode is the aggressiveness used when none is configured.
const DefaultMode = ModeModerate

// ErrInvalidFrameDuration is returned when a frame's length does not
// correspond to 10, 20, or 30 ms at the session's sample rate.
var ErrInvalidFrameDuration = errors.New("vad: invalid frame duration")

// SupportedSampleRates lists the rates every engine must accept.
var SupportedSampleRates = []int{8000, 16000, 32000, 48000}

// Config holds the parameters for a VAD session. The mode is fixed for the
// lifetime of the session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to IsSpeech. One of [SupportedSampleRates].
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds: 10, 20,
	// or 30. IsSpeech returns [ErrInvalidFrameDuration] for any other length.
	FrameSizeMs int

	// Mode is the classifier aggressiveness.
	Mode Mode
}

// FrameBytes returns the expected byte length of one 16-bit mono frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate reports whether c describes a session every engine can serve.
func (c Config) Validate() error {
	var errs []error
	supported := false
	for _, r := range SupportedSampleRates {
		if c.SampleRate == r {
			supported = true
			break
		}
	}
	if !supported {
		errs = append(errs, fmt.Errorf("vad: unsupported sample rate %d", c.SampleRate))
	}
	switch c.FrameSizeMs {
	case 10, 20, 30:
	default:
		errs = append(errs, fmt.Errorf("%w: %d ms", ErrInvalidFrameDuration, c.FrameSizeMs))
	}
	if c.Mode < ModeQuality || c.Mode > ModeVeryAggressive {
		errs = append(errs, fmt.Errorf("vad: mode %d out of range [0, 3]", c.Mode))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// IsSpeech classifies a single audio frame. The frame must be raw
	// little-endian 16-bit mono PCM at the SampleRate and FrameSizeMs configured
	// when the session was created.
	//
	// It is called synchronously in the recorder loop and must not block.
	IsSpeech(frame []byte) (bool, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
