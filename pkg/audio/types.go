// Package audio defines the frame, capture, and playback abstractions shared
// by the tara voice pipeline.
//
// The two device-facing abstractions are:
//
//   - [FrameSource]: a blocking, pull-based stream of fixed-duration PCM
//     frames obtained from an [Opener].
//   - [Player]: loads an audio artifact from disk and returns a [Playback]
//     that can be polled until it finishes.
//
// Device implementations live in adapter packages (e.g., audio/portaudio).
// This package lives under pkg/ because external code is expected to
// implement [Opener] and [Player] for other audio backends.
package audio

import (
	"context"
	"errors"
	"time"
)

// BytesPerSample is fixed at 2: all pipeline audio is signed 16-bit
// little-endian PCM.
const BytesPerSample = 2

// DefaultSampleRate is the session sample rate used when none is configured.
const DefaultSampleRate = 16000

// DefaultFrameMs is the default frame duration in milliseconds.
const DefaultFrameMs = 10

var (
	// ErrInvalidFrameDuration is returned when a frame duration other than
	// 10, 20, or 30 ms is requested.
	ErrInvalidFrameDuration = errors.New("audio: frame duration must be 10, 20, or 30 ms")

	// ErrDevice marks unrecoverable capture or playback device failures.
	// Wrap it so callers can use errors.Is.
	ErrDevice = errors.New("audio: device failure")

	// ErrClosed is returned by ReadFrame after Close.
	ErrClosed = errors.New("audio: source closed")

	// ErrInvalidSampleRate is returned for frames that carry no usable
	// sample rate.
	ErrInvalidSampleRate = errors.New("audio: frame sample rate must be positive")
)

// Frame is a single fixed-duration slice of mono PCM audio. Frames are the
// atomic unit of capture and voice activity classification. A Frame must not
// be mutated after its source produced it.
type Frame struct {
	// Data is signed 16-bit little-endian mono PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Timestamp is the stream time at which the frame starts, measured from
	// the moment the source was opened.
	Timestamp time.Duration
}

// Samples returns the number of PCM samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / BytesPerSample }

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// End returns the stream time immediately after the frame.
func (f Frame) End() time.Duration { return f.Timestamp + f.Duration() }

// ClassifiedFrame pairs a frame with its voice activity verdict. It is
// produced once per frame and never mutated.
type ClassifiedFrame struct {
	Frame
	IsSpeech bool
}

// ValidFrameDuration reports whether ms is a frame duration accepted by
// WebRTC-style voice activity detectors.
func ValidFrameDuration(ms int) bool {
	return ms == 10 || ms == 20 || ms == 30
}

// SamplesPerFrame returns the number of samples in a frame of frameMs at
// sampleRate.
func SamplesPerFrame(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}

// FrameSource yields fixed-duration frames from a live input stream.
//
// ReadFrame blocks until one frame is available. Device errors are returned
// wrapped with [ErrDevice]. After Close, ReadFrame returns [ErrClosed].
// Close is idempotent.
type FrameSource interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

// Opener opens frame sources on a capture device.
type Opener interface {
	// Open starts capturing at sampleRate with frames of frameMs. frameMs must
	// satisfy [ValidFrameDuration]; otherwise [ErrInvalidFrameDuration] is
	// returned.
	Open(sampleRate, frameMs int) (FrameSource, error)
}

// Playback is a loaded, playable audio clip.
type Playback interface {
	// Play starts playback and returns immediately.
	Play() error

	// Playing reports whether playback is still in progress.
	Playing() bool

	// Stop halts playback. Calling Stop on a finished playback is a no-op.
	Stop()
}

// Player loads audio artifacts for playback.
type Player interface {
	// Load reads the file at path. A missing or undecodable file returns an
	// error; callers treat that as a skipped playback.
	Load(path string) (Playback, error)
}
