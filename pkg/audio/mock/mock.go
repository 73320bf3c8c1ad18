// Package mock provides in-memory implementations of the [audio.Opener],
// [audio.FrameSource], [audio.Player], and [audio.Playback] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can
// assert on counts and arguments, and expose exported fields that control
// return values.
//
// Typical usage:
//
//	src := mock.NewSource(16000, 10)
//	src.AppendSpeech(3 * time.Second)
//	src.AppendSilence(2 * time.Second)
//	opener := &mock.Opener{Source: src}
package mock

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/tara/pkg/audio"
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a scripted [audio.FrameSource]. Frames are appended with the
// Append* helpers and served in order with consecutive timestamps. When the
// script is exhausted, ReadFrame keeps returning silent frames unless
// ExhaustedErr is set.
type Source struct {
	mu sync.Mutex

	sampleRate int
	frameMs    int
	frames     [][]byte
	next       int
	closed     bool

	// ExhaustedErr, if non-nil, is returned once all scripted frames have
	// been served.
	ExhaustedErr error

	// ReadErr, if non-nil, is returned by every ReadFrame call.
	ReadErr error

	// OnRead, if non-nil, is called with the zero-based index of every frame
	// before it is returned. Tests use it to cancel a context mid-stream.
	OnRead func(index int)

	// CallCountRead is the number of ReadFrame calls.
	CallCountRead int

	// CallCountClose is the number of Close calls.
	CallCountClose int
}

// NewSource returns an empty scripted source producing frames of frameMs at
// sampleRate.
func NewSource(sampleRate, frameMs int) *Source {
	return &Source{sampleRate: sampleRate, frameMs: frameMs}
}

// FrameBytes returns the byte length of one frame.
func (s *Source) FrameBytes() int {
	return audio.SamplesPerFrame(s.sampleRate, s.frameMs) * audio.BytesPerSample
}

// AppendTone appends d of a sine tone whose normalised RMS equals rms.
func (s *Source) AppendTone(d time.Duration, rms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.framesFor(d)
	spf := audio.SamplesPerFrame(s.sampleRate, s.frameMs)
	amp := rms * math.Sqrt2 * 32768
	base := len(s.frames) * spf
	for i := range n {
		buf := make([]byte, spf*audio.BytesPerSample)
		for j := range spf {
			v := int16(amp * math.Sin(2*math.Pi*440*float64(base+i*spf+j)/float64(s.sampleRate)))
			binary.LittleEndian.PutUint16(buf[j*2:], uint16(v))
		}
		s.frames = append(s.frames, buf)
	}
}

// AppendSpeech appends d of a loud tone (RMS 0.2).
func (s *Source) AppendSpeech(d time.Duration) { s.AppendTone(d, 0.2) }

// AppendSilence appends d of digital silence.
func (s *Source) AppendSilence(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range s.framesFor(d) {
		s.frames = append(s.frames, make([]byte, s.FrameBytes()))
	}
}

// framesFor must be called with s.mu held.
func (s *Source) framesFor(d time.Duration) int {
	return int(d / (time.Duration(s.frameMs) * time.Millisecond))
}

// Served returns the number of frames returned so far.
func (s *Source) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ReadFrame implements [audio.FrameSource].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountRead++
	if s.closed {
		s.mu.Unlock()
		return audio.Frame{}, audio.ErrClosed
	}
	if s.ReadErr != nil {
		err := s.ReadErr
		s.mu.Unlock()
		return audio.Frame{}, err
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return audio.Frame{}, err
	}
	idx := s.next
	var data []byte
	if idx < len(s.frames) {
		data = s.frames[idx]
	} else {
		if s.ExhaustedErr != nil {
			err := s.ExhaustedErr
			s.mu.Unlock()
			return audio.Frame{}, err
		}
		data = make([]byte, s.FrameBytes())
	}
	s.next++
	onRead := s.OnRead
	frame := audio.Frame{
		Data:       data,
		SampleRate: s.sampleRate,
		Timestamp:  time.Duration(idx) * time.Duration(s.frameMs) * time.Millisecond,
	}
	s.mu.Unlock()

	if onRead != nil {
		onRead(idx)
	}
	return frame, nil
}

// Close implements [audio.FrameSource].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

var _ audio.FrameSource = (*Source)(nil)

// ─── Opener ──────────────────────────────────────────────────────────────────

// OpenCall records a single invocation of Opener.Open.
type OpenCall struct {
	SampleRate int
	FrameMs    int
}

// Opener is a mock [audio.Opener] returning Source.
type Opener struct {
	mu sync.Mutex

	// Source is returned by Open.
	Source audio.FrameSource

	// NewSource, if non-nil, is called on every Open instead of returning
	// Source. Use it when the code under test closes and reopens the device.
	NewSource func() audio.FrameSource

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records every Open call in order.
	OpenCalls []OpenCall
}

// Open implements [audio.Opener].
func (o *Opener) Open(sampleRate, frameMs int) (audio.FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenCalls = append(o.OpenCalls, OpenCall{SampleRate: sampleRate, FrameMs: frameMs})
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if !audio.ValidFrameDuration(frameMs) {
		return nil, audio.ErrInvalidFrameDuration
	}
	if o.NewSource != nil {
		return o.NewSource(), nil
	}
	return o.Source, nil
}

var _ audio.Opener = (*Opener)(nil)

// ─── Player ──────────────────────────────────────────────────────────────────

// Player is a mock [audio.Player]. Load validates that the file exists and
// decodes as WAV unless SkipDecode is set.
type Player struct {
	mu sync.Mutex

	// LoadErr, if non-nil, is returned by every Load call.
	LoadErr error

	// PlayFor is how many Playing polls report true before the clip ends.
	PlayFor int

	// SkipDecode disables WAV validation in Load.
	SkipDecode bool

	// Loaded records every successfully loaded path.
	Loaded []string

	// Playbacks holds every Playback returned by Load, in order.
	Playbacks []*Playback
}

// Load implements [audio.Player].
func (p *Player) Load(path string) (audio.Playback, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	if !p.SkipDecode {
		if _, err := audio.ReadWAVFile(path); err != nil {
			return nil, err
		}
	}
	p.Loaded = append(p.Loaded, path)
	pb := &Playback{remaining: p.PlayFor}
	p.Playbacks = append(p.Playbacks, pb)
	return pb, nil
}

// LoadCount returns the number of successful Load calls.
func (p *Player) LoadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Loaded)
}

var _ audio.Player = (*Player)(nil)

// errAlreadyPlaying is returned when Play is called twice.
var errAlreadyPlaying = errors.New("mock: already playing")

// Playback is a mock [audio.Playback] that reports Playing for a fixed number
// of polls.
type Playback struct {
	mu        sync.Mutex
	remaining int
	started   bool

	// CallCountPlay is the number of Play calls.
	CallCountPlay int

	// CallCountStop is the number of Stop calls.
	CallCountStop int
}

// Play implements [audio.Playback].
func (pb *Playback) Play() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.CallCountPlay++
	if pb.started {
		return errAlreadyPlaying
	}
	pb.started = true
	return nil
}

// Playing implements [audio.Playback].
func (pb *Playback) Playing() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if !pb.started || pb.remaining <= 0 {
		return false
	}
	pb.remaining--
	return true
}

// Stop implements [audio.Playback].
func (pb *Playback) Stop() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.CallCountStop++
	pb.remaining = 0
}

var _ audio.Playback = (*Playback)(nil)
