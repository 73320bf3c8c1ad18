//go:build portaudio

package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/tara/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// outputFramesPerBuffer is 40 ms at 24 kHz; small enough that Stop is
// responsive at any common rate.
const outputFramesPerBuffer = 960

// System owns the PortAudio library lifetime and hands out microphone streams
// and playback handles.
type System struct {
	mu     sync.Mutex
	closed bool
}

// NewSystem initialises PortAudio. Call Close when done.
func NewSystem() (*System, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &System{}, nil
}

// Close terminates PortAudio. Streams still open become unusable.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return portaudio.Terminate()
}

// Open implements [audio.Opener] by opening the default input device as a
// mono 16-bit stream.
func (s *System) Open(sampleRate, frameMs int) (audio.FrameSource, error) {
	if !audio.ValidFrameDuration(frameMs) {
		return nil, audio.ErrInvalidFrameDuration
	}
	buf := make([]int16, audio.SamplesPerFrame(sampleRate, frameMs))
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w: %w", audio.ErrDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w: %w", audio.ErrDevice, err)
	}
	slog.Debug("portaudio: microphone opened", "sample_rate", sampleRate, "frame_ms", frameMs)
	return &microphone{stream: stream, buf: buf, sampleRate: sampleRate}, nil
}

// Load implements [audio.Player]. The whole clip is decoded up front so a
// malformed file fails here rather than mid-playback.
func (s *System) Load(path string) (audio.Playback, error) {
	w, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	return &clip{samples: audio.Int16s(w.Mono()), sampleRate: w.SampleRate, stop: make(chan struct{})}, nil
}

var (
	_ audio.Opener = (*System)(nil)
	_ audio.Player = (*System)(nil)
)

// ─── microphone ──────────────────────────────────────────────────────────────

type microphone struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	buf        []int16
	sampleRate int
	frames     int64
	overflows  int64
}

func (m *microphone) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return audio.Frame{}, audio.ErrClosed
	}

	if err := m.stream.Read(); err != nil {
		// Overflow means samples were lost upstream; the buffer still holds a
		// full frame, so keep going.
		if !errors.Is(err, portaudio.InputOverflowed) {
			return audio.Frame{}, fmt.Errorf("portaudio: read: %w: %w", audio.ErrDevice, err)
		}
		m.overflows++
		if m.overflows == 1 || m.overflows%100 == 0 {
			slog.Warn("portaudio: input overflowed", "count", m.overflows)
		}
	}

	f := audio.Frame{
		Data:       audio.PCMBytes(m.buf),
		SampleRate: m.sampleRate,
		Timestamp:  time.Duration(m.frames) * time.Duration(len(m.buf)) * time.Second / time.Duration(m.sampleRate),
	}
	m.frames++
	return f, nil
}

func (m *microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	_ = m.stream.Stop()
	err := m.stream.Close()
	m.stream = nil
	return err
}

// ─── speaker ─────────────────────────────────────────────────────────────────

type clip struct {
	samples    []int16
	sampleRate int

	playing atomic.Bool
	stop    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func (c *clip) Play() error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("portaudio: clip already started")
	}
	out := make([]int16, outputFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(c.sampleRate), len(out), out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	c.playing.Store(true)
	go c.loop(stream, out)
	return nil
}

func (c *clip) loop(stream *portaudio.Stream, out []int16) {
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
		c.playing.Store(false)
	}()
	for off := 0; off < len(c.samples); off += len(out) {
		select {
		case <-c.stop:
			return
		default:
		}
		n := copy(out, c.samples[off:])
		clear(out[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Warn("portaudio: write failed", "err", err)
			return
		}
	}
}

func (c *clip) Playing() bool { return c.playing.Load() }

func (c *clip) Stop() {
	c.once.Do(func() { close(c.stop) })
}
