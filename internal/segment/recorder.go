// Package segment turns a stream of classified audio frames into finished
// speech segments.
//
// A [Recorder] runs one listening attempt at a time: it waits for speech,
// buffers the utterance until trailing silence or a hard length cutoff, then
// profiles the background noise, denoises the segment at a tier-specific
// strength, and writes it as a mono WAV artifact for the recognizer.
//
// Time is measured on the stream clock (frame timestamp plus frame
// duration), never the wall clock, so a scripted source replays identically.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/internal/status"
	"github.com/MrWong99/tara/pkg/audio"
	"github.com/MrWong99/tara/pkg/denoise"
	"github.com/MrWong99/tara/pkg/provider/vad"
)

// Default recorder timings.
const (
	DefaultIdleTimeout     = 10 * time.Second
	DefaultMaxDuration     = 5 * time.Second
	DefaultTrailingSilence = 1 * time.Second
	DefaultMinDuration     = 2 * time.Second

	// DefaultOutputPath is the artifact written for every kept segment.
	DefaultOutputPath = "recorded_audio.wav"
)

// Outcome is how a listening attempt ended.
type Outcome int

const (
	// OutcomeSegment means a segment was finalized and written to Result.Path.
	OutcomeSegment Outcome = iota

	// OutcomeNoAudio means speech started but the segment was shorter than
	// the minimum duration and was discarded.
	OutcomeNoAudio

	// OutcomeTimedOut means no speech was heard within the idle timeout.
	OutcomeTimedOut
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case OutcomeSegment:
		return "segment"
	case OutcomeNoAudio:
		return "discarded"
	case OutcomeTimedOut:
		return "timeout"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes one listening attempt.
type Result struct {
	Outcome Outcome

	// The fields below are set only for OutcomeSegment.

	// Path is the written WAV artifact.
	Path string

	// Tier and RMS are the noise profile of the segment.
	Tier NoiseTier
	RMS  float64

	// Duration is the length of the buffered audio.
	Duration time.Duration
}

// Config holds the recorder's timing and output settings. Zero durations and
// an empty path take the package defaults.
type Config struct {
	// IdleTimeout ends an attempt in which no speech starts.
	IdleTimeout time.Duration

	// MaxDuration forces finalization of a segment that runs this long.
	MaxDuration time.Duration

	// TrailingSilence ends a segment after this much non-speech.
	TrailingSilence time.Duration

	// MinDuration is the shortest segment that is kept.
	MinDuration time.Duration

	// OutputPath is where kept segments are written. Each segment replaces
	// the previous one.
	OutputPath string

	// Noise maps segment loudness to a denoise strength. The zero value uses
	// [DefaultNoiseConfig].
	Noise NoiseConfig
}

// withDefaults returns c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.TrailingSilence <= 0 {
		c.TrailingSilence = DefaultTrailingSilence
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.OutputPath == "" {
		c.OutputPath = DefaultOutputPath
	}
	if c.Noise == (NoiseConfig{}) {
		c.Noise = DefaultNoiseConfig()
	}
	return c
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithDenoiser sets the noise reducer. Defaults to [denoise.SpectralGate].
func WithDenoiser(d denoise.Denoiser) Option {
	return func(r *Recorder) { r.denoiser = d }
}

// WithEmitter sets where status notifications go. Defaults to [status.Discard].
func WithEmitter(e status.Emitter) Option {
	return func(r *Recorder) { r.status = e }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder is the segmentation state machine. It holds no per-attempt state
// between calls to [Recorder.Listen] and is not safe for concurrent Listen
// calls.
type Recorder struct {
	cfg      Config
	denoiser denoise.Denoiser
	status   status.Emitter
	metrics  *observe.Metrics
}

// New creates a Recorder.
func New(cfg Config, opts ...Option) *Recorder {
	r := &Recorder{
		cfg:      cfg.withDefaults(),
		denoiser: &denoise.SpectralGate{},
		status:   status.Discard,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Config returns the effective configuration.
func (r *Recorder) Config() Config { return r.cfg }

// Listen reads frames from src until one listening attempt completes.
//
// It returns a [Result] for the three normal endings. Cancelling ctx discards
// any in-progress buffer and returns ctx.Err(). A read failure, a frame
// without a sample rate, or a frame the classifier rejects as the wrong
// length is returned wrapped in [audio.ErrDevice]. Other classifier errors count the frame as non-speech.
func (r *Recorder) Listen(ctx context.Context, src audio.FrameSource, classifier vad.SessionHandle) (Result, error) {
	var (
		buf        []byte
		sampleRate int
		recording  bool
		haveStart  bool
		attemptAt  time.Duration
		startAt    time.Duration
		lastSpeech time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			return r.stopped(ctx, recording, err)
		}

		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.stopped(ctx, recording, ctxErr)
			}
			return Result{}, deviceError("read frame", err)
		}
		// Timing runs on frame durations, so a frame without a rate would
		// stall every timeout.
		if frame.SampleRate <= 0 {
			return Result{}, deviceError("read frame", fmt.Errorf("%w: got %d", audio.ErrInvalidSampleRate, frame.SampleRate))
		}
		if !haveStart {
			attemptAt = frame.Timestamp
			haveStart = true
		}
		now := frame.End()

		speech, err := classifier.IsSpeech(frame.Data)
		if err != nil {
			if errors.Is(err, vad.ErrInvalidFrameDuration) {
				return Result{}, deviceError("classify frame", err)
			}
			slog.Warn("segment: vad error, treating frame as silence", "err", err)
			speech = false
		}

		if !recording {
			if speech {
				recording = true
				sampleRate = frame.SampleRate
				buf = append(buf[:0], frame.Data...)
				startAt = frame.Timestamp
				lastSpeech = now
				r.status.Emit(status.MsgRecording, status.TagRecording)
				slog.Debug("segment: recording started", "at", startAt)
				continue
			}
			if now-attemptAt > r.cfg.IdleTimeout {
				slog.Debug("segment: idle timeout", "waited", now-attemptAt)
				r.metrics.RecordSegment(ctx, OutcomeTimedOut.String())
				return Result{Outcome: OutcomeTimedOut}, nil
			}
			continue
		}

		buf = append(buf, frame.Data...)
		if speech {
			lastSpeech = now
		}
		switch {
		case now-startAt > r.cfg.MaxDuration:
			slog.Debug("segment: max duration reached")
		case !speech && now-lastSpeech > r.cfg.TrailingSilence:
		default:
			continue
		}
		return r.finalize(ctx, buf, sampleRate)
	}
}

// finalize profiles, denoises, and writes a buffered segment.
func (r *Recorder) finalize(ctx context.Context, pcm []byte, sampleRate int) (Result, error) {
	samples := audio.Int16s(pcm)
	dur := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	if dur < r.cfg.MinDuration {
		slog.Info("segment: too short, discarded", "duration", dur, "min", r.cfg.MinDuration)
		r.metrics.RecordSegment(ctx, OutcomeNoAudio.String())
		return Result{Outcome: OutcomeNoAudio, Duration: dur}, nil
	}

	rms, tier := r.cfg.Noise.Profile(samples, sampleRate)
	strength := r.cfg.Noise.Strength(tier)

	cleaned, err := r.denoiser.Reduce(samples, sampleRate, strength)
	if err != nil {
		slog.Warn("segment: noise reduction failed, keeping raw audio", "err", err, "tier", tier)
		cleaned = samples
	}

	if err := audio.WriteWAVFile(r.cfg.OutputPath, audio.PCMBytes(cleaned), sampleRate); err != nil {
		return Result{}, fmt.Errorf("segment: write artifact: %w", err)
	}

	slog.Info("segment: finalized",
		"duration", dur,
		"rms", rms,
		"tier", tier,
		"strength", strength,
		"path", r.cfg.OutputPath,
	)
	r.metrics.RecordSegment(ctx, OutcomeSegment.String())
	r.metrics.RecordFinalized(ctx, dur, tier.String())

	return Result{
		Outcome:  OutcomeSegment,
		Path:     r.cfg.OutputPath,
		Tier:     tier,
		RMS:      rms,
		Duration: dur,
	}, nil
}

func (r *Recorder) stopped(ctx context.Context, recording bool, err error) (Result, error) {
	if recording {
		slog.Debug("segment: stop requested, discarding buffer")
	}
	r.metrics.RecordSegment(context.WithoutCancel(ctx), "stopped")
	return Result{}, err
}

func deviceError(action string, err error) error {
	if errors.Is(err, audio.ErrDevice) {
		return fmt.Errorf("segment: %s: %w", action, err)
	}
	return fmt.Errorf("segment: %s: %w: %w", action, audio.ErrDevice, err)
}
