// Package conversation drives the voice session: it listens for utterances,
// classifies them, and exchanges them with the dialogue service according to
// a small state machine.
//
// A [Controller] owns the frame source, the voice activity session and the
// [SessionContext] for the lifetime of one [Controller.Run]. It runs on a
// single goroutine; the only way to reach it from outside is cancelling the
// context passed to Run.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/MrWong99/tara/internal/dialogue"
	"github.com/MrWong99/tara/internal/keyword"
	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/internal/segment"
	"github.com/MrWong99/tara/internal/status"
	"github.com/MrWong99/tara/pkg/audio"
	"github.com/MrWong99/tara/pkg/provider/vad"
)

// Defaults for [Config].
const (
	DefaultFollowUpLimit = 3
	DefaultPollInterval  = 100 * time.Millisecond
)

// SessionContext is the pair of identifiers the dialogue service assigns.
type SessionContext = dialogue.SessionContext

// Outcome is why [Controller.Run] returned.
type Outcome int

const (
	// OutcomeTerminated means a terminator phrase or an exhausted follow-up
	// budget ended the session.
	OutcomeTerminated Outcome = iota

	// OutcomeStopped means the run context was cancelled.
	OutcomeStopped

	// OutcomeDeviceFailure means the audio device could not be opened or
	// stopped delivering frames.
	OutcomeDeviceFailure

	// OutcomeTurnLimit means the configured number of listening cycles ran.
	OutcomeTurnLimit
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeTerminated:
		return "terminated"
	case OutcomeStopped:
		return "stopped"
	case OutcomeDeviceFailure:
		return "device_failure"
	case OutcomeTurnLimit:
		return "turn_limit"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Listener runs one listening attempt. [*segment.Recorder] implements it.
type Listener interface {
	Listen(ctx context.Context, src audio.FrameSource, classifier vad.SessionHandle) (segment.Result, error)
}

// Spotter classifies a recorded segment. [*keyword.Spotter] implements it.
type Spotter interface {
	Spot(ctx context.Context, audioPath string) keyword.Result
}

// Exchanger talks to the dialogue service. [*dialogue.Client] implements it.
type Exchanger interface {
	Exchange(ctx context.Context, audioWAV []byte, sc SessionContext) (dialogue.Reply, error)
}

// Config wires a [Controller]. Opener, VAD, Listener, Spotter, Exchanger and
// Player are required.
type Config struct {
	Opener    audio.Opener
	VAD       vad.Engine
	Listener  Listener
	Spotter   Spotter
	Exchanger Exchanger
	Player    audio.Player

	// SampleRate and FrameMs describe the capture format. Zero values take
	// [audio.DefaultSampleRate] and [audio.DefaultFrameMs].
	SampleRate int
	FrameMs    int

	// VADMode is the classifier aggressiveness.
	VADMode vad.Mode

	// FollowUpLimit bounds consecutive follow-ups caused by idle timeouts
	// while active. Zero means unlimited; negative takes
	// [DefaultFollowUpLimit].
	FollowUpLimit int

	// MaxTurns bounds the number of listening cycles. Zero means unlimited.
	MaxTurns int

	// PollInterval is how often playback is polled for completion.
	// Default: 100ms.
	PollInterval time.Duration

	// Status receives progress notifications. May be nil.
	Status status.Emitter

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller runs conversations. Create one with [New].
type Controller struct {
	cfg     Config
	status  status.Emitter
	metrics *observe.Metrics

	current atomic.Int32
}

// New validates cfg and returns a Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Opener == nil {
		errs = append(errs, errors.New("opener is required"))
	}
	if cfg.VAD == nil {
		errs = append(errs, errors.New("vad engine is required"))
	}
	if cfg.Listener == nil {
		errs = append(errs, errors.New("listener is required"))
	}
	if cfg.Spotter == nil {
		errs = append(errs, errors.New("spotter is required"))
	}
	if cfg.Exchanger == nil {
		errs = append(errs, errors.New("exchanger is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.FrameMs == 0 {
		cfg.FrameMs = audio.DefaultFrameMs
	}
	if cfg.FollowUpLimit < 0 {
		cfg.FollowUpLimit = DefaultFollowUpLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	c := &Controller{cfg: cfg, status: cfg.Status, metrics: cfg.Metrics}
	if c.status == nil {
		c.status = status.Discard
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// State returns the state of the current or last run. Safe to call from any
// goroutine.
func (c *Controller) State() State { return State(c.current.Load()) }

// run holds the per-Run state owned by the worker goroutine.
type run struct {
	*Controller
	src       audio.FrameSource
	session   SessionContext
	state     State
	followUps int
}

// Run opens the audio device and runs one conversation until it ends.
//
// Cancelling ctx stops the run with [OutcomeStopped] and a nil error; a
// dialogue call already in flight completes first. A device failure returns
// [OutcomeDeviceFailure] with an error wrapping [audio.ErrDevice]. The frame
// source and classifier session are closed before Run returns.
func (c *Controller) Run(ctx context.Context) (Outcome, error) {
	c.setState(StateDormant)

	src, err := c.cfg.Opener.Open(c.cfg.SampleRate, c.cfg.FrameMs)
	if err != nil {
		return c.deviceFailure(fmt.Errorf("conversation: open audio: %w", asDeviceError(err)))
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("conversation: close audio source", "err", err)
		}
	}()

	classifier, err := c.cfg.VAD.NewSession(vad.Config{
		SampleRate:  c.cfg.SampleRate,
		FrameSizeMs: c.cfg.FrameMs,
		Mode:        c.cfg.VADMode,
	})
	if err != nil {
		return c.deviceFailure(fmt.Errorf("conversation: vad session: %w", asDeviceError(err)))
	}
	defer func() {
		if err := classifier.Close(); err != nil {
			slog.Warn("conversation: close vad session", "err", err)
		}
	}()

	r := &run{Controller: c, src: src, state: StateDormant}
	defer r.leave()

	slog.Info("conversation: started", "follow_up_limit", c.cfg.FollowUpLimit, "max_turns", c.cfg.MaxTurns)
	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			return r.stop()
		}
		if c.cfg.MaxTurns > 0 && turn >= c.cfg.MaxTurns {
			slog.Info("conversation: turn limit reached", "turns", turn)
			return OutcomeTurnLimit, nil
		}

		c.status.Emit(status.MsgListening, status.TagListening)
		res, err := c.cfg.Listener.Listen(ctx, src, classifier)
		if err != nil {
			if ctx.Err() != nil {
				return r.stop()
			}
			if errors.Is(err, audio.ErrDevice) {
				return c.deviceFailure(err)
			}
			slog.Warn("conversation: listening attempt failed", "err", err)
			c.status.Emit(err.Error(), status.TagError)
			res = segment.Result{Outcome: segment.OutcomeNoAudio}
		}

		in := Input{Outcome: res.Outcome}
		if res.Outcome == segment.OutcomeSegment {
			r.followUps = 0
			c.status.Emit(status.MsgProcessing, status.TagProcessing)
			kr := c.cfg.Spotter.Spot(ctx, res.Path)
			in.Verdict = kr.Verdict
		}
		// A stop that arrived while recognizing must not start a new call.
		if ctx.Err() != nil {
			return r.stop()
		}
		if res.Outcome == segment.OutcomeTimedOut {
			in.FollowUpsExhausted = c.cfg.FollowUpLimit > 0 && r.followUps >= c.cfg.FollowUpLimit
		}

		action, next := Transition(r.state, in)
		slog.Debug("conversation: cycle",
			"state", r.state,
			"outcome", res.Outcome,
			"verdict", in.Verdict,
			"action", action,
			"next", next,
		)
		r.apply(ctx, action, res)
		r.moveTo(ctx, next)

		if r.state == StateTerminated {
			return OutcomeTerminated, nil
		}
		if r.state == StateTriggered {
			r.moveTo(ctx, StateActive)
		}
	}
}

func (r *run) apply(ctx context.Context, action Action, res segment.Result) {
	switch action {
	case ActionActivate:
		r.status.Emit(status.MsgActive, status.TagActive)
	case ActionDiscard:
		r.status.Emit(status.MsgWaiting, status.TagListening)
	case ActionEnd:
		r.status.Emit(status.MsgEnded, status.TagListening)
	case ActionSend:
		wav, err := os.ReadFile(res.Path)
		if err != nil {
			slog.Warn("conversation: read segment", "path", res.Path, "err", err)
			r.status.Emit(status.MsgNoResponse, status.TagError)
			return
		}
		r.exchange(ctx, wav)
	case ActionFollowUp:
		r.followUps++
		r.status.Emit(status.MsgFollowUp, status.TagProcessing)
		r.exchange(ctx, nil)
	}
}

// exchange calls the dialogue service and plays the reply. Failures keep the
// session context.
func (r *run) exchange(ctx context.Context, wav []byte) {
	reply, err := r.cfg.Exchanger.Exchange(ctx, wav, r.session)
	if err != nil {
		r.status.Emit(status.MsgNoResponse, status.TagError)
		return
	}
	r.session = reply.Session
	if reply.AudioPath == "" {
		return
	}
	r.play(ctx, reply.AudioPath)
}

// play loads and plays path, polling until it finishes or ctx is cancelled.
func (r *run) play(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	pb, err := r.cfg.Player.Load(path)
	if err != nil {
		slog.Warn("conversation: load reply audio", "path", path, "err", err)
		return
	}
	r.status.Emit(status.MsgSpeaking, status.TagSpeaking)
	if err := pb.Play(); err != nil {
		slog.Warn("conversation: play reply audio", "err", err)
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for pb.Playing() {
		select {
		case <-ctx.Done():
			pb.Stop()
			return
		case <-ticker.C:
		}
	}
}

func (r *run) moveTo(ctx context.Context, next State) {
	prev := r.state
	if prev == next {
		return
	}
	r.state = next
	r.setState(next)
	r.metrics.RecordTransition(ctx, prev.String(), next.String())
	if isActive(next) && !isActive(prev) {
		r.metrics.ActiveSessions.Add(ctx, 1)
	}
	if isActive(prev) && !isActive(next) {
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	slog.Info("conversation: state changed", "from", prev, "to", next)
}

// leave releases the active-session gauge when a run ends while active.
func (r *run) leave() {
	if isActive(r.state) {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

func (r *run) stop() (Outcome, error) {
	slog.Info("conversation: stopped", "state", r.state)
	return OutcomeStopped, nil
}

func (c *Controller) deviceFailure(err error) (Outcome, error) {
	slog.Error("conversation: audio device failed", "err", err)
	c.status.Emit(status.MsgDeviceFailed, status.TagError)
	return OutcomeDeviceFailure, err
}

func (c *Controller) setState(s State) { c.current.Store(int32(s)) }

func isActive(s State) bool { return s == StateTriggered || s == StateActive }

func asDeviceError(err error) error {
	if errors.Is(err, audio.ErrDevice) {
		return err
	}
	return fmt.Errorf("%w: %w", audio.ErrDevice, err)
}
