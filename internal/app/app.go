// Package app wires all tara subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the capture, recording,
// keyword and dialogue pipeline around the injected providers, Run executes
// the conversation worker next to the optional side server, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithExchanger, WithMetrics, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/tara/internal/config"
	"github.com/MrWong99/tara/internal/conversation"
	"github.com/MrWong99/tara/internal/dialogue"
	"github.com/MrWong99/tara/internal/health"
	"github.com/MrWong99/tara/internal/journal"
	"github.com/MrWong99/tara/internal/keyword"
	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/internal/segment"
	"github.com/MrWong99/tara/internal/status"
	"github.com/MrWong99/tara/pkg/audio"
	"github.com/MrWong99/tara/pkg/denoise"
	"github.com/MrWong99/tara/pkg/provider/stt"
	"github.com/MrWong99/tara/pkg/provider/vad"
)

// serverShutdownTimeout bounds the side server's graceful shutdown.
const serverShutdownTimeout = 5 * time.Second

// AudioDevice opens the microphone and plays reply clips.
type AudioDevice interface {
	audio.Opener
	audio.Player
}

// Providers holds the external dependencies. Recognizer, VAD and Audio are
// required; a nil Denoiser uses the recorder's spectral gate. Populated by
// main.go via the config registry.
type Providers struct {
	Recognizer stt.Recognizer
	VAD        vad.Engine
	Audio      AudioDevice
	Denoiser   denoise.Denoiser
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics      *observe.Metrics
	exchanger    conversation.Exchanger
	emitter      status.Emitter
	pollInterval time.Duration

	notifier   *status.Notifier
	controller *conversation.Controller
	sessions   *SessionManager
	handler    http.Handler

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithExchanger injects a dialogue client instead of creating one from
// config.
func WithExchanger(e conversation.Exchanger) Option {
	return func(a *App) { a.exchanger = e }
}

// WithStatus forwards status notifications to e in addition to the app's own
// [status.Notifier].
func WithStatus(e status.Emitter) Option {
	return func(a *App) { a.emitter = e }
}

// WithPollInterval overrides how often playback completion is polled.
func WithPollInterval(d time.Duration) Option {
	return func(a *App) { a.pollInterval = d }
}

// WithCloser registers fn to run during Shutdown, after the worker stopped.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must have been
// passed through [config.ApplyDefaults].
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		notifier:  status.NewNotifier(status.DefaultBufferSize),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.Recognizer == nil || providers.VAD == nil || providers.Audio == nil {
		return nil, errors.New("app: recognizer, vad and audio providers are required")
	}

	var em status.Emitter = a.notifier
	if a.emitter != nil {
		em = status.Multi(a.notifier, a.emitter)
	}

	// ── 1. Segment recorder ──────────────────────────────────────────────
	recOpts := []segment.Option{segment.WithEmitter(em), segment.WithMetrics(a.metrics)}
	switch {
	case !cfg.DenoiseEnabled():
		recOpts = append(recOpts, segment.WithDenoiser(denoise.Passthrough{}))
	case providers.Denoiser != nil:
		recOpts = append(recOpts, segment.WithDenoiser(providers.Denoiser))
	}
	recorder := segment.New(segment.Config{
		IdleTimeout:     cfg.Segment.IdleTimeout,
		MaxDuration:     cfg.Segment.MaxDuration,
		TrailingSilence: cfg.Segment.TrailingSilence,
		MinDuration:     cfg.Segment.MinDuration,
		OutputPath:      cfg.Artifacts.Recorded,
		Noise: segment.NoiseConfig{
			MildBelow:          cfg.Noise.MildBelow,
			MediumBelow:        cfg.Noise.MediumBelow,
			MildStrength:       cfg.Noise.Strengths.Mild,
			MediumStrength:     cfg.Noise.Strengths.Medium,
			AggressiveStrength: cfg.Noise.Strengths.Aggressive,
		},
	}, recOpts...)

	// ── 2. Keyword spotter ───────────────────────────────────────────────
	var matchOpts []keyword.Option
	if cfg.Keywords.Phonetic {
		matchOpts = append(matchOpts, keyword.WithPhonetic(cfg.Keywords.PhoneticThreshold))
	}
	matcher := keyword.NewMatcher(cfg.Keywords.Triggers, cfg.Keywords.Terminators, matchOpts...)
	spotter := keyword.NewSpotter(providers.Recognizer, matcher, keyword.WithMetrics(a.metrics))

	// ── 3. Dialogue client ───────────────────────────────────────────────
	if a.exchanger == nil {
		client, err := dialogue.New(cfg.Dialogue.BaseURL, cfg.Dialogue.APIKey,
			dialogue.WithTimeout(cfg.Dialogue.Timeout),
			dialogue.WithReplyPath(cfg.Artifacts.Response),
			dialogue.WithMetrics(a.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("app: init dialogue client: %w", err)
		}
		a.exchanger = client
	}

	// ── 4. Conversation controller ───────────────────────────────────────
	followUps := conversation.DefaultFollowUpLimit
	if cfg.Session.FollowUpLimit != nil {
		followUps = *cfg.Session.FollowUpLimit
	}
	mode := vad.DefaultMode
	if cfg.VAD.Mode != nil {
		mode = vad.Mode(*cfg.VAD.Mode)
	}
	controller, err := conversation.New(conversation.Config{
		Opener:        providers.Audio,
		VAD:           providers.VAD,
		Listener:      recorder,
		Spotter:       spotter,
		Exchanger:     a.exchanger,
		Player:        providers.Audio,
		SampleRate:    cfg.Audio.SampleRate,
		FrameMs:       cfg.Audio.FrameMs,
		VADMode:       mode,
		FollowUpLimit: followUps,
		MaxTurns:      cfg.Session.MaxTurns,
		PollInterval:  a.pollInterval,
		Status:        em,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}
	a.controller = controller

	// ── 5. Session manager + side server ─────────────────────────────────
	smCfg := SessionManagerConfig{
		Runner:       controller,
		RestartOnEnd: cfg.RestartOnEnd(),
	}
	if cfg.Artifacts.Journal != "" {
		smCfg.Journal = journal.NewFileStore(cfg.Artifacts.Journal)
	}
	a.sessions = NewSessionManager(smCfg)
	a.handler = a.buildHandler()

	return a, nil
}

func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{health.Running("worker", a.sessions.IsActive)}
	if avail, ok := a.providers.Recognizer.(health.Availability); ok {
		checkers = append(checkers, health.Available("recognizer", avail))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /status", a.serveStatus)
	return observe.Middleware(a.metrics)(mux)
}

// statusView is the JSON body of GET /status.
type statusView struct {
	State   string      `json:"state"`
	Active  bool        `json:"active"`
	Session SessionInfo `json:"session"`
	Last    *eventView  `json:"last_event,omitempty"`
	Dropped int64       `json:"dropped_events"`
}

type eventView struct {
	Message string    `json:"message"`
	Tag     string    `json:"tag"`
	Time    time.Time `json:"time"`
}

func (a *App) serveStatus(w http.ResponseWriter, _ *http.Request) {
	v := statusView{
		State:   a.controller.State().String(),
		Active:  a.sessions.IsActive(),
		Session: a.sessions.Info(),
		Dropped: a.notifier.Dropped(),
	}
	if ev, ok := a.notifier.Latest(); ok {
		v.Last = &eventView{Message: ev.Message, Tag: string(ev.Tag), Time: ev.Time}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode status", "err", err)
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the side server's handler: /healthz, /readyz, /metrics and
// /status.
func (a *App) Handler() http.Handler { return a.handler }

// Notifier returns the status notifier the presentation layer drains.
func (a *App) Notifier() *status.Notifier { return a.notifier }

// Sessions returns the worker's session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Addr returns the side server's listen address once it is serving, or nil.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the conversation worker and, when server.listen_addr is set,
// the side server. It blocks until the worker exits, then shuts the server
// down. The returned error is the worker's device failure, a server failure,
// or nil.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.sessions.Start(ctx); err != nil {
		return err
	}
	done := a.sessions.Done()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-done:
		case <-gctx.Done():
		}
		cancel()
		<-done
		return a.sessions.Err()
	})
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		g.Go(func() error { return a.serve(gctx, addr) })
	}
	return g.Wait()
}

func (a *App) serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", addr, err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("side server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// Stop asks the worker to finish. The current frame is the last one read; a
// dialogue request in flight completes first. Run returns once the worker
// exited.
func (a *App) Stop(ctx context.Context) error {
	err := a.sessions.Stop(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the worker and runs the registered closers in order. It
// respects the context deadline: if ctx expires, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.Stop(ctx); err != nil {
			slog.Warn("stop worker", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
