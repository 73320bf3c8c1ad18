// Command tara is the voice-activated conversational front end. It listens on
// the default microphone for a trigger phrase, exchanges the following
// utterances with the dialogue service, and plays the replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/tara/internal/app"
	"github.com/MrWong99/tara/internal/config"
	"github.com/MrWong99/tara/internal/keyword"
	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/internal/status"
	"github.com/MrWong99/tara/pkg/audio/portaudio"
	"github.com/MrWong99/tara/pkg/denoise"
	"github.com/MrWong99/tara/pkg/provider/stt"
	"github.com/MrWong99/tara/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/tara/pkg/provider/stt/openai"
	"github.com/MrWong99/tara/pkg/provider/stt/whisper"
	"github.com/MrWong99/tara/pkg/provider/vad"
	"github.com/MrWong99/tara/pkg/provider/vad/energy"
)

// keywordBoost is the recognition boost applied to trigger and terminator
// phrases on backends that support it.
const keywordBoost = 2.0

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "tara: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tara: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tara: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("tara starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "tara"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Keywords)

	providers, closeAudio, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithCloser(closeAudio))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = closeAudio()
		return 1
	}

	go present(ctx, application.Notifier())

	slog.Info("ready; say a trigger phrase to start, Ctrl+C to quit", "triggers", triggers(cfg.Keywords))

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Backends that support vocabulary hints are primed with the keyword
// phrases and with the words every phrase shares, so that models which only
// boost single words still hear the assistant's name.
func registerBuiltinProviders(reg *config.Registry, kw config.KeywordsConfig) {
	phrases := slices.Concat(triggers(kw), terminators(kw))
	var boosts []stt.KeywordBoost
	for _, p := range slices.Concat(keyword.SharedWords(phrases), phrases) {
		boosts = append(boosts, stt.KeywordBoost{Keyword: p, Boost: keywordBoost})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if len(boosts) > 0 {
			opts = append(opts, deepgram.WithKeywords(boosts))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// buildProviders instantiates the recognizer chain, the VAD engine and the
// audio device. The returned closer releases the audio device.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func() error, error) {
	recognizer, err := app.BuildRecognizer(cfg.STT, reg, nil)
	if err != nil {
		return nil, nil, err
	}

	engine, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, nil, fmt.Errorf("create vad provider %q: %w", cfg.VAD.Name, err)
	}
	slog.Info("provider created", "kind", "vad", "name", cfg.VAD.Name)

	sys, err := portaudio.NewSystem()
	if err != nil {
		return nil, nil, fmt.Errorf("open audio device: %w", err)
	}
	slog.Info("audio device ready", "sample_rate", cfg.Audio.SampleRate, "frame_ms", cfg.Audio.FrameMs)

	return &app.Providers{
		Recognizer: recognizer,
		VAD:        engine,
		Audio:      sys,
		Denoiser:   &denoise.SpectralGate{},
	}, sys.Close, nil
}

// present prints status notifications for the person at the microphone.
func present(ctx context.Context, n *status.Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.Events():
			fmt.Printf("%s  [%-10s] %s\n", ev.Time.Format("15:04:05"), ev.Tag, ev.Message)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           tara: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", summarize(cfg.STT.Primary.Name, cfg.STT.Primary.Model))
	for _, fb := range cfg.STT.Fallbacks {
		printRow("STT fallback", summarize(fb.Name, fb.Model))
	}
	printRow("VAD", summarize(cfg.VAD.Name, fmt.Sprintf("mode %d", *cfg.VAD.Mode)))
	printRow("Capture", fmt.Sprintf("%d Hz / %d ms", cfg.Audio.SampleRate, cfg.Audio.FrameMs))
	printRow("Triggers", fmt.Sprint(len(triggers(cfg.Keywords))))
	printRow("Terminators", fmt.Sprint(len(terminators(cfg.Keywords))))
	if cfg.DenoiseEnabled() {
		printRow("Denoise", "spectral gate")
	} else {
		printRow("Denoise", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func summarize(name, detail string) string {
	switch {
	case name == "":
		return "(not configured)"
	case detail != "":
		return name + " / " + detail
	default:
		return name
	}
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// triggers returns the configured wake phrases, or the built-in list when
// none are configured.
func triggers(kw config.KeywordsConfig) []string {
	if kw.Triggers == nil {
		return keyword.DefaultTriggers
	}
	return kw.Triggers
}

func terminators(kw config.KeywordsConfig) []string {
	if kw.Terminators == nil {
		return keyword.DefaultTerminators
	}
	return kw.Terminators
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
