package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/tara/internal/conversation"
	"github.com/MrWong99/tara/internal/dialogue"
	"github.com/MrWong99/tara/internal/keyword"
	"github.com/MrWong99/tara/internal/segment"
	"github.com/MrWong99/tara/pkg/audio"
	"github.com/MrWong99/tara/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper", "deepgram", "openai"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. ${VAR} references are expanded from the environment before
// decoding.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document is a config with every field at
// its default.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.FrameMs == 0 {
		cfg.Audio.FrameMs = audio.DefaultFrameMs
	}
	if cfg.VAD.Name == "" {
		cfg.VAD.Name = "energy"
	}
	if cfg.VAD.Mode == nil {
		cfg.VAD.Mode = ptr(int(vad.DefaultMode))
	}

	if cfg.Segment.IdleTimeout == 0 {
		cfg.Segment.IdleTimeout = segment.DefaultIdleTimeout
	}
	if cfg.Segment.MaxDuration == 0 {
		cfg.Segment.MaxDuration = segment.DefaultMaxDuration
	}
	if cfg.Segment.TrailingSilence == 0 {
		cfg.Segment.TrailingSilence = segment.DefaultTrailingSilence
	}
	if cfg.Segment.MinDuration == 0 {
		cfg.Segment.MinDuration = segment.DefaultMinDuration
	}

	noise := segment.DefaultNoiseConfig()
	if cfg.Noise.MildBelow == 0 {
		cfg.Noise.MildBelow = noise.MildBelow
	}
	if cfg.Noise.MediumBelow == 0 {
		cfg.Noise.MediumBelow = noise.MediumBelow
	}
	if cfg.Noise.Strengths.Mild == 0 {
		cfg.Noise.Strengths.Mild = noise.MildStrength
	}
	if cfg.Noise.Strengths.Medium == 0 {
		cfg.Noise.Strengths.Medium = noise.MediumStrength
	}
	if cfg.Noise.Strengths.Aggressive == 0 {
		cfg.Noise.Strengths.Aggressive = noise.AggressiveStrength
	}

	if cfg.Keywords.PhoneticThreshold == 0 {
		cfg.Keywords.PhoneticThreshold = keyword.DefaultPhoneticThreshold
	}
	if cfg.Dialogue.Timeout == 0 {
		cfg.Dialogue.Timeout = dialogue.DefaultTimeout
	}
	if cfg.Session.FollowUpLimit == nil {
		cfg.Session.FollowUpLimit = ptr(conversation.DefaultFollowUpLimit)
	}
	if cfg.Artifacts.Recorded == "" {
		cfg.Artifacts.Recorded = segment.DefaultOutputPath
	}
	if cfg.Artifacts.Response == "" {
		cfg.Artifacts.Response = dialogue.DefaultReplyPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Call it after [ApplyDefaults].
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if !slices.Contains(vad.SupportedSampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, vad.SupportedSampleRates))
	}
	if !audio.ValidFrameDuration(cfg.Audio.FrameMs) {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameMs))
	}
	if m := cfg.VAD.Mode; m != nil && (*m < int(vad.ModeQuality) || *m > int(vad.ModeVeryAggressive)) {
		errs = append(errs, fmt.Errorf("vad.mode %d is out of range [0, 3]", *m))
	}
	validateProviderName("vad", cfg.VAD.Name)

	// Segment
	for _, d := range []struct {
		name  string
		value int64
	}{
		{"segment.idle_timeout", int64(cfg.Segment.IdleTimeout)},
		{"segment.max_duration", int64(cfg.Segment.MaxDuration)},
		{"segment.trailing_silence", int64(cfg.Segment.TrailingSilence)},
		{"segment.min_duration", int64(cfg.Segment.MinDuration)},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	if cfg.Segment.MinDuration > cfg.Segment.MaxDuration && cfg.Segment.MaxDuration > 0 {
		errs = append(errs, fmt.Errorf("segment.min_duration %v exceeds segment.max_duration %v; every segment would be discarded",
			cfg.Segment.MinDuration, cfg.Segment.MaxDuration))
	}

	// Noise
	if cfg.Noise.MildBelow < 0 || cfg.Noise.MediumBelow < 0 {
		errs = append(errs, errors.New("noise thresholds must not be negative"))
	}
	if cfg.Noise.MildBelow >= cfg.Noise.MediumBelow {
		errs = append(errs, fmt.Errorf("noise.mild_below %.4f must be below noise.medium_below %.4f", cfg.Noise.MildBelow, cfg.Noise.MediumBelow))
	}
	for _, s := range []struct {
		name  string
		value float64
	}{
		{"mild", cfg.Noise.Strengths.Mild},
		{"medium", cfg.Noise.Strengths.Medium},
		{"aggressive", cfg.Noise.Strengths.Aggressive},
	} {
		if s.value < 0 || s.value > 1 {
			errs = append(errs, fmt.Errorf("noise.strengths.%s %.2f is out of range [0, 1]", s.name, s.value))
		}
	}

	// STT
	if cfg.STT.Primary.Name == "" {
		errs = append(errs, errors.New("stt.primary.name is required"))
	}
	validateProviderName("stt", cfg.STT.Primary.Name)
	seen := map[string]string{cfg.STT.Primary.Name: "stt.primary"}
	for i, fb := range cfg.STT.Fallbacks {
		prefix := fmt.Sprintf("stt.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
		validateProviderName("stt", fb.Name)
	}
	if cfg.STT.CircuitBreaker.MaxFailures < 0 || cfg.STT.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("stt.circuit_breaker values must not be negative"))
	}

	// Keywords
	if t := cfg.Keywords.PhoneticThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("keywords.phonetic_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Keywords.Triggers != nil && len(cfg.Keywords.Triggers) == 0 {
		slog.Warn("keywords.triggers is empty; the assistant can never be activated")
	}

	// Dialogue
	if cfg.Dialogue.BaseURL == "" {
		errs = append(errs, errors.New("dialogue.base_url is required"))
	} else if u, err := url.Parse(cfg.Dialogue.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("dialogue.base_url %q is not an absolute URL", cfg.Dialogue.BaseURL))
	}
	if cfg.Dialogue.APIKey == "" {
		slog.Warn("dialogue.api_key is empty; the dialogue service will likely reject requests")
	}
	if cfg.Dialogue.Timeout < 0 {
		errs = append(errs, errors.New("dialogue.timeout must not be negative"))
	}

	// Session
	if l := cfg.Session.FollowUpLimit; l != nil && *l < 0 {
		errs = append(errs, fmt.Errorf("session.follow_up_limit %d must not be negative", *l))
	}
	if cfg.Session.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("session.max_turns %d must not be negative", cfg.Session.MaxTurns))
	}

	// Artifacts
	if cfg.Artifacts.Recorded != "" && cfg.Artifacts.Recorded == cfg.Artifacts.Response {
		errs = append(errs, fmt.Errorf("artifacts.recorded and artifacts.response must differ (both %q)", cfg.Artifacts.Recorded))
	}
	if j := cfg.Artifacts.Journal; j != "" && (j == cfg.Artifacts.Recorded || j == cfg.Artifacts.Response) {
		errs = append(errs, fmt.Errorf("artifacts.journal %q must not reuse an audio artifact path", j))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func ptr[T any](v T) *T { return &v }
