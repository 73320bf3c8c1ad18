// Package config provides the configuration schema, loader, and provider
// registry for tara.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for tara.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// which apply [ApplyDefaults] and [Validate].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	VAD       VADConfig       `yaml:"vad"`
	Segment   SegmentConfig   `yaml:"segment"`
	Noise     NoiseConfig     `yaml:"noise"`
	Denoise   DenoiseConfig   `yaml:"denoise"`
	STT       STTConfig       `yaml:"stt"`
	Keywords  KeywordsConfig  `yaml:"keywords"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Session   SessionConfig   `yaml:"session"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// ServerConfig holds logging settings and the optional side server that
// exposes /metrics, /healthz and /readyz.
type ServerConfig struct {
	// ListenAddr is the TCP address of the side server (e.g., ":9090").
	// Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	// SampleRate in Hz. One of 8000, 16000, 32000, 48000. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the frame duration: 10, 20 or 30. Default: 10.
	FrameMs int `yaml:"frame_ms"`
}

// VADConfig selects the voice activity classifier.
type VADConfig struct {
	// Name selects the registered engine. Default: "energy".
	Name string `yaml:"name"`

	// Mode is the aggressiveness, 0 to 3. Default: 2.
	Mode *int `yaml:"mode"`
}

// SegmentConfig tunes the segment recorder. Zero durations take the
// recorder's defaults.
type SegmentConfig struct {
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	TrailingSilence time.Duration `yaml:"trailing_silence"`
	MinDuration     time.Duration `yaml:"min_duration"`
}

// NoiseConfig holds the noise tier thresholds and the denoise strength per
// tier. Zero values take the profiler's defaults.
type NoiseConfig struct {
	// MildBelow is the RMS below which a segment is mildly noisy.
	MildBelow float64 `yaml:"mild_below"`

	// MediumBelow is the RMS below which a segment is medium noisy; anything
	// at or above it is aggressive.
	MediumBelow float64 `yaml:"medium_below"`

	Strengths NoiseStrengths `yaml:"strengths"`
}

// NoiseStrengths maps each noise tier to a reduction strength in [0, 1].
type NoiseStrengths struct {
	Mild       float64 `yaml:"mild"`
	Medium     float64 `yaml:"medium"`
	Aggressive float64 `yaml:"aggressive"`
}

// DenoiseConfig toggles noise reduction before segments are written.
type DenoiseConfig struct {
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled"`
}

// STTConfig declares the recognizer chain. Primary is tried first; each
// fallback is tried in order when the previous backend fails.
type STTConfig struct {
	Primary        ProviderEntry        `yaml:"primary"`
	Fallbacks      []ProviderEntry      `yaml:"fallbacks"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the per-backend breakers. Zero values take the
// resilience package defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block of a recognizer backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Required for
	// whisper, which has no public default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above, such as
	// "language".
	Options map[string]any `yaml:"options"`
}

// KeywordsConfig overrides the wake and stop phrase lists. Nil lists use the
// built-in phrases.
type KeywordsConfig struct {
	Triggers    []string `yaml:"triggers"`
	Terminators []string `yaml:"terminators"`

	// Phonetic enables sound-alike matching when no phrase matches exactly.
	Phonetic bool `yaml:"phonetic"`

	// PhoneticThreshold is the minimum similarity, (0, 1]. Default: 0.90.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`
}

// DialogueConfig points at the dialogue service.
type DialogueConfig struct {
	// BaseURL is the service root; requests go to {base_url}/answer-query.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent in every request body.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one request. Default: 20s.
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig bounds a conversation.
type SessionConfig struct {
	// FollowUpLimit is the number of consecutive silent follow-ups allowed
	// before the conversation ends. 0 means unlimited. Default: 3.
	FollowUpLimit *int `yaml:"follow_up_limit"`

	// MaxTurns bounds the listening cycles of one conversation. 0 means
	// unlimited.
	MaxTurns int `yaml:"max_turns"`

	// RestartOnEnd returns to waiting for the trigger phrase after a
	// conversation ends instead of exiting. Default: true.
	RestartOnEnd *bool `yaml:"restart_on_end"`
}

// ArtifactsConfig names the files shared with external consumers.
type ArtifactsConfig struct {
	// Recorded is the latest recorded segment. Default: recorded_audio.wav.
	Recorded string `yaml:"recorded"`

	// Response is the latest dialogue reply. Default: response_audio.wav.
	Response string `yaml:"response"`

	// Journal, if set, is a JSON lines file receiving one record per
	// finished conversation.
	Journal string `yaml:"journal"`
}

// DenoiseEnabled reports whether noise reduction is on.
func (c *Config) DenoiseEnabled() bool {
	return c.Denoise.Enabled == nil || *c.Denoise.Enabled
}

// RestartOnEnd reports whether the worker loops after a conversation ends.
func (c *Config) RestartOnEnd() bool {
	return c.Session.RestartOnEnd == nil || *c.Session.RestartOnEnd
}
