package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/tara/internal/config"
	"github.com/MrWong99/tara/pkg/provider/stt"
	sttmock "github.com/MrWong99/tara/pkg/provider/stt/mock"
	"github.com/MrWong99/tara/pkg/provider/vad"
	vadmock "github.com/MrWong99/tara/pkg/provider/vad/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

audio:
  sample_rate: 48000
  frame_ms: 30

vad:
  name: energy
  mode: 0

segment:
  idle_timeout: 8s
  max_duration: 6s
  trailing_silence: 800ms
  min_duration: 1500ms

noise:
  mild_below: 0.02
  medium_below: 0.05
  strengths:
    mild: 0.3
    medium: 0.6
    aggressive: 0.9

denoise:
  enabled: false

stt:
  primary:
    name: whisper
    base_url: http://localhost:8081
    options:
      language: de
  fallbacks:
    - name: deepgram
      api_key: dg-test
      model: nova-3
  circuit_breaker:
    max_failures: 2
    reset_timeout: 1m

keywords:
  triggers: ["hey computer"]
  terminators: ["bye computer"]
  phonetic: true
  phonetic_threshold: 0.85

dialogue:
  base_url: https://dialogue.example.com
  api_key: secret
  timeout: 5s

session:
  follow_up_limit: 0
  max_turns: 20
  restart_on_end: false

artifacts:
  recorded: /tmp/tara/in.wav
  response: /tmp/tara/out.wav
`

// minimalYAML holds only the required fields.
const minimalYAML = `
stt:
  primary:
    name: whisper
    base_url: http://localhost:8081
dialogue:
  base_url: http://localhost:5000
  api_key: k
`

// ── Loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.FrameMs != 30 {
		t.Errorf("audio: got %d Hz/%d ms, want 48000/30", cfg.Audio.SampleRate, cfg.Audio.FrameMs)
	}
	if cfg.VAD.Mode == nil || *cfg.VAD.Mode != 0 {
		t.Errorf("vad.mode: got %v, want explicit 0", cfg.VAD.Mode)
	}
	if cfg.Segment.TrailingSilence != 800*time.Millisecond {
		t.Errorf("segment.trailing_silence: got %v, want 800ms", cfg.Segment.TrailingSilence)
	}
	if cfg.Segment.MinDuration != 1500*time.Millisecond {
		t.Errorf("segment.min_duration: got %v, want 1.5s", cfg.Segment.MinDuration)
	}
	if cfg.Noise.Strengths.Aggressive != 0.9 {
		t.Errorf("noise.strengths.aggressive: got %.2f, want 0.9", cfg.Noise.Strengths.Aggressive)
	}
	if cfg.DenoiseEnabled() {
		t.Error("denoise.enabled: got true, want false")
	}
	if got := cfg.STT.Primary.Options["language"]; got != "de" {
		t.Errorf("stt.primary.options.language: got %v, want de", got)
	}
	if len(cfg.STT.Fallbacks) != 1 || cfg.STT.Fallbacks[0].Name != "deepgram" {
		t.Fatalf("stt.fallbacks: got %+v", cfg.STT.Fallbacks)
	}
	if cfg.STT.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("stt.circuit_breaker.reset_timeout: got %v, want 1m", cfg.STT.CircuitBreaker.ResetTimeout)
	}
	if !reflect.DeepEqual(cfg.Keywords.Triggers, []string{"hey computer"}) {
		t.Errorf("keywords.triggers: got %v", cfg.Keywords.Triggers)
	}
	if cfg.Dialogue.Timeout != 5*time.Second {
		t.Errorf("dialogue.timeout: got %v, want 5s", cfg.Dialogue.Timeout)
	}
	if cfg.Session.FollowUpLimit == nil || *cfg.Session.FollowUpLimit != 0 {
		t.Errorf("session.follow_up_limit: got %v, want explicit 0", cfg.Session.FollowUpLimit)
	}
	if cfg.RestartOnEnd() {
		t.Error("session.restart_on_end: got true, want false")
	}
	if cfg.Artifacts.Response != "/tmp/tara/out.wav" {
		t.Errorf("artifacts.response: got %q", cfg.Artifacts.Response)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameMs != 10 {
		t.Errorf("audio: got %d Hz/%d ms, want 16000/10", cfg.Audio.SampleRate, cfg.Audio.FrameMs)
	}
	if cfg.VAD.Name != "energy" || cfg.VAD.Mode == nil || *cfg.VAD.Mode != int(vad.DefaultMode) {
		t.Errorf("vad: got %q mode %v, want energy mode %d", cfg.VAD.Name, cfg.VAD.Mode, vad.DefaultMode)
	}
	want := config.SegmentConfig{
		IdleTimeout:     10 * time.Second,
		MaxDuration:     5 * time.Second,
		TrailingSilence: time.Second,
		MinDuration:     2 * time.Second,
	}
	if cfg.Segment != want {
		t.Errorf("segment: got %+v, want %+v", cfg.Segment, want)
	}
	if cfg.Noise.MildBelow != 0.01 || cfg.Noise.MediumBelow != 0.03 {
		t.Errorf("noise thresholds: got %v/%v, want 0.01/0.03", cfg.Noise.MildBelow, cfg.Noise.MediumBelow)
	}
	if s := cfg.Noise.Strengths; s.Mild != 0.4 || s.Medium != 0.7 || s.Aggressive != 1.0 {
		t.Errorf("noise.strengths: got %+v, want 0.4/0.7/1.0", s)
	}
	if !cfg.DenoiseEnabled() {
		t.Error("denoise should default to enabled")
	}
	if cfg.Keywords.Triggers != nil || cfg.Keywords.Terminators != nil {
		t.Error("keyword lists should stay nil so the built-in phrases apply")
	}
	if cfg.Dialogue.Timeout != 20*time.Second {
		t.Errorf("dialogue.timeout: got %v, want 20s", cfg.Dialogue.Timeout)
	}
	if cfg.Session.FollowUpLimit == nil || *cfg.Session.FollowUpLimit != 3 {
		t.Errorf("session.follow_up_limit: got %v, want 3", cfg.Session.FollowUpLimit)
	}
	if !cfg.RestartOnEnd() {
		t.Error("session.restart_on_end should default to true")
	}
	if cfg.Artifacts.Recorded != "recorded_audio.wav" || cfg.Artifacts.Response != "response_audio.wav" {
		t.Errorf("artifacts: got %+v", cfg.Artifacts)
	}
}

func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("TARA_TEST_API_KEY", "from-env")
	t.Setenv("TARA_TEST_DIALOGUE", "http://dialogue.internal:5000")

	yaml := `
stt:
  primary:
    name: deepgram
    api_key: ${TARA_TEST_API_KEY}
dialogue:
  base_url: $TARA_TEST_DIALOGUE
  api_key: ${TARA_TEST_API_KEY}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Primary.APIKey != "from-env" {
		t.Errorf("stt.primary.api_key: got %q, want from-env", cfg.STT.Primary.APIKey)
	}
	if cfg.Dialogue.BaseURL != "http://dialogue.internal:5000" {
		t.Errorf("dialogue.base_url: got %q", cfg.Dialogue.BaseURL)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "\nunknown_section: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_section") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoadFromReader_EmptyReportsRequired(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil {
		t.Fatal("expected error for empty config, got nil")
	}
	for _, want := range []string{"stt.primary.name is required", "dialogue.base_url is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should contain %q, got: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.STT.Primary.Name != "whisper" {
		t.Errorf("stt.primary.name: got %q", cfg.STT.Primary.Name)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-example")
	t.Setenv("TARA_API_KEY", "tara-example")

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.STT.Fallbacks[0].APIKey; got != "sk-example" {
		t.Errorf("fallback api_key: got %q, want expanded env value", got)
	}
	if cfg.Dialogue.APIKey != "tara-example" {
		t.Errorf("dialogue.api_key: got %q", cfg.Dialogue.APIKey)
	}
	if cfg.Keywords.Triggers != nil {
		t.Errorf("keywords.triggers should be unset so the built-in list applies, got %v", cfg.Keywords.Triggers)
	}
	if cfg.Artifacts.Journal != "conversations.jsonl" {
		t.Errorf("artifacts.journal: got %q", cfg.Artifacts.Journal)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("stt: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateVAD(config.VADConfig{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("vad: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &sttmock.Recognizer{}
	var gotEntry config.ProviderEntry
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Recognizer, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub", APIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned recognizer is not the expected instance")
	}
	if gotEntry.APIKey != "k" {
		t.Errorf("factory entry api_key: got %q, want k", gotEntry.APIKey)
	}
}

func TestRegistry_RegisteredVAD(t *testing.T) {
	reg := config.NewRegistry()
	want := &vadmock.Engine{}
	reg.RegisterVAD("stub", func(config.VADConfig) (vad.Engine, error) { return want, nil })
	got, err := reg.CreateVAD(config.VADConfig{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned engine is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Recognizer, error) {
		return nil, wantErr
	})
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_STTNames(t *testing.T) {
	reg := config.NewRegistry()
	for _, n := range []string{"whisper", "deepgram", "openai"} {
		reg.RegisterSTT(n, func(config.ProviderEntry) (stt.Recognizer, error) { return nil, nil })
	}
	if got, want := reg.STTNames(), []string{"deepgram", "openai", "whisper"}; !reflect.DeepEqual(got, want) {
		t.Errorf("STTNames: got %v, want %v", got, want)
	}
}
