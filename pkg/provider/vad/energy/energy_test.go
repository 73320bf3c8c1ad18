package energy

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/tara/pkg/provider/vad"
)

// tone returns one 16-bit mono frame of a 440 Hz sine with the given
// normalised RMS.
func tone(sampleRate, frameMs int, rms float64) []byte {
	n := sampleRate * frameMs / 1000
	buf := make([]byte, n*2)
	amp := rms * math.Sqrt2 * pcmMaxAmplitude
	for i := range n {
		v := int16(amp * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func newSession(t *testing.T, mode vad.Mode) vad.SessionHandle {
	t.Helper()
	s, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 10, Mode: mode})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSpeech(t *testing.T, s vad.SessionHandle, frame []byte) bool {
	t.Helper()
	got, err := s.IsSpeech(frame)
	if err != nil {
		t.Fatalf("IsSpeech: %v", err)
	}
	return got
}

func TestNewSession_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"bad rate", vad.Config{SampleRate: 44100, FrameSizeMs: 10, Mode: vad.ModeModerate}},
		{"bad frame", vad.Config{SampleRate: 16000, FrameSizeMs: 25, Mode: vad.ModeModerate}},
		{"bad mode", vad.Config{SampleRate: 16000, FrameSizeMs: 10, Mode: 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New().NewSession(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIsSpeech_WrongFrameLength(t *testing.T) {
	s := newSession(t, vad.ModeModerate)
	_, err := s.IsSpeech(make([]byte, 100))
	if !errors.Is(err, vad.ErrInvalidFrameDuration) {
		t.Fatalf("err = %v, want ErrInvalidFrameDuration", err)
	}
}

func TestIsSpeech_SilenceAndSpeech(t *testing.T) {
	s := newSession(t, vad.ModeModerate)
	silence := make([]byte, 320)
	speech := tone(16000, 10, 0.2)

	for i := range 50 {
		if mustSpeech(t, s, silence) {
			t.Fatalf("silent frame %d classified as speech", i)
		}
	}
	for i := range 50 {
		if !mustSpeech(t, s, speech) {
			t.Fatalf("speech frame %d classified as silence", i)
		}
	}
}

func TestIsSpeech_StreamStartingWithSpeech(t *testing.T) {
	s := newSession(t, vad.ModeModerate)
	if !mustSpeech(t, s, tone(16000, 10, 0.2)) {
		t.Fatal("first loud frame should be speech")
	}
}

func TestIsSpeech_Hangover(t *testing.T) {
	s := newSession(t, vad.ModeModerate)
	speech := tone(16000, 10, 0.2)
	silence := make([]byte, 320)
	for range 20 {
		mustSpeech(t, s, speech)
	}

	// ModeModerate holds for 100 ms, i.e. ten 10 ms frames.
	for i := range 10 {
		if !mustSpeech(t, s, silence) {
			t.Fatalf("hangover frame %d classified as silence", i)
		}
	}
	if mustSpeech(t, s, silence) {
		t.Fatal("frame after hangover classified as speech")
	}
}

func TestIsSpeech_AdaptsToBackground(t *testing.T) {
	s := newSession(t, vad.ModeModerate)
	noise := tone(16000, 10, 0.01)
	for range 300 {
		mustSpeech(t, s, noise)
	}
	for range 20 {
		mustSpeech(t, s, make([]byte, 320)) // drain any hangover
	}
	// Re-settle on the background before probing.
	for range 300 {
		mustSpeech(t, s, noise)
	}
	if mustSpeech(t, s, noise) {
		t.Error("steady background classified as speech")
	}
	if !mustSpeech(t, s, tone(16000, 10, 0.1)) {
		t.Error("voice well above background classified as silence")
	}
}

func TestModeAggressiveness(t *testing.T) {
	quiet := tone(16000, 10, 0.006)

	lenient := newSession(t, vad.ModeQuality)
	strict := newSession(t, vad.ModeVeryAggressive)
	for range 5 {
		mustSpeech(t, lenient, make([]byte, 320))
		mustSpeech(t, strict, make([]byte, 320))
	}
	if !mustSpeech(t, lenient, quiet) {
		t.Error("ModeQuality should accept a quiet voice")
	}
	if mustSpeech(t, strict, quiet) {
		t.Error("ModeVeryAggressive should reject a quiet voice")
	}
}

func TestDeterministic(t *testing.T) {
	seq := [][]byte{
		make([]byte, 320), tone(16000, 10, 0.05), tone(16000, 10, 0.2),
		make([]byte, 320), tone(16000, 10, 0.004), tone(16000, 10, 0.3),
	}
	run := func() []bool {
		s := newSession(t, vad.ModeModerate)
		var out []bool
		for range 10 {
			for _, f := range seq {
				out = append(out, mustSpeech(t, s, f))
			}
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("verdict %d differs between runs", i)
		}
	}
}

func TestReset(t *testing.T) {
	s := newSession(t, vad.ModeModerate)
	for range 20 {
		mustSpeech(t, s, tone(16000, 10, 0.2))
	}
	s.Reset()
	if mustSpeech(t, s, make([]byte, 320)) {
		t.Error("hangover survived Reset")
	}
}

func TestFrameSizes(t *testing.T) {
	for _, rate := range vad.SupportedSampleRates {
		for _, ms := range []int{10, 20, 30} {
			s, err := New().NewSession(vad.Config{SampleRate: rate, FrameSizeMs: ms, Mode: vad.ModeModerate})
			if err != nil {
				t.Fatalf("%d Hz/%d ms: %v", rate, ms, err)
			}
			if !mustSpeech(t, s, tone(rate, ms, 0.2)) {
				t.Errorf("%d Hz/%d ms: loud tone not speech", rate, ms)
			}
			s.Close()
		}
	}
}
