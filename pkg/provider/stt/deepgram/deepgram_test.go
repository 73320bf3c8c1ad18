package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/tara/pkg/audio"
	"github.com/MrWong99/tara/pkg/provider/stt"
	"github.com/coder/websocket"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	r, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
	if _, ok := q["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

func TestBuildURL_Keywords(t *testing.T) {
	r, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithKeywords([]stt.KeywordBoost{
		{Keyword: "tara", Boost: 5},
		{Keyword: "goodbye", Boost: 1.5},
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(48000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()
	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))

	found := map[string]bool{}
	for _, kw := range q["keywords"] {
		found[kw] = true
	}
	if !found["tara:5"] || !found["goodbye:1.5"] {
		t.Errorf("keywords = %v", q["keywords"])
	}
	if _, ok := q["keyterm"]; ok {
		t.Error("keyterm sent to a model without keyterm prompting")
	}
}

func TestBuildURL_PhrasesOnOlderModelsAreSkipped(t *testing.T) {
	r, err := New("key", WithModel("nova-2"), WithKeywords([]stt.KeywordBoost{
		{Keyword: "hey tara", Boost: 2},
		{Keyword: "tara", Boost: 2},
		{Keyword: "tara stop listening", Boost: 2},
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	if got := u.Query()["keywords"]; len(got) != 1 || got[0] != "tara:2" {
		t.Errorf("keywords = %v, want only the single word", got)
	}
}

func TestBuildURL_Nova3UsesKeyterms(t *testing.T) {
	r, err := New("key", WithKeywords([]stt.KeywordBoost{
		{Keyword: "hey tara", Boost: 2},
		{Keyword: "tara stop listening", Boost: 2},
		{Keyword: "tara", Boost: 2},
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := r.buildURL(16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	q := u.Query()
	if _, ok := q["keywords"]; ok {
		t.Errorf("keywords = %v, want none on nova-3", q["keywords"])
	}
	want := []string{"hey tara", "tara stop listening", "tara"}
	got := q["keyterm"]
	if len(got) != len(want) {
		t.Fatalf("keyterm = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyterm[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		want    string
		isFinal bool
	}{
		{
			name:    "final",
			raw:     `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hey Tara","confidence":0.98}]}}`,
			wantOK:  true,
			want:    "Hey Tara",
			isFinal: true,
		},
		{
			name:   "partial",
			raw:    `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hey"}]}}`,
			wantOK: true,
			want:   "Hey",
		},
		{name: "metadata", raw: `{"type":"Metadata"}`},
		{name: "no alternatives", raw: `{"type":"Results","channel":{"alternatives":[]}}`},
		{name: "invalid json", raw: `not json`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseDeepgramResponse([]byte(tc.raw))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got.text != tc.want || got.isFinal != tc.isFinal {
				t.Errorf("got %+v", got)
			}
		})
	}
}

// ---- Recognize tests ----

// fakeDeepgram accepts one WebSocket, counts the audio bytes it receives,
// and on CloseStream sends the given messages before closing normally.
func fakeDeepgram(t *testing.T, replies []string, gotBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				gotBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, m := range replies {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		c.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeClip(t *testing.T, samples int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recorded_audio.wav")
	if err := audio.WriteWAVFile(path, audio.PCMBytes(make([]int16, samples)), 16000); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRecognize_JoinsFinals(t *testing.T) {
	var got atomic.Int64
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hey"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hey Tara,"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"tell me a story"}]}}`,
		`{"type":"Metadata"}`,
	}, &got)

	r, _ := New("key", WithEndpoint(srv.URL))
	text, err := r.Recognize(context.Background(), writeClip(t, 16000*2+100))
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	assertEqual(t, "text", "hey tara, tell me a story", text)
	if want := int64(16000*2+100) * 2; got.Load() != want {
		t.Errorf("server received %d bytes, want %d", got.Load(), want)
	}
}

func TestRecognize_NoFinals_ReturnsErrNoSpeech(t *testing.T) {
	var got atomic.Int64
	srv := fakeDeepgram(t, []string{`{"type":"Metadata"}`}, &got)

	r, _ := New("key", WithEndpoint(srv.URL))
	_, err := r.Recognize(context.Background(), writeClip(t, 1600))
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestRecognize_DialFailure_ReturnsErrService(t *testing.T) {
	var got atomic.Int64
	srv := fakeDeepgram(t, nil, &got)

	r, _ := New("wrong", WithEndpoint(srv.URL))
	_, err := r.Recognize(context.Background(), writeClip(t, 1600))
	if !errors.Is(err, stt.ErrService) {
		t.Fatalf("err = %v, want ErrService", err)
	}
}

func TestRecognize_MissingFile(t *testing.T) {
	r, _ := New("key", WithEndpoint("ws://127.0.0.1:1"))
	_, err := r.Recognize(context.Background(), filepath.Join(t.TempDir(), "none.wav"))
	if !errors.Is(err, stt.ErrFileMissing) {
		t.Fatalf("err = %v, want ErrFileMissing", err)
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	r, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, r.model)
	assertEqual(t, "language", defaultLanguage, r.language)
	assertEqual(t, "endpoint", deepgramEndpoint, r.endpoint)
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
