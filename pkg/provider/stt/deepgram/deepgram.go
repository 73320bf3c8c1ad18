// Package deepgram provides a Deepgram-backed STT recognizer using the
// Deepgram streaming WebSocket API. It implements the stt.Recognizer interface.
//
// Each Recognize call opens one WebSocket, streams the recorded PCM in
// 100 ms chunks, sends CloseStream, and joins the final results Deepgram
// flushes back before it closes the connection.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/tara/pkg/provider/stt"
	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkMs is the duration of each binary message sent to Deepgram.
	chunkMs = 100
)

// closeStream asks Deepgram to flush pending results and close the socket.
var closeStream = []byte(`{"type":"CloseStream"}`)

// Option is a functional option for configuring the Deepgram Recognizer.
type Option func(*Recognizer)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(r *Recognizer) {
		r.language = language
	}
}

// WithKeywords sets vocabulary hints sent with every request. On nova-3
// models every entry, phrases included, is sent as a keyterm. Older models
// only accept single words, so multi-word entries are ignored there.
func WithKeywords(keywords []stt.KeywordBoost) Option {
	return func(r *Recognizer) {
		r.keywords = keywords
	}
}

// WithEndpoint overrides the streaming endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) {
		r.endpoint = endpoint
	}
}

// Recognizer implements stt.Recognizer backed by the Deepgram streaming API.
type Recognizer struct {
	apiKey   string
	model    string
	language string
	keywords []stt.KeywordBoost
	endpoint string
}

var _ stt.Recognizer = (*Recognizer)(nil)

// New creates a new Deepgram Recognizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize streams the WAV file at audioPath to Deepgram and returns the
// joined final transcripts in lowercase.
func (r *Recognizer) Recognize(ctx context.Context, audioPath string) (string, error) {
	w, err := stt.LoadAudio(audioPath)
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	pcm := w.Mono()

	wsURL, err := r.buildURL(w.SampleRate)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w: %w", stt.ErrService, err)
	}
	defer conn.CloseNow()

	var finals []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		step := w.SampleRate * 2 * chunkMs / 1000
		for off := 0; off < len(pcm); off += step {
			end := min(off+step, len(pcm))
			if err := conn.Write(gctx, websocket.MessageBinary, pcm[off:end]); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
		}
		if err := conn.Write(gctx, websocket.MessageText, closeStream); err != nil {
			return fmt.Errorf("write CloseStream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for {
			_, msg, err := conn.Read(gctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			if t, ok := parseDeepgramResponse(msg); ok && t.isFinal && t.text != "" {
				finals = append(finals, t.text)
			}
		}
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("deepgram: %w: %w", stt.ErrService, err)
	}

	text, err := stt.Normalize(strings.Join(finals, " "))
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}
	return text, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for a mono 16-bit
// stream at sampleRate.
func (r *Recognizer) buildURL(sampleRate int) (string, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", r.model)
	q.Set("language", r.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")

	if keyterms(r.model) {
		// Keyterm prompting takes whole phrases and carries no boost.
		for _, kw := range r.keywords {
			q.Add("keyterm", kw.Keyword)
		}
	} else {
		// Older models boost single words only, as word:boost ("tara:5").
		for _, kw := range r.keywords {
			if strings.ContainsRune(strings.TrimSpace(kw.Keyword), ' ') {
				continue
			}
			q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// keyterms reports whether model takes keyterm prompting instead of keyword
// boosting. Only the nova-3 family does.
func keyterms(model string) bool {
	return strings.HasPrefix(model, "nova-3")
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	isFinal    bool
	confidence float64
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	return result{
		text:       alt.Transcript,
		isFinal:    resp.IsFinal,
		confidence: alt.Confidence,
	}, true
}
