// Package dialogue is the HTTP client for the conversational backend.
//
// Every exchange is a single POST to {base}/answer-query carrying the
// caller's utterance (or no audio for a follow-up) and the session
// identifiers returned by the previous reply. A 201 response carries the
// synthesized reply audio, which the client writes to a WAV artifact for
// playback. Requests are never retried.
package dialogue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/pkg/audio"
)

const (
	// DefaultTimeout bounds one exchange.
	DefaultTimeout = 20 * time.Second

	// DefaultReplyPath is where reply audio is written.
	DefaultReplyPath = "response_audio.wav"

	endpoint = "/answer-query"

	// maxErrorBody caps how much of a failed response is kept for logging.
	maxErrorBody = 512
)

// ErrRequestFailed is returned for any exchange that did not produce a
// successful reply: transport failures, timeouts, unexpected statuses and
// undecodable bodies.
var ErrRequestFailed = errors.New("dialogue: request failed")

// StatusError is returned when the service answers with a status other than
// 201 Created.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dialogue: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("dialogue: unexpected status %d: %s", e.Code, e.Body)
}

// Unwrap lets errors.Is(err, ErrRequestFailed) match.
func (e *StatusError) Unwrap() error { return ErrRequestFailed }

// SessionContext carries the identifiers the service assigns to a
// conversation. Both are nil until a reply sets them and encode as JSON null.
type SessionContext struct {
	UserID         *string
	ConversationID *string
}

// Reply is a successful exchange.
type Reply struct {
	// AudioPath is the written reply artifact, or "" when the service
	// returned no audio.
	AudioPath string

	// Session holds the identifiers returned by the service.
	Session SessionContext
}

type request struct {
	AudioData      *string `json:"audioData"`
	UserID         *string `json:"userId"`
	ConversationID *string `json:"conversationId"`
	APIKey         string  `json:"api_key"`
}

type response struct {
	AudioFile      *string `json:"audioFile"`
	UserID         *string `json:"userId"`
	ConversationID *string `json:"conversationId"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-exchange timeout. Default: 20s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReplyPath sets where reply audio is written. Default: response_audio.wav.
func WithReplyPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.replyPath = path
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its transport is used as is, so
// callers that want tracing must wrap it themselves.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the dialogue service. It is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	timeout   time.Duration
	replyPath string
	http      *http.Client
	metrics   *observe.Metrics
}

// New creates a Client for the service rooted at baseURL.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("dialogue: base URL must not be empty")
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		timeout:   DefaultTimeout,
		replyPath: DefaultReplyPath,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Exchange sends one turn to the service. A nil audio asks the service for a
// follow-up without user speech; otherwise audio is the WAV file content of
// the utterance.
//
// The request is detached from ctx cancellation and bounded only by the
// client timeout, so a stop request takes effect after the call returns.
// Trace context from ctx is still propagated.
func (c *Client) Exchange(ctx context.Context, audioWAV []byte, sc SessionContext) (Reply, error) {
	kind := "audio"
	if audioWAV == nil {
		kind = "follow_up"
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "dialogue.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("dialogue.kind", kind),
			attribute.Bool("dialogue.has_conversation", sc.ConversationID != nil),
		),
	)

	start := time.Now()
	reply, code, err := c.do(ctx, audioWAV, sc)
	statusLabel := "error"
	if code != 0 {
		statusLabel = fmt.Sprint(code)
		span.SetAttributes(attribute.Int("http.response.status_code", code))
	}
	c.metrics.RecordDialogue(ctx, kind, statusLabel, time.Since(start))

	if err != nil {
		observe.Logger(ctx).Warn("dialogue: exchange failed", "kind", kind, "err", err)
		observe.EndSpan(span, err)
		return Reply{}, err
	}
	span.SetAttributes(attribute.Bool("dialogue.has_audio", reply.AudioPath != ""))
	observe.Logger(ctx).Info("dialogue: reply received",
		"kind", kind,
		"has_audio", reply.AudioPath != "",
		"duration", time.Since(start),
	)
	observe.EndSpan(span, nil)
	return reply, nil
}

func (c *Client) do(ctx context.Context, audioWAV []byte, sc SessionContext) (Reply, int, error) {
	body := request{
		UserID:         sc.UserID,
		ConversationID: sc.ConversationID,
		APIKey:         c.apiKey,
	}
	if audioWAV != nil {
		enc := base64.StdEncoding.EncodeToString(audioWAV)
		body.AudioData = &enc
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, 0, fmt.Errorf("%w: encode request: %w", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, 0, fmt.Errorf("%w: build request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, 0, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reply{}, resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Reply{}, resp.StatusCode, fmt.Errorf("%w: decode response: %w", ErrRequestFailed, err)
	}

	reply := Reply{Session: SessionContext{UserID: out.UserID, ConversationID: out.ConversationID}}
	if out.AudioFile != nil && *out.AudioFile != "" {
		wav, err := base64.StdEncoding.DecodeString(*out.AudioFile)
		if err != nil {
			return Reply{}, resp.StatusCode, fmt.Errorf("%w: decode reply audio: %w", ErrRequestFailed, err)
		}
		if err := audio.WriteFileAtomic(c.replyPath, wav); err != nil {
			return Reply{}, resp.StatusCode, fmt.Errorf("%w: save reply audio: %w", ErrRequestFailed, err)
		}
		reply.AudioPath = c.replyPath
	} else {
		slog.Debug("dialogue: reply carried no audio")
	}
	return reply, resp.StatusCode, nil
}
