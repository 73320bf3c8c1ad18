package keyword

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/pkg/provider/stt"
)

// Result is the outcome of spotting one audio artifact.
type Result struct {
	Verdict Verdict

	// Text is the normalized transcript; empty when Verdict is
	// VerdictUnrecognized.
	Text string

	// Phrase is the phrase that decided a trigger or terminate verdict.
	Phrase string

	// Err is the recognition error behind VerdictUnrecognized, kept for
	// logging.
	Err error
}

// SpotterOption is a functional option for configuring a [Spotter].
type SpotterOption func(*Spotter)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) SpotterOption {
	return func(s *Spotter) { s.metrics = m }
}

// Spotter recognizes an audio artifact and classifies the transcript.
type Spotter struct {
	recognizer stt.Recognizer
	matcher    *Matcher
	metrics    *observe.Metrics
}

// NewSpotter returns a Spotter using rec for transcription and m for
// classification. A nil m uses the default phrase lists.
func NewSpotter(rec stt.Recognizer, m *Matcher, opts ...SpotterOption) *Spotter {
	if m == nil {
		m = NewMatcher(nil, nil)
	}
	s := &Spotter{
		recognizer: rec,
		matcher:    m,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Spot transcribes the WAV file at audioPath and classifies it. It never
// fails; recognition errors produce [VerdictUnrecognized] with Err set.
func (s *Spotter) Spot(ctx context.Context, audioPath string) Result {
	ctx, span := observe.StartSpan(ctx, "keyword.spot")

	text, err := s.recognizer.Recognize(ctx, audioPath)
	if err != nil {
		kind := errorKind(err)
		if kind == "no_speech" {
			slog.Info("keyword: could not understand audio")
		} else {
			slog.Warn("keyword: recognition failed", "kind", kind, "err", err)
		}
		s.metrics.RecordVerdict(ctx, VerdictUnrecognized.String())
		span.SetAttributes(
			attribute.String("keyword.verdict", VerdictUnrecognized.String()),
			attribute.String("keyword.error_kind", kind),
		)
		// No speech is an ordinary outcome, not a failed span.
		if kind == "no_speech" {
			observe.EndSpan(span, nil)
		} else {
			observe.EndSpan(span, err)
		}
		return Result{Verdict: VerdictUnrecognized, Err: err}
	}

	verdict, p := s.matcher.MatchPhrase(text)
	slog.Info("keyword: heard", "text", text, "verdict", verdict)
	s.metrics.RecordVerdict(ctx, verdict.String())
	span.SetAttributes(
		attribute.String("keyword.verdict", verdict.String()),
		attribute.String("keyword.phrase", p),
	)
	observe.EndSpan(span, nil)
	return Result{Verdict: verdict, Text: text, Phrase: p}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		return "no_speech"
	case errors.Is(err, stt.ErrFileMissing):
		return "file_missing"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "service"
	}
}
