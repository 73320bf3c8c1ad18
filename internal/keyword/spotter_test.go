package keyword

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/pkg/provider/stt"
	sttmock "github.com/MrWong99/tara/pkg/provider/stt/mock"
)

func newTestSpotter(t *testing.T, rec stt.Recognizer) (*Spotter, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewSpotter(rec, nil, WithMetrics(m)), reader
}

func verdictCount(t *testing.T, reader *sdkmetric.ManualReader, verdict string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "tara.keyword.verdicts" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("verdict"); ok && v.AsString() == verdict {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestSpot_Verdicts(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Results: []sttmock.Result{
		{Text: "hey tara"},
		{Text: "what is the weather"},
		{Text: "tara stop listening"},
	}}
	s, reader := newTestSpotter(t, rec)

	want := []Verdict{VerdictTrigger, VerdictNeither, VerdictTerminate}
	for i, w := range want {
		res := s.Spot(context.Background(), "recorded_audio.wav")
		if res.Verdict != w {
			t.Errorf("call %d: verdict = %v, want %v", i, res.Verdict, w)
		}
		if res.Err != nil {
			t.Errorf("call %d: unexpected err %v", i, res.Err)
		}
	}
	if rec.CallCount() != 3 || rec.RecognizeCalls[0].Path != "recorded_audio.wav" {
		t.Errorf("recognizer calls = %+v", rec.RecognizeCalls)
	}
	if got := verdictCount(t, reader, "trigger"); got != 1 {
		t.Errorf("trigger verdicts = %d, want 1", got)
	}
}

func TestSpot_RecognitionErrorsAreUnrecognized(t *testing.T) {
	t.Parallel()

	errs := []error{
		stt.ErrNoSpeech,
		stt.ErrFileMissing,
		fmt.Errorf("whisper: %w: status 500", stt.ErrService),
	}
	for _, e := range errs {
		rec := &sttmock.Recognizer{Default: sttmock.Result{Err: e}}
		s, reader := newTestSpotter(t, rec)

		res := s.Spot(context.Background(), "recorded_audio.wav")
		if res.Verdict != VerdictUnrecognized {
			t.Errorf("%v: verdict = %v, want unrecognized", e, res.Verdict)
		}
		if !errors.Is(res.Err, e) && !errors.Is(res.Err, stt.ErrService) {
			t.Errorf("%v: Err = %v, want it preserved", e, res.Err)
		}
		if res.Text != "" {
			t.Errorf("%v: Text = %q, want empty", e, res.Text)
		}
		if got := verdictCount(t, reader, "unrecognized"); got != 1 {
			t.Errorf("%v: unrecognized verdicts = %d, want 1", e, got)
		}
	}
}

// TestSpot_Spans swaps the global tracer provider, so it does not run in
// parallel.
func TestSpot_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	rec := &sttmock.Recognizer{Results: []sttmock.Result{
		{Text: "hey tara"},
		{Err: stt.ErrNoSpeech},
		{Err: fmt.Errorf("whisper: %w: status 500", stt.ErrService)},
	}}
	s, _ := newTestSpotter(t, rec)
	for range 3 {
		s.Spot(context.Background(), "recorded_audio.wav")
	}

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("spans = %d, want 3", len(spans))
	}
	tests := []struct {
		verdict string
		kind    string
		status  codes.Code
	}{
		{"trigger", "", codes.Unset},
		{"unrecognized", "no_speech", codes.Unset},
		{"unrecognized", "service", codes.Error},
	}
	for i, tc := range tests {
		span := spans[i]
		if span.Name != "keyword.spot" {
			t.Errorf("span %d name = %q", i, span.Name)
		}
		attrs := map[string]string{}
		for _, kv := range span.Attributes {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs["keyword.verdict"] != tc.verdict {
			t.Errorf("span %d verdict = %q, want %q", i, attrs["keyword.verdict"], tc.verdict)
		}
		if attrs["keyword.error_kind"] != tc.kind {
			t.Errorf("span %d error_kind = %q, want %q", i, attrs["keyword.error_kind"], tc.kind)
		}
		if span.Status.Code != tc.status {
			t.Errorf("span %d status = %v, want %v", i, span.Status.Code, tc.status)
		}
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := map[error]string{
		stt.ErrNoSpeech:                        "no_speech",
		fmt.Errorf("x: %w", stt.ErrFileMissing): "file_missing",
		context.DeadlineExceeded:               "cancelled",
		errors.New("boom"):                     "service",
	}
	for err, want := range tests {
		if got := errorKind(err); got != want {
			t.Errorf("errorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
