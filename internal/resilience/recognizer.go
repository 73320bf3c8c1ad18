package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/tara/internal/observe"
	"github.com/MrWong99/tara/pkg/provider/stt"
)

// RecognizerFallback is an [stt.Recognizer] that fails over across several
// backends. [stt.ErrNoSpeech], [stt.ErrFileMissing] and context errors are
// answers, not outages: they are returned from the first backend that
// produces them and never trip a breaker.
type RecognizerFallback struct {
	group   *FallbackGroup[namedRecognizer]
	metrics *observe.Metrics
}

type namedRecognizer struct {
	name string
	stt.Recognizer
}

var _ stt.Recognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback creates a fallback with primary tried first. A nil
// metrics uses [observe.DefaultMetrics].
func NewRecognizerFallback(primary stt.Recognizer, primaryName string, cb CircuitBreakerConfig, metrics *observe.Metrics) *RecognizerFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &RecognizerFallback{
		group: NewFallbackGroup(namedRecognizer{primaryName, primary}, primaryName, FallbackConfig{
			CircuitBreaker: cb,
			Permanent:      permanentRecognitionError,
		}),
		metrics: metrics,
	}
}

// AddFallback registers another backend after those already added.
func (f *RecognizerFallback) AddFallback(name string, r stt.Recognizer) {
	f.group.AddFallback(name, namedRecognizer{name, r})
}

// Names returns the backend names in try order.
func (f *RecognizerFallback) Names() []string { return f.group.Names() }

// States returns each backend's breaker state.
func (f *RecognizerFallback) States() map[string]State { return f.group.States() }

// Available reports whether any backend's breaker is not open.
func (f *RecognizerFallback) Available() bool { return f.group.Available() }

// Recognize transcribes audioPath with the first healthy backend. When all
// backends fail, the error wraps [ErrAllFailed] and [stt.ErrService].
func (f *RecognizerFallback) Recognize(ctx context.Context, audioPath string) (string, error) {
	text, err := ExecuteWithResult(f.group, func(r namedRecognizer) (string, error) {
		start := time.Now()
		text, err := r.Recognize(ctx, audioPath)
		f.metrics.RecordSTT(ctx, r.name, time.Since(start))
		if err != nil && !permanentRecognitionError(err) {
			f.metrics.RecordProviderError(ctx, r.name, "service")
		}
		return text, err
	})
	if err != nil && errors.Is(err, ErrAllFailed) && !errors.Is(err, stt.ErrService) {
		err = errors.Join(err, stt.ErrService)
	}
	return text, err
}

func permanentRecognitionError(err error) bool {
	return errors.Is(err, stt.ErrNoSpeech) ||
		errors.Is(err, stt.ErrFileMissing) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
