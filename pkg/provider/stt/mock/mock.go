// Package mock provides test doubles for the stt package interfaces.
//
// Use Recognizer to script transcripts or failures and inspect the audio
// paths that were submitted.
//
// Example:
//
//	r := &mock.Recognizer{Results: []mock.Result{{Text: "hey tara"}}}
//	text, err := r.Recognize(ctx, "recorded_audio.wav")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/tara/pkg/provider/stt"
)

// Result is one scripted Recognize outcome.
type Result struct {
	Text string
	Err  error
}

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Ctx is the context passed to Recognize.
	Ctx context.Context

	// Path is the audio path passed to Recognize.
	Path string
}

// Recognizer is a mock implementation of stt.Recognizer. Each call consumes
// the next entry of Results; once exhausted, Default is returned.
type Recognizer struct {
	mu sync.Mutex

	// Results is consumed one entry per Recognize call.
	Results []Result

	// Default is returned once Results is exhausted.
	Default Result

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall
}

// Recognize records the call and returns the next scripted result.
func (r *Recognizer) Recognize(ctx context.Context, audioPath string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.RecognizeCalls)
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{Ctx: ctx, Path: audioPath})
	res := r.Default
	if idx < len(r.Results) {
		res = r.Results[idx]
	}
	return res.Text, res.Err
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = nil
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
