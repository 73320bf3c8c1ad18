// Package stt defines the Recognizer interface for Speech-to-Text backends.
//
// A recognizer wraps a transcription service (e.g., a local whisper.cpp
// server, Deepgram, or the OpenAI audio API) and turns one recorded WAV
// artifact into text. Results are lowercase so keyword matching downstream
// is case-insensitive by construction.
//
// Failures are reported through three sentinels so callers can tell an
// unintelligible clip ([ErrNoSpeech]) from an unreachable backend
// ([ErrService]) or a missing artifact ([ErrFileMissing]).
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/MrWong99/tara/pkg/audio"
)

var (
	// ErrNoSpeech is returned when the backend could not make out any words.
	ErrNoSpeech = errors.New("stt: no speech recognized")

	// ErrService is returned (wrapped) when the backend is unreachable or
	// answers with an error.
	ErrService = errors.New("stt: recognition service failure")

	// ErrFileMissing is returned when the audio artifact does not exist or
	// cannot be decoded.
	ErrFileMissing = errors.New("stt: audio file missing")
)

// KeywordBoost represents a phrase to boost in recognition. Used to improve
// recognition of the assistant's name in wake and stop phrases.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "tara").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Recognize transcribes the WAV file at audioPath and returns its text in
	// lowercase. It returns an error wrapping ErrNoSpeech, ErrService, or
	// ErrFileMissing on failure.
	Recognize(ctx context.Context, audioPath string) (string, error)
}

// RecognizerFunc adapts an ordinary function to the [Recognizer] interface.
type RecognizerFunc func(ctx context.Context, audioPath string) (string, error)

// Recognize calls f(ctx, audioPath).
func (f RecognizerFunc) Recognize(ctx context.Context, audioPath string) (string, error) {
	return f(ctx, audioPath)
}

// LoadAudio reads the WAV artifact at path for upload. A missing or
// undecodable file maps to [ErrFileMissing].
func LoadAudio(path string) (*audio.WAV, error) {
	w, err := audio.ReadWAVFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, audio.ErrMalformedWAV) {
			return nil, fmt.Errorf("%w: %w", ErrFileMissing, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}
	return w, nil
}

// Normalize lowercases and trims a backend transcript. Empty text maps to
// [ErrNoSpeech].
func Normalize(text string) (string, error) {
	t := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if t == "" {
		return "", ErrNoSpeech
	}
	return t, nil
}
