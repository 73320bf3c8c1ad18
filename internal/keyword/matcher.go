// Package keyword classifies recognized utterances as wake phrases,
// terminator phrases, or ordinary speech.
//
// A [Matcher] runs a case-insensitive substring test of the transcript
// against the trigger list and then the terminator list; the first phrase
// found decides the verdict. With phonetic matching enabled, transcripts that
// contain no exact phrase get a second pass that tolerates recognizer
// misspellings ("hey tarah"). A [Spotter] glues a [stt.Recognizer] to a
// Matcher and turns recognition failures into [VerdictUnrecognized].
package keyword

import (
	"strings"
	"unicode"
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhonetic enables the phonetic fallback with the given Jaro-Winkler
// threshold. A threshold of zero uses [DefaultPhoneticThreshold].
func WithPhonetic(threshold float64) Option {
	return func(m *Matcher) {
		if threshold <= 0 {
			threshold = DefaultPhoneticThreshold
		}
		m.phonetic = &phoneticMatcher{threshold: threshold}
	}
}

// Matcher maps transcripts to verdicts. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	triggers    []phrase
	terminators []phrase
	phonetic    *phoneticMatcher
}

type phrase struct {
	text   string
	tokens []string
}

// NewMatcher returns a Matcher over the given phrase lists. Nil lists take
// [DefaultTriggers] and [DefaultTerminators]; an empty non-nil list disables
// that verdict.
func NewMatcher(triggers, terminators []string, opts ...Option) *Matcher {
	if triggers == nil {
		triggers = DefaultTriggers
	}
	if terminators == nil {
		terminators = DefaultTerminators
	}
	m := &Matcher{
		triggers:    compile(triggers),
		terminators: compile(terminators),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func compile(list []string) []phrase {
	out := make([]phrase, 0, len(list))
	for _, p := range list {
		norm := normalize(p)
		if norm == "" {
			continue
		}
		out = append(out, phrase{text: norm, tokens: strings.Fields(norm)})
	}
	return out
}

// Match returns the verdict for text. It never returns [VerdictUnrecognized].
func (m *Matcher) Match(text string) Verdict {
	v, _ := m.MatchPhrase(text)
	return v
}

// MatchPhrase is like [Matcher.Match] and also returns the phrase that
// decided the verdict, or "" for [VerdictNeither].
func (m *Matcher) MatchPhrase(text string) (Verdict, string) {
	norm := normalize(text)
	if norm == "" {
		return VerdictNeither, ""
	}
	if p, ok := findExact(norm, m.triggers); ok {
		return VerdictTrigger, p
	}
	if p, ok := findExact(norm, m.terminators); ok {
		return VerdictTerminate, p
	}

	if m.phonetic == nil {
		return VerdictNeither, ""
	}
	tokens := strings.Fields(norm)
	if p, ok := m.phonetic.find(tokens, m.triggers); ok {
		return VerdictTrigger, p
	}
	if p, ok := m.phonetic.find(tokens, m.terminators); ok {
		return VerdictTerminate, p
	}
	return VerdictNeither, ""
}

// findExact returns the first phrase in list that occurs anywhere in norm,
// including inside a longer word ("hey tarantula" holds "hey tara").
func findExact(norm string, list []phrase) (string, bool) {
	for _, p := range list {
		if strings.Contains(norm, p.text) {
			return p.text, true
		}
	}
	return "", false
}

// normalize lowercases s, turns punctuation into spaces, and collapses runs
// of whitespace. Apostrophes are kept so "that's" stays one word.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return '\''
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
