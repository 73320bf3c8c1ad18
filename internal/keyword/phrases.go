package keyword

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultTriggers are the wake phrases that move a dormant session to active.
var DefaultTriggers = []string{
	"hello tara",
	"hey tara",
	"hi tara",
	"tara let's play",
	"tara story time",
	"wake up tara",
	"ok tara",
	"tara start",
	"listen tara",
	"tara are you there",
}

// DefaultTerminators are the phrases that end an active session.
var DefaultTerminators = []string{
	"goodbye tara",
	"sleep now tara",
	"that's all tara",
	"stop tara",
	"the end tara",
	"tara bye",
	"tara stop listening",
	"tara exit",
	"tara shutdown",
}

// SharedWords returns the normalized words that occur in every phrase, in
// the order of the first phrase. For the default lists this is the
// assistant's name.
func SharedWords(phrases []string) []string {
	var shared []string
	for i, p := range phrases {
		words := strings.Fields(normalize(p))
		if i == 0 {
			for _, w := range words {
				if !slices.Contains(shared, w) {
					shared = append(shared, w)
				}
			}
			continue
		}
		shared = slices.DeleteFunc(shared, func(w string) bool { return !slices.Contains(words, w) })
	}
	return shared
}

// Verdict is the keyword classification of one transcript.
type Verdict int

const (
	// VerdictNeither means the transcript contains no known phrase.
	VerdictNeither Verdict = iota

	// VerdictTrigger means a wake phrase was found.
	VerdictTrigger

	// VerdictTerminate means a terminator phrase was found.
	VerdictTerminate

	// VerdictUnrecognized means no transcript could be produced.
	VerdictUnrecognized
)

// String returns the lowercase verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictNeither:
		return "neither"
	case VerdictTrigger:
		return "trigger"
	case VerdictTerminate:
		return "terminate"
	case VerdictUnrecognized:
		return "unrecognized"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}
