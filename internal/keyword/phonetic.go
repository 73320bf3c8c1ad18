package keyword

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultPhoneticThreshold is the minimum Jaro-Winkler similarity for a
// phonetic phrase match.
const DefaultPhoneticThreshold = 0.90

// phoneticMatcher finds phrases in a transcript that sound like a known
// phrase but are spelled differently.
//
// A window of the transcript is a candidate for a phrase when, word by word,
// the Double Metaphone codes overlap. Candidates are accepted when the
// Jaro-Winkler similarity of the window and the phrase, compared with and
// without spaces, reaches the threshold.
type phoneticMatcher struct {
	threshold float64
}

// find returns the first phrase in list matched by any window of tokens.
func (p *phoneticMatcher) find(tokens []string, list []phrase) (string, bool) {
	codes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		codes[i] = codesFor(t)
	}
	for _, ph := range list {
		n := len(ph.tokens)
		for i := 0; i+n <= len(tokens); i++ {
			if !aligned(tokens[i:i+n], codes[i:i+n], ph.tokens) {
				continue
			}
			if score(tokens[i:i+n], ph.tokens) >= p.threshold {
				return ph.text, true
			}
		}
	}
	return "", false
}

// aligned reports whether every window word shares a Double Metaphone code
// with the phrase word in the same position. Words without a code (too
// short, no consonants) must match exactly.
func aligned(window []string, windowCodes []map[string]struct{}, want []string) bool {
	for j, w := range want {
		wc := codesFor(w)
		if len(wc) == 0 || len(windowCodes[j]) == 0 {
			if window[j] != w {
				return false
			}
			continue
		}
		if !codesOverlap(windowCodes[j], wc) {
			return false
		}
	}
	return true
}

// score is the best Jaro-Winkler similarity of the spaced and the
// concatenated forms.
func score(window, want []string) float64 {
	s := matchr.JaroWinkler(strings.Join(window, " "), strings.Join(want, " "), false)
	if len(want) > 1 {
		if c := matchr.JaroWinkler(strings.Join(window, ""), strings.Join(want, ""), false); c > s {
			s = c
		}
	}
	return s
}

// codesFor returns the non-empty Double Metaphone codes of word.
func codesFor(word string) map[string]struct{} {
	word = strings.ReplaceAll(word, "'", "")
	codes := make(map[string]struct{}, 2)
	prim, sec := matchr.DoubleMetaphone(word)
	if prim != "" {
		codes[prim] = struct{}{}
	}
	if sec != "" {
		codes[sec] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
