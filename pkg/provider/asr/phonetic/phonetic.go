// Package phonetic implements an in-process asr.Corrector that repairs
// recognition errors against a fixed lexicon of known phrases using Double
// Metaphone phonetic encoding combined with Jaro-Winkler string similarity.
//
// The algorithm proceeds in two stages per candidate window:
//
//  1. Phonetic anchoring: only lexicon entries with the same word count whose
//     first word shares a Double Metaphone code with the window's first word
//     are candidates.
//
//  2. Jaro-Winkler ranking: among candidates, the entry with the highest
//     Jaro-Winkler similarity (case-insensitive) is accepted when its score
//     exceeds the phonetic threshold. When no anchored candidate is found, a
//     pure Jaro-Winkler pass with a stricter fuzzy threshold serves as
//     fallback.
//
// Multi-word lexicon entries are matched with n-gram windows, longest first.
//
// This corrector is latency-free and deterministic, which makes it the
// default correction backend for interactive sessions where a round trip to
// a remote correction model would stall the reply.
package phonetic

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/parlance/pkg/provider/asr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// entry is a precomputed lexicon entry.
type entry struct {
	text  string
	lower string
	words int
	// first holds the Double Metaphone codes of the first word. Windows whose
	// first word shares no code are rejected outright, which keeps a phrase
	// like "the tower of" from sliding onto "Tower of Whispers".
	first []string
}

// Corrector is a lexicon-based phonetic corrector. It implements
// asr.Corrector and is safe for concurrent use — all state is read-only
// after construction.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	entries           []entry
	maxWords          int
}

var _ asr.Corrector = (*Corrector)(nil)

// New returns a Corrector over the given lexicon. Empty lexicon entries are
// ignored; an empty lexicon yields a pass-through corrector.
func New(lexicon []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	for _, phrase := range lexicon {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		e := entry{
			text:  phrase,
			lower: strings.ToLower(phrase),
			words: len(strings.Fields(phrase)),
		}
		e.first = metaphoneCodes(strings.Fields(e.lower)[0])
		c.entries = append(c.entries, e)
		if e.words > c.maxWords {
			c.maxWords = e.words
		}
	}
	return c
}

// Correct implements asr.Corrector. The context is unused — correction is
// purely in-process — but kept for interface conformity.
func (c *Corrector) Correct(_ context.Context, text string) (asr.CorrectResult, error) {
	result := asr.CorrectResult{Text: text, Edits: []asr.Correction{}}
	if len(c.entries) == 0 {
		return result, nil
	}

	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return result, nil
	}

	var output []string
	runePos := 0

	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			replacement, ok := c.match(window)
			if !ok || strings.EqualFold(window, replacement) {
				continue
			}

			output = append(output, replacement)
			result.Edits = append(result.Edits, asr.Correction{
				Original:  window,
				Corrected: replacement,
				Position:  runePos,
			})
			runePos += utf8.RuneCountInString(window) + 1
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			runePos += utf8.RuneCountInString(tokens[i]) + 1
			i++
		}
	}

	result.Text = strings.Join(output, " ")
	return result, nil
}

// match finds the lexicon entry most similar to window, or reports no match.
// Only entries with the same word count as the window are considered.
func (c *Corrector) match(window string) (string, bool) {
	lower := strings.ToLower(window)
	words := strings.Fields(lower)
	firstCodes := metaphoneCodes(words[0])

	bestEntry, bestScore := "", 0.0
	phoneticHit := false

	for _, e := range c.entries {
		if e.words != len(words) || !codesOverlap(firstCodes, e.first) {
			continue
		}
		score := matchr.JaroWinkler(lower, e.lower, true)
		if score > bestScore {
			bestEntry, bestScore = e.text, score
			phoneticHit = true
		}
	}

	if phoneticHit && bestScore >= c.phoneticThreshold {
		return bestEntry, true
	}

	// Fuzzy fallback: no phonetic anchor, so demand a stricter string match.
	bestEntry, bestScore = "", 0.0
	for _, e := range c.entries {
		if e.words != len(words) {
			continue
		}
		score := matchr.JaroWinkler(lower, e.lower, true)
		if score > bestScore {
			bestEntry, bestScore = e.text, score
		}
	}
	if bestScore >= c.fuzzyThreshold {
		return bestEntry, true
	}
	return "", false
}

// metaphoneCodes returns the distinct Double Metaphone codes of word.
func metaphoneCodes(word string) []string {
	primary, alternate := matchr.DoubleMetaphone(word)
	codes := make([]string, 0, 2)
	if primary != "" {
		codes = append(codes, primary)
	}
	if alternate != "" && alternate != primary {
		codes = append(codes, alternate)
	}
	return codes
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
