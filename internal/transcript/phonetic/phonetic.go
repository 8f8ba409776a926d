// Package phonetic aligns misheard words with a known vocabulary using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input and compared against the precomputed codes of
//     every vocabulary term. A term sharing at least one code with the input
//     becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected, provided its score clears the
//     configurable phonetic threshold.
//
//     When no phonetic candidate clears it, a secondary pass accepts pure
//     Jaro-Winkler similarity against all terms using a stricter fuzzy
//     threshold (default 0.85).
//
// Multi-word terms (e.g. "Blue Shield") are supported: the matcher encodes
// each word separately for candidate filtering, and a single-word input may
// still reach a multi-word term through its most similar token.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// term is a vocabulary entry with its phonetic codes precomputed.
type term struct {
	raw    string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Matcher resolves misheard words against a fixed vocabulary. The vocabulary
// is compiled once at construction so that Match only has to encode the
// input, making it cheap enough for the live transcript path. All methods
// are safe for concurrent use; the Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []term
	maxWords          int
}

// New compiles vocabulary into a [Matcher]. Blank entries are skipped; term
// casing is preserved and returned verbatim from [Matcher.Match]. Default
// thresholds are 0.70 for phonetic matches and 0.85 for fuzzy fallback
// matches.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		raw := strings.TrimSpace(v)
		if raw == "" {
			continue
		}
		lower := strings.ToLower(raw)
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			raw:    raw,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
		if len(tokens) > m.maxWords {
			m.maxWords = len(tokens)
		}
	}
	return m
}

// Len returns the number of usable vocabulary terms.
func (m *Matcher) Len() int {
	return len(m.terms)
}

// MaxTermWords returns the token count of the longest vocabulary term.
// Callers use it to size the n-gram window when scanning running text.
func (m *Matcher) MaxTermWords() int {
	return m.maxWords
}

// Match attempts to find the vocabulary term most phonetically similar to
// word.
//
// word may be a single word or a space-separated phrase (n-gram). When word
// contains multiple tokens, the matcher checks whether any token phonetically
// aligns with any token of a multi-word term, then ranks by Jaro-Winkler on
// the full strings.
//
// When matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string) (corrected string, confidence float64, matched bool) {
	if len(m.terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, t := range m.terms {
		phoneticMatch := codesOverlap(inputCodes, t.codes)

		// Best Jaro-Winkler score across several comparison strategies,
		// to handle multi-word mismatches robustly.
		jwScore := bestJWScore(wordTokens, t.tokens, wordLower, t.lower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: t.raw, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: t.raw, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set.
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

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term using three strategies:
//
//  1. Full-string comparison (e.g. "et na" vs "aetna").
//  2. Space-stripped comparison (e.g. "etna" vs "aetna").
//  3. For single-word inputs only, the best score against any individual
//     term token (a caller saying just "shield" still reaches the term
//     "Blue Shield"). Multi-word inputs must align as a whole; otherwise
//     one strong token pair would let a window swallow unrelated words.
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, termFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: single input word against each term token.
	if len(inputTokens) == 1 {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(inputTokens[0], tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
