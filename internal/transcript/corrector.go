// Package transcript corrects speech-to-text output against an agent's
// keyword vocabulary.
//
// General STT models mis-hear domain vocabulary: carrier names, product
// names, medication names, people. The [Corrector] re-aligns final
// transcripts against the keywords configured on the agent, using phonetic
// matching (Double Metaphone candidate filtering ranked by Jaro-Winkler
// similarity), so a caller saying "etna" reaches the language model as
// "Aetna".
//
// Correction is pure CPU work with no network calls; it runs inline on the
// transcript hot path between the STT provider and the pipeline.
package transcript

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/voxloop-ai/voxloop/internal/agent"
	"github.com/voxloop-ai/voxloop/internal/transcript/phonetic"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// Correction records a single substitution applied to a transcript.
type Correction struct {
	// Original is the span as the STT provider heard it.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the similarity score backing the substitution, in
	// (0.0, 1.0]. Scores near 1.0 are near-exact; scores near the matcher
	// threshold are speculative.
	Confidence float64
}

// Corrector aligns transcripts against a fixed keyword vocabulary. Build one
// per agent; it is read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
}

// New builds a Corrector from an agent's keyword boosts. The keywords'
// casing is canonical: replacements are emitted exactly as configured.
// opts tune the underlying matcher thresholds.
func New(keywords []types.KeywordBoost, opts ...phonetic.Option) *Corrector {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		terms = append(terms, k.Keyword)
	}
	return &Corrector{matcher: phonetic.New(terms, opts...)}
}

// ForAgent returns the transcript correction hook for an agent, or nil when
// the agent has no keyword vocabulary configured. The returned function has
// the shape the speech-to-text stage expects for its corrector.
func ForAgent(a *agent.Agent) func(string) string {
	if a == nil || len(a.Speech.Keywords) == 0 {
		return nil
	}
	return New(a.Speech.Keywords).Apply
}

// Correct rewrites text so that spans phonetically matching a vocabulary
// term are replaced by the term's canonical spelling. At each position the
// longest matching n-gram wins, so multi-word terms take precedence over
// partial single-word matches. Punctuation around a matched span survives
// the substitution.
//
// The returned corrections record every substitution where the replacement
// differs from the original beyond casing. Text without any vocabulary hits
// is returned unchanged with nil corrections.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if c == nil || c.matcher.Len() == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	tokens := strings.Fields(text)
	maxWords := c.matcher.MaxTermWords()

	var out []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window, lead, trail := carve(tokens[i : i+n])
			if window == "" {
				continue
			}
			term, conf, ok := c.matcher.Match(window)
			if !ok {
				continue
			}

			out = append(out, lead+term+trail)
			if !strings.EqualFold(window, term) {
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  term,
					Confidence: conf,
				})
			}
			i += n
			matched = true
			break
		}

		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	return strings.Join(out, " "), corrections
}

// Apply returns only the corrected text. It matches the hook shape the
// pipeline's speech-to-text stage consumes.
func (c *Corrector) Apply(text string) string {
	corrected, subs := c.Correct(text)
	for _, s := range subs {
		slog.Debug("transcript: vocabulary correction",
			slog.String("original", s.Original),
			slog.String("corrected", s.Corrected),
			slog.Float64("confidence", s.Confidence))
	}
	return corrected
}

// carve joins tokens into a match window, splitting off leading punctuation
// of the first token and trailing punctuation of the last, so "Aetna," still
// matches the term "Aetna". Inner punctuation stays in the window; a comma
// between tokens keeps a multi-word term from matching across a phrase
// boundary.
func carve(tokens []string) (window, lead, trail string) {
	joined := strings.Join(tokens, " ")
	window = strings.TrimLeftFunc(joined, isPunct)
	lead = joined[:len(joined)-len(window)]
	window = strings.TrimRightFunc(window, isPunct)
	trail = joined[len(lead)+len(window):]
	return window, lead, trail
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
