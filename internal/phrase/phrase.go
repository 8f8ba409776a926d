// Package phrase implements hangup and transfer intent detection on STT
// finals. It checks final transcripts against a set of regex patterns and
// falls back to Jaro-Winkler similarity for phrases the patterns miss because
// the STT mangled a word ("good bye" → "good buy").
//
// Detection runs before the LLM sees the utterance: a caller saying goodbye
// ends the call in one hop instead of waiting for the model to emit its
// end-of-call marker.
package phrase

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Action is what a matched phrase asks the session to do.
type Action string

const (
	// ActionNone means the utterance carries no call-control intent.
	ActionNone Action = ""

	// ActionEndCall ends the session gracefully.
	ActionEndCall Action = "end_call"

	// ActionTransfer hands the caller to a human.
	ActionTransfer Action = "transfer_call"
)

const defaultFuzzyThreshold = 0.88

// Match describes a detected call-control phrase.
type Match struct {
	Action Action

	// Pattern is the name of the rule that fired, for logging.
	Pattern string

	// Confidence is 1.0 for regex hits and the Jaro-Winkler score for fuzzy
	// hits.
	Confidence float64
}

// pattern pairs a compiled regex with its action.
type pattern struct {
	name   string
	re     *regexp.Regexp
	action Action
}

// fuzzyPhrase is a canonical phrase compared by string similarity when no
// regex fires.
type fuzzyPhrase struct {
	text   string
	action Action
}

// Detector checks utterances for call-control intents. It is read-only after
// construction and safe for concurrent use.
type Detector struct {
	patterns       []pattern
	fuzzy          []fuzzyPhrase
	fuzzyThreshold float64
}

// Option configures a [Detector].
type Option func(*Detector)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a fuzzy phrase
// hit. Default: 0.88.
func WithFuzzyThreshold(threshold float64) Option {
	return func(d *Detector) { d.fuzzyThreshold = threshold }
}

// WithExtraEndPhrases registers additional canonical hangup phrases for
// fuzzy matching (agent definitions can extend the defaults per language).
func WithExtraEndPhrases(phrases ...string) Option {
	return func(d *Detector) {
		for _, p := range phrases {
			d.fuzzy = append(d.fuzzy, fuzzyPhrase{text: strings.ToLower(p), action: ActionEndCall})
		}
	}
}

// New returns a [Detector] with the default English pattern set.
func New(opts ...Option) *Detector {
	d := &Detector{
		patterns:       defaultPatterns(),
		fuzzy:          defaultFuzzyPhrases(),
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// defaultPatterns covers the unambiguous phrasings. Word boundaries keep
// "bye" from firing inside "buyer".
func defaultPatterns() []pattern {
	return []pattern{
		{
			name:   "goodbye",
			re:     regexp.MustCompile(`(?i)\b(good\s*bye|bye\s*bye|bye now)\b`),
			action: ActionEndCall,
		},
		{
			name:   "hang up",
			re:     regexp.MustCompile(`(?i)\b(hang up|end (the |this )?call)\b`),
			action: ActionEndCall,
		},
		{
			name:   "that's all",
			re:     regexp.MustCompile(`(?i)\bthat('| i)?s all([,.]? (thanks|thank you))?\b`),
			action: ActionEndCall,
		},
		{
			name:   "human transfer",
			re:     regexp.MustCompile(`(?i)\b((speak|talk) (to|with) a (human|person|real person)|human agent|transfer me)\b`),
			action: ActionTransfer,
		},
		{
			name:   "representative",
			re:     regexp.MustCompile(`(?i)\b(a |an )?(representative|operator)\b`),
			action: ActionTransfer,
		},
	}
}

// defaultFuzzyPhrases are compared whole-utterance by Jaro-Winkler. They
// catch short utterances the STT garbled.
func defaultFuzzyPhrases() []fuzzyPhrase {
	return []fuzzyPhrase{
		{text: "goodbye", action: ActionEndCall},
		{text: "bye bye", action: ActionEndCall},
		{text: "hang up", action: ActionEndCall},
		{text: "transfer me", action: ActionTransfer},
	}
}

// Detect checks one final transcript. The zero [Match] (Action ActionNone)
// means no intent was found.
func (d *Detector) Detect(utterance string) Match {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return Match{}
	}

	for _, p := range d.patterns {
		if p.re.MatchString(trimmed) {
			return Match{Action: p.action, Pattern: p.name, Confidence: 1.0}
		}
	}

	// Fuzzy pass only for short utterances: a long sentence mentioning
	// "goodbye" in passing is the regexes' job, not similarity's.
	lower := strings.ToLower(trimmed)
	if len(strings.Fields(lower)) > 4 {
		return Match{}
	}
	best := Match{}
	for _, f := range d.fuzzy {
		score := matchr.JaroWinkler(lower, f.text, false)
		if score >= d.fuzzyThreshold && score > best.Confidence {
			best = Match{Action: f.action, Pattern: "fuzzy:" + f.text, Confidence: score}
		}
	}
	return best
}
