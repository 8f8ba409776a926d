// Package prompt renders per-generation system prompts for voice agents.
//
// A prompt is assembled from the agent's base system prompt, an optional
// <dynamic_style_overrides> block derived from the agent's style choices, an
// optional <context_data> block of key/value facts, and finally {placeholder}
// substitution from the agent's dynamic vars. [Source] adds concurrent
// context prefetch (knowledge-base matches, cache values) on top of the pure
// [Build] function.
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/voxloop-ai/voxloop/internal/agent"
)

// Style dimensions, in the order they render.
const (
	DimResponseLength = "response_length"
	DimTone           = "tone"
	DimFormality      = "formality"
)

var styleDimensions = []string{DimResponseLength, DimTone, DimFormality}

// styleInstructions maps each dimension's choices to the instruction injected
// into the prompt. Choices outside these maps are skipped.
var styleInstructions = map[string]map[string]string{
	DimResponseLength: {
		"short":  "Keep answers to one or two short sentences.",
		"medium": "Answer in two to four sentences.",
		"long":   "Answer as thoroughly as the question requires.",
	},
	DimTone: {
		"professional": "Maintain a professional, courteous tone.",
		"friendly":     "Sound warm and friendly.",
		"casual":       "Keep the tone relaxed and conversational.",
		"empathetic":   "Acknowledge the caller's feelings before answering.",
	},
	DimFormality: {
		"formal":   "Address the caller formally and avoid slang.",
		"informal": "Use everyday language and contractions.",
	},
}

// placeholderRe matches {snake_or_camel_token}. Anything else between braces
// (spaces, JSON fragments) is left alone.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z][a-zA-Z0-9_]*)\}`)

// Build renders the system prompt for an agent. context holds per-call facts
// layered over the agent's static ContextData (per-call keys win). Empty
// blocks are omitted entirely.
func Build(a *agent.Agent, context map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.SystemPrompt))

	if block := styleBlock(a.StyleOverrides); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	if block := contextBlock(a.ContextData, context); block != "" {
		b.WriteString("\n\n")
		b.WriteString(block)
	}

	out := b.String()
	if a.DynamicVarsEnabled && len(a.DynamicVars) > 0 {
		out = Substitute(out, a.DynamicVars)
	}
	return out
}

// styleBlock renders the <dynamic_style_overrides> block. Dimension keys are
// read tolerantly: "response_length" and "responseLength" both select the
// length dimension.
func styleBlock(overrides map[string]string) string {
	if len(overrides) == 0 {
		return ""
	}
	var lines []string
	for _, dim := range styleDimensions {
		choice, ok := lookup(overrides, dim)
		if !ok {
			continue
		}
		if instr, ok := styleInstructions[dim][strings.ToLower(strings.TrimSpace(choice))]; ok {
			lines = append(lines, instr)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "<dynamic_style_overrides>\n" + strings.Join(lines, "\n") + "\n</dynamic_style_overrides>"
}

// contextBlock renders the <context_data> block from the merged static and
// per-call maps, keys sorted for a stable prompt.
func contextBlock(static, perCall map[string]string) string {
	merged := make(map[string]string, len(static)+len(perCall))
	for k, v := range static {
		merged[k] = v
	}
	for k, v := range perCall {
		merged[k] = v
	}
	for k, v := range merged {
		if strings.TrimSpace(v) == "" {
			delete(merged, k)
		}
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("<context_data>\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, merged[k])
	}
	b.WriteString("</context_data>")
	return b.String()
}

// Substitute replaces {placeholder} tokens with values from vars. Tokens
// without a value are left untouched, so literal braces in the prompt (JSON
// examples) survive. Keys are matched tolerantly against snake_case and
// camelCase spellings.
func Substitute(s string, vars map[string]string) string {
	if len(vars) == 0 {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := lookup(vars, name); ok {
			return v
		}
		return tok
	})
}

// ParseDynamicVars normalizes a dynamic-vars payload into a string map. The
// API accepts a JSON object, a decoded map, or a JSON-encoded string; any
// other shape yields nil.
func ParseDynamicVars(raw any) map[string]string {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]string:
		return v
	case map[string]any:
		return stringify(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil
		}
		return stringify(m)
	default:
		return nil
	}
}

func stringify(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			// skip
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

// lookup reads m by the snake_case key, falling back to its camelCase
// spelling and a case-insensitive scan.
func lookup(m map[string]string, snake string) (string, bool) {
	if v, ok := m[snake]; ok {
		return v, true
	}
	if v, ok := m[snakeToCamel(snake)]; ok {
		return v, true
	}
	want := normalizeKey(snake)
	for k, v := range m {
		if normalizeKey(k) == want {
			return v, true
		}
	}
	return "", false
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}

// normalizeKey lowers a key and drops underscores, collapsing snake_case and
// camelCase spellings into one form.
func normalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "")
}
