package agent

import (
	"strings"

	"github.com/voxloop-ai/voxloop/pkg/types"
)

// Settings is an untyped agent option bag as it arrives from HTTP config
// merges or loosely-typed YAML. Keys are looked up tolerantly: the snake_case
// spelling is tried first, then the camelCase variant, so "voice_name" and
// "voiceName" address the same option.
type Settings map[string]any

// lookup resolves key in snake_case or camelCase form.
func (s Settings) lookup(key string) (any, bool) {
	if v, ok := s[key]; ok {
		return v, true
	}
	if v, ok := s[camelCase(key)]; ok {
		return v, true
	}
	return nil, false
}

// camelCase converts a snake_case key to its camelCase spelling.
func camelCase(snake string) string {
	parts := strings.Split(snake, "_")
	if len(parts) == 1 {
		return snake
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// String returns the string value for key, or def when the key is absent or
// holds a non-string.
func (s Settings) String(key, def string) string {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	str, ok := v.(string)
	if !ok {
		return def
	}
	return str
}

// Float returns the numeric value for key, accepting float64 and int
// representations. YAML and JSON decoders disagree on which one a literal
// like "0.7" or "600" lands as.
func (s Settings) Float(key string, def float64) float64 {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// Int returns the integer value for key, truncating float representations.
func (s Settings) Int(key string, def int) int {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return def
	}
}

// Bool returns the boolean value for key, or def when absent or non-boolean.
func (s Settings) Bool(key string, def bool) bool {
	v, ok := s.lookup(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// StringMap returns the map value for key with all entries coerced to
// strings. Non-string values are skipped.
func (s Settings) StringMap(key string) map[string]string {
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if str, ok := val.(string); ok {
			out[k] = str
		}
	}
	return out
}

// Strings returns the string-slice value for key. Both []string and []any
// holding strings are accepted.
func (s Settings) Strings(key string) []string {
	v, ok := s.lookup(key)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// FromSettings builds a normalized [Agent] from an untyped option bag.
// Unknown keys are ignored; missing keys fall back to package defaults.
func FromSettings(s Settings) *Agent {
	a := &Agent{
		UUID:         s.String("uuid", ""),
		Name:         s.String("name", ""),
		SystemPrompt: s.String("system_prompt", ""),
		FirstMessage: s.String("first_message", ""),
		Voice: Voice{
			Name:        s.String("voice_name", ""),
			Provider:    s.String("voice_provider", ""),
			Speed:       s.Float("voice_speed", 0),
			Pitch:       s.Float("voice_pitch", 0),
			Volume:      s.Float("voice_volume", 0),
			Style:       s.String("voice_style", ""),
			StyleDegree: s.Float("voice_style_degree", 0),
		},
		Model: Model{
			Name:        s.String("model", ""),
			Temperature: s.Float("temperature", 0),
			MaxTokens:   s.Int("max_tokens", 0),
		},
		Speech: Speech{
			Language: s.String("language", ""),
		},
		ClientType:           s.String("client_type", ""),
		SilenceTimeoutMs:     s.Int("silence_timeout_ms", 0),
		ConfirmationWindowMs: s.Int("confirmation_window_ms", 0),
		StyleOverrides:       s.StringMap("style_overrides"),
		ContextData:          s.StringMap("context_data"),
		Tools:                s.Strings("tools"),
		DynamicVarsEnabled:   s.Bool("dynamic_vars_enabled", false),
		DynamicVars:          s.StringMap("dynamic_vars"),
		EndCallPhrases:       s.Strings("end_call_phrases"),
		TransferPhrases:      s.Strings("transfer_phrases"),
		TransferNumber:       s.String("transfer_number", ""),
		KnowledgeEnabled:     s.Bool("knowledge_enabled", false),
		Active:               s.Bool("active", false),
	}
	for _, kw := range s.Strings("keywords") {
		a.Speech.Keywords = append(a.Speech.Keywords, types.KeywordBoost{Keyword: kw, Boost: 1})
	}
	a.Normalize()
	return a
}

// Apply merges the option bag into an existing agent in place, touching only
// the keys present in s. Used by partial config updates over HTTP.
func (a *Agent) Apply(s Settings) {
	if v, ok := s.lookup("name"); ok {
		if str, isStr := v.(string); isStr {
			a.Name = str
		}
	}
	if _, ok := s.lookup("system_prompt"); ok {
		a.SystemPrompt = s.String("system_prompt", a.SystemPrompt)
	}
	if _, ok := s.lookup("first_message"); ok {
		a.FirstMessage = s.String("first_message", a.FirstMessage)
	}
	if _, ok := s.lookup("voice_name"); ok {
		a.Voice.Name = s.String("voice_name", a.Voice.Name)
	}
	if _, ok := s.lookup("voice_provider"); ok {
		a.Voice.Provider = s.String("voice_provider", a.Voice.Provider)
	}
	if _, ok := s.lookup("voice_speed"); ok {
		a.Voice.Speed = s.Float("voice_speed", a.Voice.Speed)
	}
	if _, ok := s.lookup("voice_pitch"); ok {
		a.Voice.Pitch = s.Float("voice_pitch", a.Voice.Pitch)
	}
	if _, ok := s.lookup("voice_volume"); ok {
		a.Voice.Volume = s.Float("voice_volume", a.Voice.Volume)
	}
	if _, ok := s.lookup("voice_style"); ok {
		a.Voice.Style = s.String("voice_style", a.Voice.Style)
	}
	if _, ok := s.lookup("voice_style_degree"); ok {
		a.Voice.StyleDegree = s.Float("voice_style_degree", a.Voice.StyleDegree)
	}
	if _, ok := s.lookup("model"); ok {
		a.Model.Name = s.String("model", a.Model.Name)
	}
	if _, ok := s.lookup("temperature"); ok {
		a.Model.Temperature = s.Float("temperature", a.Model.Temperature)
	}
	if _, ok := s.lookup("max_tokens"); ok {
		a.Model.MaxTokens = s.Int("max_tokens", a.Model.MaxTokens)
	}
	if _, ok := s.lookup("language"); ok {
		a.Speech.Language = s.String("language", a.Speech.Language)
	}
	if _, ok := s.lookup("client_type"); ok {
		a.ClientType = s.String("client_type", a.ClientType)
	}
	if _, ok := s.lookup("silence_timeout_ms"); ok {
		a.SilenceTimeoutMs = s.Int("silence_timeout_ms", a.SilenceTimeoutMs)
	}
	if _, ok := s.lookup("confirmation_window_ms"); ok {
		a.ConfirmationWindowMs = s.Int("confirmation_window_ms", a.ConfirmationWindowMs)
	}
	if _, ok := s.lookup("transfer_number"); ok {
		a.TransferNumber = s.String("transfer_number", a.TransferNumber)
	}
	if _, ok := s.lookup("dynamic_vars_enabled"); ok {
		a.DynamicVarsEnabled = s.Bool("dynamic_vars_enabled", a.DynamicVarsEnabled)
	}
	if _, ok := s.lookup("knowledge_enabled"); ok {
		a.KnowledgeEnabled = s.Bool("knowledge_enabled", a.KnowledgeEnabled)
	}
	if _, ok := s.lookup("active"); ok {
		a.Active = s.Bool("active", a.Active)
	}
	if m := s.StringMap("style_overrides"); m != nil {
		a.StyleOverrides = m
	}
	if m := s.StringMap("context_data"); m != nil {
		a.ContextData = m
	}
	if m := s.StringMap("dynamic_vars"); m != nil {
		a.DynamicVars = m
	}
	if list := s.Strings("tools"); list != nil {
		a.Tools = list
	}
	if list := s.Strings("end_call_phrases"); list != nil {
		a.EndCallPhrases = list
	}
	if list := s.Strings("transfer_phrases"); list != nil {
		a.TransferPhrases = list
	}
}
