package agent

import (
	"strings"
	"testing"
)

func validAgent() *Agent {
	a := &Agent{
		Name:         "support-line",
		SystemPrompt: "You are a helpful phone assistant.",
		FirstMessage: "Hello, how can I help you today?",
	}
	a.Normalize()
	return a
}

func TestNormalize_Defaults(t *testing.T) {
	a := &Agent{Name: "x", SystemPrompt: "y"}
	a.Normalize()

	if a.Model.Name != DefaultModel {
		t.Errorf("Model.Name = %q, want %q", a.Model.Name, DefaultModel)
	}
	if a.Model.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", a.Model.Temperature, DefaultTemperature)
	}
	if a.Model.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", a.Model.MaxTokens, DefaultMaxTokens)
	}
	if a.ClientType != "browser" {
		t.Errorf("ClientType = %q, want browser", a.ClientType)
	}
	if a.SilenceTimeoutMs != DefaultSilenceTimeoutMs {
		t.Errorf("SilenceTimeoutMs = %d, want %d", a.SilenceTimeoutMs, DefaultSilenceTimeoutMs)
	}
	if a.Voice.Speed != 1.0 {
		t.Errorf("Voice.Speed = %v, want 1.0", a.Voice.Speed)
	}
}

func TestNormalize_PreservesExplicitValues(t *testing.T) {
	a := &Agent{
		Name:         "x",
		SystemPrompt: "y",
		Model:        Model{Name: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 150},
		ClientType:   "twilio",
	}
	a.Normalize()

	if a.Model.Name != "gpt-4o-mini" {
		t.Errorf("Model.Name = %q, want gpt-4o-mini", a.Model.Name)
	}
	if a.Model.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", a.Model.Temperature)
	}
	if a.ClientType != "twilio" {
		t.Errorf("ClientType = %q, want twilio", a.ClientType)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Agent)
		wantErr string
	}{
		{name: "valid", mutate: func(a *Agent) {}},
		{
			name:    "missing name",
			mutate:  func(a *Agent) { a.Name = "" },
			wantErr: "name must not be empty",
		},
		{
			name:    "missing prompt",
			mutate:  func(a *Agent) { a.SystemPrompt = "" },
			wantErr: "system_prompt must not be empty",
		},
		{
			name:    "temperature too high",
			mutate:  func(a *Agent) { a.Model.Temperature = 2.5 },
			wantErr: "temperature",
		},
		{
			name:    "negative silence timeout",
			mutate:  func(a *Agent) { a.SilenceTimeoutMs = -1 },
			wantErr: "silence_timeout_ms",
		},
		{
			name:    "unknown client type",
			mutate:  func(a *Agent) { a.ClientType = "carrier-pigeon" },
			wantErr: "client_type",
		},
		{
			name:    "voice speed out of range",
			mutate:  func(a *Agent) { a.Voice.Speed = 3.0 },
			wantErr: "speed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAgent()
			tt.mutate(a)
			err := a.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	a := validAgent()
	a.Name = ""
	a.Model.Temperature = 9
	a.SilenceTimeoutMs = -5

	err := a.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"name", "temperature", "silence_timeout_ms"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() missing %q in %q", want, err)
		}
	}
}

func TestVoiceConfig_Defaults(t *testing.T) {
	a := &Agent{Name: "x", SystemPrompt: "y", Voice: Voice{Name: "rachel"}}

	vc, err := a.VoiceConfig()
	if err != nil {
		t.Fatalf("VoiceConfig() error = %v", err)
	}
	if vc.Name != "rachel" {
		t.Errorf("Name = %q, want rachel", vc.Name)
	}
	if vc.Speed != 1.0 || vc.Volume != 100.0 || vc.StyleDegree != 1.0 {
		t.Errorf("tuning = %v/%v/%v, want 1.0/100.0/1.0", vc.Speed, vc.Volume, vc.StyleDegree)
	}
}

func TestClone_Independent(t *testing.T) {
	a := validAgent()
	a.ContextData = map[string]string{"hours": "9-5"}
	a.Tools = []string{"end_call"}

	c := a.Clone()
	c.ContextData["hours"] = "closed"
	c.Tools[0] = "transfer_call"
	c.Name = "other"

	if a.ContextData["hours"] != "9-5" {
		t.Errorf("original ContextData mutated: %v", a.ContextData)
	}
	if a.Tools[0] != "end_call" {
		t.Errorf("original Tools mutated: %v", a.Tools)
	}
	if a.Name != "support-line" {
		t.Errorf("original Name mutated: %q", a.Name)
	}
}
