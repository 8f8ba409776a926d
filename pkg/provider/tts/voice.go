package tts

import (
	"errors"
	"fmt"
)

// Default tuning values applied when an agent config omits a voice field.
const (
	DefaultSpeed       = 1.0
	DefaultPitch       = 0.0
	DefaultVolume      = 100.0
	DefaultStyleDegree = 1.0
)

// VoiceConfig describes how a voice should speak: which voice, and the
// prosody tuning applied to it. It is an immutable value object; build one
// with [NewVoiceConfig] so range violations surface at the boundary instead
// of as provider API errors mid-call.
type VoiceConfig struct {
	// Name is the provider-specific voice identifier.
	Name string

	// Speed is the speaking-rate multiplier, 0.5–2.0.
	Speed float64

	// Pitch shifts the base pitch in Hz, -100–100.
	Pitch float64

	// Volume is the output gain percentage, 0–100.
	Volume float64

	// Style selects a provider voice style (e.g. "cheerful"). Optional.
	Style string

	// StyleDegree scales the style intensity, 0.01–2.0.
	StyleDegree float64

	// Provider pins the config to a TTS provider. Optional; empty means
	// whichever provider the pipeline resolved.
	Provider string
}

// NewVoiceConfig validates and builds a VoiceConfig. All range violations are
// reported at once.
func NewVoiceConfig(name string, speed, pitch, volume float64, style string, styleDegree float64, provider string) (VoiceConfig, error) {
	var errs []error
	if speed < 0.5 || speed > 2.0 {
		errs = append(errs, fmt.Errorf("speed %.2f out of range [0.5, 2.0]", speed))
	}
	if pitch < -100 || pitch > 100 {
		errs = append(errs, fmt.Errorf("pitch %.1f out of range [-100, 100]", pitch))
	}
	if volume < 0 || volume > 100 {
		errs = append(errs, fmt.Errorf("volume %.1f out of range [0, 100]", volume))
	}
	if styleDegree < 0.01 || styleDegree > 2.0 {
		errs = append(errs, fmt.Errorf("style degree %.2f out of range [0.01, 2.0]", styleDegree))
	}
	if len(errs) > 0 {
		return VoiceConfig{}, errors.Join(errs...)
	}
	return VoiceConfig{
		Name:        name,
		Speed:       speed,
		Pitch:       pitch,
		Volume:      volume,
		Style:       style,
		StyleDegree: styleDegree,
		Provider:    provider,
	}, nil
}

// DefaultVoiceConfig returns a neutral configuration for the named voice.
func DefaultVoiceConfig(name string) VoiceConfig {
	return VoiceConfig{
		Name:        name,
		Speed:       DefaultSpeed,
		Pitch:       DefaultPitch,
		Volume:      DefaultVolume,
		StyleDegree: DefaultStyleDegree,
	}
}
