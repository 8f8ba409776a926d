// Package audio provides the audio format value object shared by transports,
// providers and the pipeline, together with the G.711 codec helpers needed to
// move between telephony μ-law/A-law streams and linear PCM.
package audio

import (
	"errors"
	"fmt"
)

// Encoding identifies the byte-level encoding of an audio stream.
type Encoding string

const (
	EncodingPCM   Encoding = "pcm"
	EncodingMulaw Encoding = "mulaw"
	EncodingAlaw  Encoding = "alaw"
)

// Client type labels accepted by [ForClient]. Unknown labels resolve to the
// telephony preset, which is the conservative choice for anything dialling in
// over a carrier.
const (
	ClientBrowser = "browser"
	ClientTwilio  = "twilio"
	ClientTelnyx  = "telnyx"
)

var validSampleRates = map[int]bool{
	8000: true, 16000: true, 22050: true, 24000: true, 44100: true, 48000: true,
}

var validBitDepths = map[int]bool{8: true, 16: true, 24: true, 32: true}

// Format is an immutable description of an audio stream: sample rate,
// channel count, bit depth and encoding. Construct via [NewFormat] or one of
// the presets; zero values are not valid formats.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      Encoding
}

// NewFormat validates and builds a Format. All violations are reported at
// once rather than first-failure.
func NewFormat(sampleRate, channels, bitsPerSample int, encoding Encoding) (Format, error) {
	var errs []error
	if !validSampleRates[sampleRate] {
		errs = append(errs, fmt.Errorf("unsupported sample rate %d Hz", sampleRate))
	}
	if channels != 1 && channels != 2 {
		errs = append(errs, fmt.Errorf("unsupported channel count %d", channels))
	}
	if !validBitDepths[bitsPerSample] {
		errs = append(errs, fmt.Errorf("unsupported bit depth %d", bitsPerSample))
	}
	switch encoding {
	case EncodingPCM, EncodingMulaw, EncodingAlaw:
	default:
		errs = append(errs, fmt.Errorf("unsupported encoding %q", encoding))
	}
	if len(errs) > 0 {
		return Format{}, errors.Join(errs...)
	}
	return Format{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bitsPerSample,
		Encoding:      encoding,
	}, nil
}

// ForBrowser is the browser preset: 24 kHz 16-bit mono linear PCM.
func ForBrowser() Format {
	return Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM}
}

// ForTelephony is the carrier preset: 8 kHz 8-bit mono μ-law, the G.711
// framing Twilio and Telnyx media streams use.
func ForTelephony() Format {
	return Format{SampleRate: 8000, Channels: 1, BitsPerSample: 8, Encoding: EncodingMulaw}
}

// ForClient maps a transport client label to its preset. Browser clients get
// the PCM preset; twilio, telnyx and anything unrecognised get telephony.
func ForClient(clientType string) Format {
	switch clientType {
	case ClientBrowser:
		return ForBrowser()
	default:
		return ForTelephony()
	}
}

// BytesPerSecond returns the raw byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// PCM16 returns the linear PCM16 format at the same rate and channel count.
// Transports decode G.711 wire audio into this format before frames enter
// the pipeline, because the VAD and STT stages work on linear samples.
func (f Format) PCM16() Format {
	return Format{
		SampleRate:    f.SampleRate,
		Channels:      f.Channels,
		BitsPerSample: 16,
		Encoding:      EncodingPCM,
	}
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit/%s", f.SampleRate, f.Channels, f.BitsPerSample, f.Encoding)
}
