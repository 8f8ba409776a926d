package audio_test

import (
	"testing"

	"github.com/voxloop-ai/voxloop/pkg/audio"
)

func TestMulawKnownValues(t *testing.T) {
	// 0xFF is the μ-law code for digital zero, 0x00 for the most negative
	// sample.
	if got := audio.DecodeMulaw([]byte{0xFF})[0]; got != 0 {
		t.Errorf("DecodeMulaw(0xFF) = %d, want 0", got)
	}
	if got := audio.DecodeMulaw([]byte{0x00})[0]; got != -32124 {
		t.Errorf("DecodeMulaw(0x00) = %d, want -32124", got)
	}
	if got := audio.EncodeMulaw([]int16{0})[0]; got != 0xFF {
		t.Errorf("EncodeMulaw(0) = %#02x, want 0xFF", got)
	}
	if got := audio.EncodeMulaw([]int16{-32124})[0]; got != 0x00 {
		t.Errorf("EncodeMulaw(-32124) = %#02x, want 0x00", got)
	}
}

func TestMulawCodeRoundTrip(t *testing.T) {
	// Decode then encode must reproduce every code except 0x7F: both 0x7F
	// and 0xFF decode to zero, and the encoder canonically picks 0xFF.
	for b := 0; b < 256; b++ {
		pcm := audio.DecodeMulaw([]byte{byte(b)})
		got := audio.EncodeMulaw(pcm)[0]
		want := byte(b)
		if b == 0x7F {
			want = 0xFF
		}
		if got != want {
			t.Errorf("code %#02x: round trip = %#02x, want %#02x", b, got, want)
		}
	}
}

func TestMulawQuantizationError(t *testing.T) {
	// Encode/decode of arbitrary samples is lossy but the error must stay
	// within the μ-law segment step for mid-range amplitudes.
	for _, s := range []int16{-2000, -500, -37, 0, 37, 500, 1000, 2000} {
		enc := audio.EncodeMulaw([]int16{s})
		dec := audio.DecodeMulaw(enc)[0]
		diff := int(dec) - int(s)
		if diff < 0 {
			diff = -diff
		}
		if diff > 64 {
			t.Errorf("sample %d: decoded %d differs by %d, want <= 64", s, dec, diff)
		}
	}
}

func TestAlawCodeRoundTrip(t *testing.T) {
	// A-law has no zero-code collision: decode then encode is the identity
	// on all 256 codes.
	for b := 0; b < 256; b++ {
		pcm := audio.DecodeAlaw([]byte{byte(b)})
		if got := audio.EncodeAlaw(pcm)[0]; got != byte(b) {
			t.Errorf("code %#02x: round trip = %#02x", b, got)
		}
	}
}

func TestAlawSigns(t *testing.T) {
	// Smallest magnitudes: 0x55 decodes to -8, 0xD5 to +8.
	if got := audio.DecodeAlaw([]byte{0x55})[0]; got != -8 {
		t.Errorf("DecodeAlaw(0x55) = %d, want -8", got)
	}
	if got := audio.DecodeAlaw([]byte{0xD5})[0]; got != 8 {
		t.Errorf("DecodeAlaw(0xD5) = %d, want 8", got)
	}
}

func TestBytesToPCM_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	data := audio.PCMToBytes(samples)
	got, err := audio.BytesToPCM(data)
	if err != nil {
		t.Fatalf("BytesToPCM: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToPCM_OddLength(t *testing.T) {
	if _, err := audio.BytesToPCM([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for odd byte count, got nil")
	}
}

func TestPCMFloat32(t *testing.T) {
	got := audio.PCMFloat32([]int16{0, 16384, -16384, -32768})
	want := []float32{0, 0.5, -0.5, -1.0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestResample_Upsample(t *testing.T) {
	// 4 samples at 8 kHz → 8 samples at 16 kHz; midpoints interpolate.
	in := []int16{0, 1000, 2000, 3000}
	out := audio.Resample(in, 8000, 16000)
	if len(out) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(out))
	}
	if out[0] != 0 {
		t.Errorf("first sample: got %d, want 0", out[0])
	}
	if out[1] != 500 {
		t.Errorf("interpolated sample: got %d, want 500", out[1])
	}
}

func TestResample_Downsample(t *testing.T) {
	in := make([]int16, 480) // 20 ms @ 24 kHz
	out := audio.Resample(in, 24000, 8000)
	if len(out) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(out))
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []int16{1, 2, 3}
	out := audio.Resample(in, 8000, 8000)
	if &out[0] != &in[0] {
		t.Error("expected same slice for matching rates")
	}
}

func TestTranscode_MulawToPCM(t *testing.T) {
	// 20 ms of μ-law at 8 kHz → PCM16 at 16 kHz doubles the sample count.
	mulaw := make([]byte, 160)
	for i := range mulaw {
		mulaw[i] = 0xFF
	}
	out, err := audio.Transcode(mulaw, audio.ForTelephony(), audio.Format{
		SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: audio.EncodingPCM,
	})
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if len(out) != 640 {
		t.Errorf("expected 640 bytes (320 samples), got %d", len(out))
	}
}

func TestTranscode_PCMToMulaw(t *testing.T) {
	pcm := audio.PCMToBytes(make([]int16, 480)) // 20 ms @ 24 kHz
	out, err := audio.Transcode(pcm, audio.ForBrowser(), audio.ForTelephony())
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if len(out) != 160 {
		t.Errorf("expected 160 μ-law bytes, got %d", len(out))
	}
	for i, b := range out {
		if b != 0xFF {
			t.Fatalf("byte %d: silence should encode to 0xFF, got %#02x", i, b)
		}
	}
}

func TestTranscode_StereoRejected(t *testing.T) {
	stereo := audio.Format{SampleRate: 48000, Channels: 2, BitsPerSample: 16, Encoding: audio.EncodingPCM}
	if _, err := audio.Transcode(nil, stereo, audio.ForTelephony()); err == nil {
		t.Error("expected error for stereo source, got nil")
	}
}

func TestTranscode_OddPCMLength(t *testing.T) {
	pcmFmt := audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Encoding: audio.EncodingPCM}
	if _, err := audio.Transcode([]byte{1, 2, 3}, pcmFmt, audio.ForTelephony()); err == nil {
		t.Error("expected error for odd PCM length, got nil")
	}
}
