package audio

import (
	"encoding/binary"
	"fmt"
)

// G.711 μ-law constants.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawDecodeTable is the standard ITU-T G.711 μ-law expansion table.
var mulawDecodeTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// DecodeMulaw expands 8-bit μ-law samples into linear PCM16.
func DecodeMulaw(data []byte) []int16 {
	pcm := make([]int16, len(data))
	for i, b := range data {
		pcm[i] = mulawDecodeTable[b]
	}
	return pcm
}

// EncodeMulaw compresses linear PCM16 samples into 8-bit μ-law.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = mulawEncodeSample(s)
	}
	return out
}

func mulawEncodeSample(pcm int16) byte {
	sign := byte(0)
	if pcm < 0 {
		sign = 0x80
		if pcm == -32768 {
			pcm = -32767
		}
		pcm = -pcm
	}
	if pcm > mulawClip {
		pcm = mulawClip
	}
	pcm += mulawBias

	exponent := byte(7)
	for mask := int16(0x4000); mask != 0 && pcm&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(pcm>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeAlaw expands 8-bit A-law samples into linear PCM16.
func DecodeAlaw(data []byte) []int16 {
	pcm := make([]int16, len(data))
	for i, b := range data {
		pcm[i] = alawDecodeSample(b)
	}
	return pcm
}

// EncodeAlaw compresses linear PCM16 samples into 8-bit A-law.
func EncodeAlaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = alawEncodeSample(s)
	}
	return out
}

func alawDecodeSample(alaw byte) int16 {
	alaw ^= 0x55
	sign := alaw & 0x80
	exponent := (alaw & 0x70) >> 4
	mantissa := int16(alaw & 0x0F)

	var sample int16
	if exponent == 0 {
		sample = mantissa<<4 + 8
	} else {
		sample = (mantissa<<4 + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		return -sample
	}
	return sample
}

func alawEncodeSample(pcm int16) byte {
	sign := byte(0x80)
	if pcm < 0 {
		sign = 0
		pcm = ^pcm
	}
	if pcm > 32635 {
		pcm = 32635
	}

	var alaw byte
	if pcm >= 256 {
		exponent := byte(7)
		for mask := int16(0x4000); mask != 0 && pcm&mask == 0; mask >>= 1 {
			exponent--
		}
		mantissa := byte(pcm>>(exponent+3)) & 0x0F
		alaw = exponent<<4 | mantissa
	} else {
		alaw = byte(pcm >> 4)
	}
	return (alaw | sign) ^ 0x55
}

// BytesToPCM reinterprets little-endian PCM16 bytes as samples. The length
// must be even.
func BytesToPCM(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 data has odd length %d", len(data))
	}
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, nil
}

// PCMToBytes serialises samples as little-endian PCM16 bytes.
func PCMToBytes(pcm []int16) []byte {
	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// PCMFloat32 normalises PCM16 samples to float32 in [-1, 1), the input scale
// VAD models expect.
func PCMFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Resample converts between sample rates by linear interpolation. It is
// deliberately simple: telephony upsampling (8 kHz → 16/24 kHz) does not
// benefit from a polyphase filter enough to justify one in the hot path.
func Resample(input []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(input) == 0 {
		return input
	}

	ratio := float64(inputRate) / float64(outputRate)
	outputLen := int(float64(len(input)) / ratio)
	output := make([]int16, outputLen)

	for i := range output {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		switch {
		case srcIdx+1 < len(input):
			a := float64(input[srcIdx])
			b := float64(input[srcIdx+1])
			output[i] = int16(a + (b-a)*frac)
		case srcIdx < len(input):
			output[i] = input[srcIdx]
		}
	}
	return output
}

// Transcode converts raw audio bytes from one format to another, decoding to
// linear PCM, resampling when rates differ, and re-encoding. Channel mixing
// is not supported; both formats must be mono.
func Transcode(data []byte, from, to Format) ([]byte, error) {
	if from.Channels != 1 || to.Channels != 1 {
		return nil, fmt.Errorf("transcode supports mono only, got %dch -> %dch", from.Channels, to.Channels)
	}

	var pcm []int16
	var err error
	switch from.Encoding {
	case EncodingMulaw:
		pcm = DecodeMulaw(data)
	case EncodingAlaw:
		pcm = DecodeAlaw(data)
	case EncodingPCM:
		if pcm, err = BytesToPCM(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported source encoding %q", from.Encoding)
	}

	pcm = Resample(pcm, from.SampleRate, to.SampleRate)

	switch to.Encoding {
	case EncodingMulaw:
		return EncodeMulaw(pcm), nil
	case EncodingAlaw:
		return EncodeAlaw(pcm), nil
	case EncodingPCM:
		return PCMToBytes(pcm), nil
	default:
		return nil, fmt.Errorf("unsupported target encoding %q", to.Encoding)
	}
}
