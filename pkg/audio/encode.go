package audio

import (
	"encoding/binary"
	"math"
)

// EncodeFloat32 converts captured floating-point samples in [-1, 1] into
// signed 16-bit little-endian PCM, one output sample per input sample.
//
// Each sample is clamped to [-1, 1] first. Negative samples are scaled by
// 32768 and non-negative samples by 32767, so the full int16 range is reached
// at both extremes without overflowing at +1.0. NaN encodes as silence.
// The returned slice always has length 2*len(samples).
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(encodeSample(float64(s))))
	}
	return out
}

// encodeSample maps one clamped sample onto the int16 range.
func encodeSample(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	s = max(-1, min(1, s))
	if s < 0 {
		return int16(math.Round(s * 32768))
	}
	return int16(math.Round(s * 32767))
}

// DecodeInt16 converts little-endian int16 PCM back into samples. A trailing
// odd byte is ignored.
func DecodeInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Downmix averages interleaved multi-channel float samples into mono. When
// channels is 1 or less the input is returned unchanged.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
