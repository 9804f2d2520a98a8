package audio

import "encoding/binary"

// SamplesFromPCM16 converts 16-bit signed little-endian PCM to samples. A
// trailing odd byte is ignored.
func SamplesFromPCM16(pcm []byte) []Sample {
	n := len(pcm) / 2
	out := make([]Sample, n)
	for i := range n {
		out[i] = SampleFromInt16(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// SamplesToPCM16 converts samples to 16-bit signed little-endian PCM.
func SamplesToPCM16(samples []Sample) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s.Int16()))
	}
	return out
}

// SamplesFromInts converts integer PCM values of the given bit depth (8, 16,
// 24 or 32) to normalised samples. 8-bit input is treated as unsigned, as in
// WAV files. Unsupported depths are treated as 16-bit.
func SamplesFromInts(data []int, bitDepth int) []Sample {
	var (
		scale  float64
		offset int
	)
	switch bitDepth {
	case 8:
		scale, offset = 127, 128
	case 24:
		scale = 8388607
	case 32:
		scale = 2147483647
	default:
		scale = pcm16Scale
	}
	out := make([]Sample, len(data))
	for i, v := range data {
		out[i] = Sample(float64(v-offset) / scale)
	}
	return out
}

// SamplesToInts converts samples to 16-bit integer PCM values held in ints, the
// representation used by go-audio buffers.
func SamplesToInts(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(s.Int16())
	}
	return out
}

// Float32s returns the raw amplitudes of samples.
func Float32s(samples []Sample) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s)
	}
	return out
}

// Downmix averages interleaved multi-channel samples into a mono stream. If
// channels is 1 or less the input is returned unchanged. A trailing partial
// frame is dropped.
func Downmix(interleaved []Sample, channels int) []Sample {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]Sample, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(interleaved[i*channels+ch])
		}
		out[i] = Sample(sum / float32(channels))
	}
	return out
}
