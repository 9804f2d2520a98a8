package audio

import "math"

// pcm16Scale maps the normalised float range onto signed 16-bit PCM.
const pcm16Scale = 32767.0

// Sample is a single mono audio sample expressed as a normalised amplitude.
// Decoders produce values in [-1.0, 1.0]; values outside that range are
// tolerated and clamped when converted to integer PCM.
//
// Sample is a plain value type: two samples are equal when their amplitudes
// are equal.
type Sample float32

// SampleFromInt16 converts a signed 16-bit PCM sample to a normalised [Sample].
func SampleFromInt16(v int16) Sample {
	return Sample(float32(v) / pcm16Scale)
}

// Float32 returns the raw normalised amplitude.
func (s Sample) Float32() float32 {
	return float32(s)
}

// Int16 converts the sample to signed 16-bit PCM as round(clamp(v,-1,1)*32767).
func (s Sample) Int16() int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * pcm16Scale))
}

// Energy returns the sum of squared amplitudes of samples. The value is not
// normalised by length, so thresholds compared against it scale with the
// number of samples in the window.
func Energy(samples []Sample) float32 {
	var sum float32
	for _, s := range samples {
		v := float32(s)
		sum += v * v
	}
	return sum
}

// Duration returns the play time of n samples at sampleRate, in seconds.
// Returns 0 when sampleRate is not positive.
func Duration(n, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(n) / float64(sampleRate)
}
