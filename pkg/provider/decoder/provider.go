// Package decoder defines the Provider interface for compressed-audio decoding
// backends.
//
// A decoder turns an opaque container payload (MP4/AAC, MP3, Ogg/Opus, WAV,
// ...) into mono [audio.Sample] values. Decoding is incremental across calls
// through a resume offset: the caller passes the number of samples it already
// consumed from earlier payloads of the same logical stream, and the decoder
// returns only the samples after that offset together with the running total.
//
// Undecodable input is not an error. It yields an empty [Result] whose
// SampleCount equals the resume offset, so the caller simply retries with the
// next payload. Errors are reserved for infrastructure faults such as a
// cancelled context or a missing decoder binary.
//
// Implementations must be safe for concurrent use, although callers usually
// serialise decodes through a single dispatcher.
package decoder

import (
	"context"

	"github.com/MrWong99/voxclip/pkg/audio"
)

// Result is the outcome of one decode call.
type Result struct {
	// Samples holds the newly decoded mono samples after the resume offset.
	// Empty when decoding failed or no new audio was present.
	Samples []audio.Sample

	// SampleCount is the running number of samples decoded from the payload.
	// It never drops below the resume offset passed to Decode.
	SampleCount int

	// SampleRate is the detected sample rate in Hz, or 0 when it could not be
	// detected. 0 means "unchanged" to the caller.
	SampleRate int

	// Codec is the detected codec, or [audio.CodecNone] when unknown.
	Codec audio.Codec
}

// Failed returns the result reported for undecodable input: no samples and an
// unchanged resume offset.
func Failed(resumeFrom int) Result {
	return Result{SampleCount: resumeFrom}
}

// FromDecoded builds a Result from the full decoded sample sequence of a
// payload, keeping only the samples at index resumeFrom and later.
func FromDecoded(all []audio.Sample, resumeFrom, sampleRate int, codec audio.Codec) Result {
	res := Result{
		SampleCount: max(len(all), resumeFrom),
		SampleRate:  sampleRate,
		Codec:       codec,
	}
	if resumeFrom < len(all) {
		res.Samples = all[max(resumeFrom, 0):]
	}
	return res
}

// Provider is the abstraction over any decoding backend.
type Provider interface {
	// Decode decodes data and returns the samples after resumeFrom. See the
	// package documentation for the failure contract.
	Decode(ctx context.Context, data []byte, resumeFrom int) (Result, error)
}
