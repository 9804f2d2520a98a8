package stt

import (
	"errors"
	"time"

	"github.com/MrWong99/voxclip/pkg/audio"
)

// ErrEmptyClip is returned by providers when asked to transcribe a clip
// without samples.
var ErrEmptyClip = errors.New("stt: empty clip")

// Clip is a mono utterance submitted for transcription.
type Clip struct {
	// Samples holds the utterance audio.
	Samples []audio.Sample

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Language is a BCP-47 language hint (e.g. "en", "de"). Empty means the
	// provider default or auto-detection.
	Language string
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return time.Duration(audio.Duration(len(c.Samples), c.SampleRate) * float64(time.Second))
}

// Transcript is the recognised text of a clip.
type Transcript struct {
	// Text is the recognised text with surrounding whitespace removed.
	Text string

	// Language is the language the provider recognised, if it reports one.
	Language string

	// Latency is the wall-clock time the provider took.
	Latency time.Duration
}
