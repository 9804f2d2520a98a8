// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider transcribes one finished utterance at a time. The clipper
// produces complete clips, so providers are batch engines: a local
// whisper.cpp server or library, or a hosted API. Transcription is optional
// for the service; when no provider is configured utterances are stored
// without text.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts the samples of clip to text. An empty clip yields
	// [ErrEmptyClip]. A clip that contains no recognisable speech is not an
	// error; the returned Transcript simply has empty Text.
	Transcribe(ctx context.Context, clip Clip) (Transcript, error)
}
