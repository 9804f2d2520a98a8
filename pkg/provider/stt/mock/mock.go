// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	t, _ := p.Transcribe(ctx, clip)
//	fmt.Println(p.CallCount()) // 1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxclip/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Clip is the clip passed to Transcribe. Samples are not copied.
	Clip stt.Clip
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript text of every call.
	Text string

	// TextFunc, when set, computes the text per clip and overrides Text.
	TextFunc func(stt.Clip) string

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured text or error.
func (p *Provider) Transcribe(_ context.Context, clip stt.Clip) (stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip})
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	text := p.Text
	if p.TextFunc != nil {
		text = p.TextFunc(clip)
	}
	return stt.Transcript{Text: text, Language: clip.Language}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
