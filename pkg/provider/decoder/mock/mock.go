// Package mock provides a test double for the decoder.Provider interface.
//
// Results are served from a script: each Decode call pops the next entry of
// Results. When the script is exhausted, Fallback (if set) computes the result,
// otherwise an empty result preserving the resume offset is returned.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxclip/pkg/provider/decoder"
)

// DecodeCall records the arguments of a single Decode invocation.
type DecodeCall struct {
	Data       []byte
	ResumeFrom int
}

// Provider is a scripted mock implementation of decoder.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is consumed front to back, one entry per Decode call.
	Results []decoder.Result

	// Fallback computes the result once Results is exhausted. Optional.
	Fallback func(data []byte, resumeFrom int) decoder.Result

	// Err, when non-nil, is returned from every Decode call.
	Err error

	// Calls records every Decode invocation in order.
	Calls []DecodeCall
}

// Compile-time assertion.
var _ decoder.Provider = (*Provider)(nil)

// Decode implements decoder.Provider.
func (p *Provider) Decode(_ context.Context, data []byte, resumeFrom int) (decoder.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, DecodeCall{Data: data, ResumeFrom: resumeFrom})
	if p.Err != nil {
		return decoder.Failed(resumeFrom), p.Err
	}
	if len(p.Results) > 0 {
		res := p.Results[0]
		p.Results = p.Results[1:]
		return res, nil
	}
	if p.Fallback != nil {
		return p.Fallback(data, resumeFrom), nil
	}
	return decoder.Failed(resumeFrom), nil
}

// CallCount returns the number of Decode calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
