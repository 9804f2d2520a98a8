package resilience

import (
	"context"

	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across several
// transcription backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns an [STTFallback] preferring primary. Failed attempts
// are counted in metrics (nil selects [observe.DefaultMetrics]).
func NewSTTFallback(primaryName string, primary stt.Provider, cfg BreakerConfig, metrics *observe.Metrics) *STTFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	g := NewFallbackGroup(primaryName, primary, cfg)
	g.OnError = func(ctx context.Context, name string, _ error) {
		metrics.RecordProviderError(ctx, name, "transcribe")
	}
	return &STTFallback{group: g}
}

// AddFallback registers another backend, tried after those already added.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.Add(name, p)
}

// Group exposes the underlying group, e.g. to inspect breaker states.
func (f *STTFallback) Group() *FallbackGroup[stt.Provider] { return f.group }

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, clip stt.Clip) (stt.Transcript, error) {
	t, _, err := Call(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, clip)
	})
	return t, err
}
