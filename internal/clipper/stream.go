// Package clipper turns a sequence of compressed audio chunks into finished
// utterances.
//
// A [Stream] owns the per-client state: the decoder resume offset, the last
// detected codec and sample rate, an optional [audio.Decimator] that brings
// the source rate down to the configured target, and a [segment.Detector].
// Every chunk is decoded on the shared [dispatch.Dispatcher], so decoding is
// serialised across all streams while segmentation runs on the caller's
// goroutine.
//
// A [Manager] keeps streams by ID.
package clipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxclip/internal/dispatch"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/pkg/audio"
	"github.com/MrWong99/voxclip/pkg/audio/segment"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
)

// ErrStreamClosed is returned by Feed and Flush on a closed stream.
var ErrStreamClosed = errors.New("clipper: stream closed")

// ChunkMode tells a Stream how consecutive chunks relate to each other.
type ChunkMode int

const (
	// Cumulative chunks each carry the whole recording so far (a growing
	// file). The decoder skips samples already consumed.
	Cumulative ChunkMode = iota

	// Independent chunks are self-contained files that each decode from
	// sample zero.
	Independent
)

// String returns "cumulative" or "independent".
func (m ChunkMode) String() string {
	if m == Independent {
		return "independent"
	}
	return "cumulative"
}

// ParseChunkMode parses the names produced by [ChunkMode.String]. The empty
// string selects [Cumulative].
func ParseChunkMode(s string) (ChunkMode, error) {
	switch s {
	case "", "cumulative":
		return Cumulative, nil
	case "independent":
		return Independent, nil
	}
	return Cumulative, fmt.Errorf("clipper: unknown chunk mode %q", s)
}

// Config holds the per-stream tuning. It is copied into each stream on
// creation.
type Config struct {
	// TargetSampleRate is the rate utterances are produced at. 0 keeps the
	// source rate. Sources that are not an integer multiple of the target
	// also keep their rate. When the source rate changes mid-stream, the
	// fewer than one decimation window of samples still pending at the old
	// rate are dropped (see [Stream.Dropped]).
	TargetSampleRate int

	// SilenceThreshold is the window energy below which a 20 ms window is
	// silent.
	SilenceThreshold float32

	// Order selects utterance delivery order within one Feed result.
	Order segment.Order

	// Mode describes how chunks relate to each other.
	Mode ChunkMode
}

// Utterance is one finished, self-contained clip of speech.
type Utterance struct {
	ID         uuid.UUID
	StreamID   string
	Seq        int
	SampleRate int
	Codec      audio.Codec
	Samples    []audio.Sample
	Duration   time.Duration
	CreatedAt  time.Time
}

// Stream is the clipping state of one client recording. Its methods are safe
// for concurrent use; calls are serialised per stream.
type Stream struct {
	id      string
	cfg     Config
	dec     decoder.Provider
	decName string
	disp    *dispatch.Dispatcher
	metrics *observe.Metrics
	now     func() time.Time

	mu         sync.Mutex
	closed     bool
	offset     int
	codec      audio.Codec
	sourceRate int
	decim      *audio.Decimator
	det        *segment.Detector
	seq        int
	chunks     int
	dropped    int
}

func newStream(id string, cfg Config, dec decoder.Provider, decName string, disp *dispatch.Dispatcher, metrics *observe.Metrics, now func() time.Time) *Stream {
	return &Stream{
		id:      id,
		cfg:     cfg,
		dec:     dec,
		decName: decName,
		disp:    disp,
		metrics: metrics,
		now:     now,
		det:     segment.New(cfg.SilenceThreshold, segment.WithDeliveryOrder(cfg.Order)),
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Feed decodes one compressed chunk and returns every utterance it completed.
// Undecodable chunks are not an error; they simply produce nothing.
func (s *Stream) Feed(ctx context.Context, chunk []byte) (_ []Utterance, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}

	resumeFrom := s.offset
	if s.cfg.Mode == Independent {
		resumeFrom = 0
	}

	ctx, span := observe.StartSpan(ctx, "clipper.feed",
		observe.AttrStreamID.String(s.id),
		observe.AttrChunkBytes.Int(len(chunk)),
		observe.AttrResumeFrom.Int(resumeFrom),
	)
	defer func() { observe.EndSpan(span, err) }()

	// The job can outlive a cancelled Submit, so its result is handed over
	// through a channel and read only once Submit reports the job finished.
	results := make(chan decoder.Result, 1)
	start := time.Now()
	err = s.disp.Submit(ctx, func(ctx context.Context) error {
		res, derr := s.dec.Decode(ctx, chunk, resumeFrom)
		results <- res
		return derr
	})
	var res decoder.Result
	if err == nil {
		res = <-results
	}
	if s.metrics != nil {
		reason := ""
		switch {
		case err != nil:
			reason = "error"
		case len(res.Samples) == 0:
			reason = "empty"
		}
		s.metrics.RecordDecode(ctx, s.decName, time.Since(start).Seconds(), len(res.Samples), reason)
	}
	if err != nil {
		return nil, fmt.Errorf("clipper: decode chunk: %w", err)
	}
	s.chunks++

	s.apply(res)
	return s.drain(ctx), nil
}

// Flush closes an utterance in progress, as at the end of a recording, and
// returns all utterances that became ready.
func (s *Stream) Flush(ctx context.Context) ([]Utterance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	s.det.Flush()
	return s.drain(ctx), nil
}

// SampleRate returns the rate of produced utterances, 0 while unknown.
func (s *Stream) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.det.SampleRate()
}

// SourceRate returns the sample rate the decoder last reported.
func (s *Stream) SourceRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceRate
}

// Codec returns the codec the decoder last reported.
func (s *Stream) Codec() audio.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// Offset returns the decoder resume offset in source samples.
func (s *Stream) Offset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Stats returns the detector sample accounting.
func (s *Stream) Stats() segment.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.det.Stats()
}

// Dropped returns how many decoded samples never reached the detector. This
// happens only when the source rate changes while a decimator holds a partial
// window; those samples belong to the old rate and are discarded.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Chunks returns how many chunks were decoded successfully.
func (s *Stream) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// close marks the stream closed and returns any utterance that was still in
// progress.
func (s *Stream) close(ctx context.Context) []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.det.Flush()
	out := s.drain(ctx)
	s.closed = true
	return out
}

// apply folds one decode result into the stream state. Must hold s.mu.
func (s *Stream) apply(res decoder.Result) {
	if res.Codec.IsSome() && res.Codec != s.codec {
		s.codec = res.Codec
	}
	if res.SampleRate > 0 && res.SampleRate != s.sourceRate {
		s.setSourceRate(res.SampleRate)
	}

	switch s.cfg.Mode {
	case Independent:
		s.offset += len(res.Samples)
	default:
		s.offset = max(s.offset, res.SampleCount)
	}

	samples := res.Samples
	if s.decim != nil {
		samples = s.decim.Process(samples)
	}
	s.det.AppendFrames(samples)
}

// setSourceRate picks a decimation factor for rate and retunes the detector to
// the resulting rate. Input still pending in a decimator that is replaced
// belongs to the old rate; it is dropped and counted in s.dropped. Must hold
// s.mu.
func (s *Stream) setSourceRate(rate int) {
	s.sourceRate = rate
	factor := audio.DecimationFactor(rate, s.cfg.TargetSampleRate)
	if s.decim != nil && s.decim.Factor() != factor {
		if n := len(s.decim.Drain()); n > 0 {
			s.dropped += n
			slog.Debug("clipper: dropped samples pending at old source rate",
				"stream", s.id, "samples", n, "new_rate", rate)
		}
	}
	switch {
	case factor <= 1:
		s.decim = nil
	case s.decim == nil || s.decim.Factor() != factor:
		// factor is at least 2 here, so NewDecimator cannot fail.
		s.decim, _ = audio.NewDecimator(factor)
	}
	s.det.SetSampleRate(rate / factor)
}

// drain collects every queued utterance. Must hold s.mu.
func (s *Stream) drain(ctx context.Context) []Utterance {
	var out []Utterance
	rate := s.det.SampleRate()
	for {
		samples, ok := s.det.TryGetChunk()
		if !ok {
			return out
		}
		s.seq++
		u := Utterance{
			ID:         uuid.New(),
			StreamID:   s.id,
			Seq:        s.seq,
			SampleRate: rate,
			Codec:      s.codec,
			Samples:    samples,
			Duration:   time.Duration(audio.Duration(len(samples), rate) * float64(time.Second)),
			CreatedAt:  s.now(),
		}
		if s.metrics != nil {
			s.metrics.RecordUtterance(ctx, u.Codec.String(), u.Duration.Seconds())
		}
		out = append(out, u)
	}
}
