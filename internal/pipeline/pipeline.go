// Package pipeline finishes utterances produced by the clipper: it
// transcribes them (when a transcription backend is configured), corrects
// domain vocabulary in the text, writes the audio as WAV and stores a
// [clipstore.Record] for each.
//
// Failures of the optional stages degrade the result instead of failing it:
// an utterance whose transcription failed is still stored and reported, with
// the error in [Event.Error].
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxclip/internal/clipper"
	"github.com/MrWong99/voxclip/internal/clipstore"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/internal/transcript"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
)

// Event is the client-facing summary of one finished utterance.
type Event struct {
	ID         uuid.UUID `json:"id"`
	StreamID   string    `json:"stream_id"`
	Seq        int       `json:"seq"`
	DurationMS int64     `json:"duration_ms"`
	SampleRate int       `json:"sample_rate"`
	Codec      string    `json:"codec"`
	Text       string    `json:"text,omitempty"`
	Language   string    `json:"language,omitempty"`
	ClipPath   string    `json:"clip_path,omitempty"`
	Error      string    `json:"error,omitempty"`

	Corrections []transcript.Correction `json:"corrections,omitempty"`
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSTT enables transcription.
func WithSTT(p stt.Provider, language string) Option {
	return func(pl *Pipeline) {
		pl.stt = p
		pl.language = language
	}
}

// WithCorrector fixes vocabulary in transcripts with c.
func WithCorrector(c *transcript.Corrector) Option {
	return func(pl *Pipeline) { pl.corrector = c }
}

// WithWAVSink writes every utterance to sink.
func WithWAVSink(sink *clipstore.WAVSink) Option {
	return func(pl *Pipeline) { pl.wav = sink }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// Pipeline post-processes utterances. It is safe for concurrent use.
type Pipeline struct {
	store    clipstore.Store
	stt      stt.Provider
	language string

	corrector *transcript.Corrector
	wav       *clipstore.WAVSink
	metrics   *observe.Metrics
}

// New returns a Pipeline persisting into store.
func New(store clipstore.Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: store}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Store returns the record store.
func (p *Pipeline) Store() clipstore.Store { return p.store }

// Process finishes utterances in order. It returns early with ctx.Err() when
// ctx ends; the events produced so far are returned with it.
func (p *Pipeline) Process(ctx context.Context, utts []clipper.Utterance) ([]Event, error) {
	events := make([]Event, 0, len(utts))
	for _, u := range utts {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		events = append(events, p.one(ctx, u))
	}
	return events, nil
}

func (p *Pipeline) one(ctx context.Context, u clipper.Utterance) Event {
	log := observe.StreamLogger(ctx, u.StreamID).With("seq", u.Seq, "utterance", u.ID)
	rec := clipstore.Record{
		ID:         u.ID,
		StreamID:   u.StreamID,
		Seq:        u.Seq,
		SampleRate: u.SampleRate,
		Codec:      u.Codec.String(),
		Duration:   u.Duration,
		CreatedAt:  u.CreatedAt,
	}
	ev := Event{
		ID:         u.ID,
		StreamID:   u.StreamID,
		Seq:        u.Seq,
		DurationMS: u.Duration.Milliseconds(),
		SampleRate: u.SampleRate,
		Codec:      rec.Codec,
	}

	if p.stt != nil && u.SampleRate > 0 {
		tr, err := p.transcribe(ctx, u)
		if err != nil {
			log.Warn("transcription failed", "err", err)
			ev.Error = err.Error()
		} else {
			rec.Text, rec.Language = tr.Text, tr.Language
			if p.corrector != nil && rec.Text != "" {
				rec.Text, ev.Corrections = p.corrector.Correct(rec.Text)
			}
		}
	}

	if p.wav != nil && u.SampleRate > 0 {
		path, err := p.wav.Write(u.ID, u.Samples, u.SampleRate)
		if err != nil {
			log.Warn("writing clip failed", "err", err)
			p.metrics.RecordProviderError(ctx, "wav", "write")
		} else {
			rec.ClipPath = path
		}
	}

	if err := p.store.Save(ctx, &rec); err != nil {
		log.Warn("storing utterance failed", "err", err)
		p.metrics.RecordProviderError(ctx, "store", "save")
	}

	ev.Text, ev.Language, ev.ClipPath = rec.Text, rec.Language, rec.ClipPath
	log.Debug("utterance finished", "duration", u.Duration, "text_len", len(rec.Text))
	return ev
}

func (p *Pipeline) transcribe(ctx context.Context, u clipper.Utterance) (_ stt.Transcript, err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe",
		observe.AttrStreamID.String(u.StreamID),
		observe.AttrUtteranceID.String(u.ID.String()),
		observe.AttrSeq.Int(u.Seq),
		observe.AttrSampleRate.Int(u.SampleRate),
	)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	tr, err := p.stt.Transcribe(ctx, stt.Clip{
		Samples:    u.Samples,
		SampleRate: u.SampleRate,
		Language:   p.language,
	})
	p.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	return tr, err
}
