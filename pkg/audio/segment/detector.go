// Package segment splits a continuous mono sample stream into utterances using
// energy-based silence detection.
//
// A [Detector] classifies consecutive 20 ms windows as silent or voiced by
// comparing the window's sum of squared amplitudes against a fixed threshold.
// Leading silence is trimmed one window at a time, keeping only the most
// recently trimmed window as lead-in context for the next utterance. Once
// speech has started, an utterance is closed after three seconds of continuous
// trailing silence; it keeps 200 ms of that silence as trailing context.
//
// The energy is deliberately not normalised by window length. Because the
// window length depends on the sample rate, a given threshold is more
// sensitive at higher rates. Tuned thresholds rely on this behaviour.
//
// A Detector is synchronous and owned by a single caller; it is not safe for
// concurrent use. Independent detectors share no state.
package segment

import (
	"math"

	"github.com/MrWong99/voxclip/pkg/audio"
)

const (
	// windowSeconds is the classification window length (20 ms).
	windowSeconds = 0.02

	// silenceRunSeconds is the continuous trailing silence that ends an
	// utterance.
	silenceRunSeconds = 3

	// padWindows is the number of trailing silence windows (200 ms) kept at
	// the end of each utterance so trailing syllables are not clipped.
	padWindows = 10
)

// Order selects which finished utterance [Detector.TryGetChunk] returns first.
type Order int

const (
	// FIFO delivers utterances in the order they were closed.
	FIFO Order = iota

	// LIFO delivers the most recently closed utterance first.
	LIFO
)

// String returns "fifo" or "lifo".
func (o Order) String() string {
	if o == LIFO {
		return "lifo"
	}
	return "fifo"
}

// Option configures a [Detector].
type Option func(*Detector)

// WithDeliveryOrder sets the retrieval order of finished utterances. The
// default is [FIFO].
func WithDeliveryOrder(o Order) Option {
	return func(d *Detector) { d.order = o }
}

// WithSampleRate sets the initial sample rate, equivalent to calling
// [Detector.SetSampleRate] right after construction.
func WithSampleRate(rate int) Option {
	return func(d *Detector) { d.SetSampleRate(rate) }
}

// state is the detection mode. With active false the detector is in silence
// and trims leading windows. With active true an utterance is in progress;
// trailing reports whether a run of silence started at silenceStart.
type state struct {
	active       bool
	trailing     bool
	silenceStart int
}

// Stats is a sample-accounting snapshot of a [Detector]. At any time
//
//	Appended == Emitted + Discarded + LeadIn + Buffered
//
// where Emitted counts every sample handed out in an utterance, including
// lead-in prefixes.
type Stats struct {
	Appended  int
	Emitted   int
	Discarded int
	LeadIn    int
	Buffered  int
	Queued    int
}

// Detector is the streaming voice-activity segmentation engine.
type Detector struct {
	threshold float32
	order     Order

	sampleRate int
	windowSize int
	silenceRun int

	buf    []audio.Sample
	cursor int
	st     state
	leadIn []audio.Sample
	out    [][]audio.Sample

	appended  int
	emitted   int
	discarded int
}

// New returns a Detector that classifies a 20 ms window as silent when its
// energy is strictly below silenceThreshold. The detector buffers samples
// without classifying them until a sample rate is set.
func New(silenceThreshold float32, opts ...Option) *Detector {
	d := &Detector{threshold: silenceThreshold}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetSampleRate updates the input sample rate along with the window size and
// the silence run length derived from it. Setting the current rate again is a
// no-op. Already classified windows are not revisited; samples buffered while
// the rate was unknown are classified immediately.
func (d *Detector) SetSampleRate(rate int) {
	if rate == d.sampleRate || rate < 0 {
		return
	}
	d.sampleRate = rate
	d.windowSize = int(math.Round(float64(rate) * windowSeconds))
	d.silenceRun = rate * silenceRunSeconds
	d.scan()
}

// SampleRate returns the current input sample rate, 0 when unset.
func (d *Detector) SampleRate() int {
	return d.sampleRate
}

// WindowSize returns the number of samples per classification window.
func (d *Detector) WindowSize() int {
	return d.windowSize
}

// SilenceRun returns the number of continuous silent samples that close an
// utterance.
func (d *Detector) SilenceRun() int {
	return d.silenceRun
}

// IsInSilence reports whether no utterance is currently in progress.
func (d *Detector) IsInSilence() bool {
	return !d.st.active
}

// AppendFrames appends samples to the internal buffer and classifies every
// complete window that became available.
func (d *Detector) AppendFrames(samples []audio.Sample) {
	d.buf = append(d.buf, samples...)
	d.appended += len(samples)
	d.scan()
}

// TryGetChunk removes and returns one finished utterance, reporting false when
// none is queued. The returned slice is owned by the caller.
func (d *Detector) TryGetChunk() ([]audio.Sample, bool) {
	if len(d.out) == 0 {
		return nil, false
	}
	var chunk []audio.Sample
	if d.order == LIFO {
		last := len(d.out) - 1
		chunk = d.out[last]
		d.out[last] = nil
		d.out = d.out[:last]
	} else {
		chunk = d.out[0]
		d.out[0] = nil
		d.out = d.out[1:]
	}
	return chunk, true
}

// Flush closes an utterance in progress as if the stream had ended. Trailing
// silence beyond the 200 ms pad is dropped. Any unclassified remainder is
// kept for the next utterance when no speech is in progress. Flush reports
// whether an utterance was queued.
func (d *Detector) Flush() bool {
	if !d.st.active {
		return false
	}
	end := len(d.buf)
	if d.st.trailing {
		end = min(end, d.st.silenceStart+padWindows*d.windowSize)
	}
	d.emit(end)
	d.discarded += len(d.buf)
	d.buf = d.buf[:0]
	d.cursor = 0
	d.st = state{}
	return true
}

// Stats returns the current sample accounting.
func (d *Detector) Stats() Stats {
	queued := 0
	for _, c := range d.out {
		queued += len(c)
	}
	return Stats{
		Appended:  d.appended,
		Emitted:   d.emitted,
		Discarded: d.discarded,
		LeadIn:    len(d.leadIn),
		Buffered:  len(d.buf),
		Queued:    queued,
	}
}

// isSilence reports whether the window's energy is strictly below the
// threshold; a window exactly at the threshold counts as voiced.
func (d *Detector) isSilence(window []audio.Sample) bool {
	return audio.Energy(window) < d.threshold
}

// scan classifies windows from the cursor until less than one full window of
// unclassified samples remains.
func (d *Detector) scan() {
	if d.windowSize <= 0 {
		return
	}
	for d.cursor+d.windowSize <= len(d.buf) {
		start := d.cursor
		end := start + d.windowSize
		silent := d.isSilence(d.buf[start:end])

		switch {
		case !d.st.active:
			if silent {
				d.trimLeading(end)
				continue
			}
			d.st = state{active: true}
		case !d.st.trailing:
			if silent {
				d.st.trailing = true
				d.st.silenceStart = start
			}
		default:
			if !silent {
				d.st.trailing = false
			} else if start-d.st.silenceStart >= d.silenceRun {
				d.closeUtterance(end)
				continue
			}
		}
		d.cursor = end
	}
}

// trimLeading drops buf[:end] and keeps it as the lead-in, replacing any
// previous lead-in.
func (d *Detector) trimLeading(end int) {
	d.discarded += len(d.leadIn)
	d.leadIn = append(d.leadIn[:0], d.buf[:end]...)
	d.buf = d.buf[end:]
	d.cursor = 0
	d.st = state{}
}

// closeUtterance ends the utterance whose trailing silence run completed at
// window end offset end.
func (d *Detector) closeUtterance(end int) {
	pad := padWindows * d.windowSize
	bodyEnd := max(0, min(end-d.silenceRun+pad, len(d.buf)))
	d.emit(bodyEnd)

	stale := min(max(0, d.silenceRun-pad), len(d.buf))
	d.buf = d.buf[stale:]
	d.discarded += stale
	d.cursor = 0
	d.st = state{}
}

// emit queues leadIn + buf[:n] as one utterance and removes buf[:n].
func (d *Detector) emit(n int) {
	chunk := make([]audio.Sample, 0, len(d.leadIn)+n)
	chunk = append(chunk, d.leadIn...)
	chunk = append(chunk, d.buf[:n]...)
	d.leadIn = d.leadIn[:0]
	d.buf = d.buf[n:]
	d.emitted += len(chunk)
	d.out = append(d.out, chunk)
}
