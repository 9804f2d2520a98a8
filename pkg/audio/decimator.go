package audio

import (
	"errors"
	"fmt"
)

// ErrInvalidFactor is returned by [NewDecimator] for factors below 1.
var ErrInvalidFactor = errors.New("audio: decimation factor must be at least 1")

// Decimator is a streaming downsampler that keeps every N-th sample. Samples
// arrive through [Decimator.Extend] in arbitrary batches; [Decimator.Next]
// yields the N-th, 2N-th, … sample of the overall stream regardless of how the
// input was chunked. A partially filled window is kept until more samples
// arrive.
//
// No anti-aliasing filter is applied. A Decimator is owned by a single caller
// and is not safe for concurrent use.
type Decimator struct {
	factor  int
	pending []Sample
	head    int // index of the first unconsumed sample in pending
}

// NewDecimator returns a Decimator that consumes factor input samples per
// output sample. A factor of 1 passes samples through unchanged.
func NewDecimator(factor int) (*Decimator, error) {
	if factor < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidFactor, factor)
	}
	return &Decimator{factor: factor}, nil
}

// DecimationFactor returns the integer factor that converts srcRate to
// dstRate. It returns 1 when no integer decimation applies: dstRate is zero or
// not below srcRate, or srcRate is not a multiple of dstRate.
func DecimationFactor(srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 || dstRate >= srcRate {
		return 1
	}
	if srcRate%dstRate != 0 {
		return 1
	}
	return srcRate / dstRate
}

// Factor returns the number of input samples consumed per output sample.
func (d *Decimator) Factor() int {
	return d.factor
}

// Pending returns how many input samples are buffered and not yet consumed.
func (d *Decimator) Pending() int {
	return len(d.pending) - d.head
}

// Drain removes and returns every pending sample, leaving the Decimator
// empty. The partial window is lost to the output stream.
func (d *Decimator) Drain() []Sample {
	out := append([]Sample(nil), d.pending[d.head:]...)
	d.pending = d.pending[:0]
	d.head = 0
	return out
}

// Extend appends samples to the pending queue. It produces no output itself.
func (d *Decimator) Extend(samples []Sample) {
	if d.head > 0 && d.head >= len(d.pending)/2 {
		n := copy(d.pending, d.pending[d.head:])
		d.pending = d.pending[:n]
		d.head = 0
	}
	d.pending = append(d.pending, samples...)
}

// Next removes the next factor samples from the queue and returns the last of
// them. It reports false, leaving the queue untouched, while fewer than factor
// samples are buffered.
func (d *Decimator) Next() (Sample, bool) {
	if d.Pending() < d.factor {
		return 0, false
	}
	s := d.pending[d.head+d.factor-1]
	d.head += d.factor
	if d.head == len(d.pending) {
		d.pending = d.pending[:0]
		d.head = 0
	}
	return s, true
}

// Process extends the queue with samples and returns every output sample that
// is ready. Leftover input stays pending for the next call.
func (d *Decimator) Process(samples []Sample) []Sample {
	d.Extend(samples)
	out := make([]Sample, 0, d.Pending()/d.factor)
	for {
		s, ok := d.Next()
		if !ok {
			return out
		}
		out = append(out, s)
	}
}
