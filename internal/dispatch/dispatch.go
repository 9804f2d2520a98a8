// Package dispatch serialises work onto a single worker goroutine.
//
// Decoding spawns an external process per chunk, so all streams share one
// [Dispatcher]: jobs wait in a bounded FIFO queue and run one at a time, in
// submission order. A full queue applies backpressure to submitters.
//
// The Dispatcher is an owned value created by the application and passed to
// its users; there is no package-level instance.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxclip/internal/observe"
)

// DefaultQueueSize is the queue capacity used when New is given a
// non-positive size.
const DefaultQueueSize = 1024

var (
	// ErrClosed is returned by Submit after Close, or when the worker stopped
	// before the job ran.
	ErrClosed = errors.New("dispatch: dispatcher closed")

	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("dispatch: already running")
)

// Job is a unit of work. ctx is the submitter's context.
type Job func(ctx context.Context) error

type request struct {
	ctx  context.Context
	fn   Job
	done chan error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics reports queue depth to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher runs submitted jobs sequentially on one worker goroutine.
type Dispatcher struct {
	queue   chan request
	metrics *observe.Metrics

	// mu is held shared by every Submit while it enqueues. The worker takes
	// it exclusively once closing is closed, so no job can be enqueued after
	// the final drain.
	mu        sync.RWMutex
	closing   chan struct{}
	closeOnce sync.Once

	runMu   sync.Mutex
	running bool
	stopped chan struct{}
}

// New creates a Dispatcher with a queue of queueSize pending jobs. The worker
// does not start until Run is called.
func New(queueSize int, opts ...Option) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	d := &Dispatcher{
		queue:   make(chan request, queueSize),
		closing: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Submit enqueues fn and blocks until it has run, returning its error. It
// blocks while the queue is full. If ctx ends first, Submit returns ctx.Err();
// a job that was already queued is then skipped by the worker. A Submit
// waiting for queue space returns ErrClosed as soon as Close is called.
func (d *Dispatcher) Submit(ctx context.Context, fn Job) error {
	req := request{ctx: ctx, fn: fn, done: make(chan error, 1)}

	d.mu.RLock()
	if d.isClosing() {
		d.mu.RUnlock()
		return ErrClosed
	}
	select {
	case d.queue <- req:
		d.depth(ctx, 1)
	case <-ctx.Done():
		d.mu.RUnlock()
		return ctx.Err()
	case <-d.closing:
		d.mu.RUnlock()
		return ErrClosed
	case <-d.stopped:
		d.mu.RUnlock()
		return ErrClosed
	}
	d.mu.RUnlock()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		select {
		case err := <-req.done:
			return err
		default:
			return ErrClosed
		}
	}
}

// Run drives the worker until ctx is cancelled or Close is called. After
// Close, jobs that were already queued still run before Run returns nil.
// After ctx cancellation queued jobs fail with ctx's error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.runMu.Unlock()
	defer close(d.stopped)

	for {
		select {
		case <-ctx.Done():
			d.failQueued(ctx.Err())
			return fmt.Errorf("dispatch: %w", ctx.Err())
		case <-d.closing:
			// Wait out submitters that are mid-enqueue; later ones see
			// closing and leave.
			d.mu.Lock()
			d.mu.Unlock() //nolint:staticcheck // empty section is the barrier
			d.drain()
			return nil
		case req := <-d.queue:
			if err := ctx.Err(); err != nil {
				d.depth(req.ctx, -1)
				req.done <- err
				continue
			}
			d.exec(req)
		}
	}
}

// Close stops accepting jobs and releases submitters waiting for queue space.
// Jobs already queued still run. Close does not wait for the worker; wait for
// Run to return for that. Close never blocks, even before Run has started.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closing) })
}

func (d *Dispatcher) isClosing() bool {
	select {
	case <-d.closing:
		return true
	default:
		return false
	}
}

// Len returns the number of queued jobs.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Cap returns the queue capacity.
func (d *Dispatcher) Cap() int {
	return cap(d.queue)
}

// Check reports an error when the dispatcher no longer accepts work. It
// matches the health checker signature.
func (d *Dispatcher) Check(context.Context) error {
	if d.isClosing() {
		return ErrClosed
	}
	select {
	case <-d.stopped:
		return ErrClosed
	default:
	}
	return nil
}

func (d *Dispatcher) exec(req request) {
	d.depth(req.ctx, -1)
	if err := req.ctx.Err(); err != nil {
		req.done <- err
		return
	}
	req.done <- req.fn(req.ctx)
}

// drain runs every job still in the queue. The caller holds no lock but has
// passed the closing barrier in Run, so the queue only shrinks.
func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.queue:
			d.exec(req)
		default:
			return
		}
	}
}

func (d *Dispatcher) failQueued(err error) {
	for {
		select {
		case req := <-d.queue:
			d.depth(req.ctx, -1)
			req.done <- err
		default:
			return
		}
	}
}

func (d *Dispatcher) depth(ctx context.Context, delta int64) {
	if d.metrics != nil {
		d.metrics.DispatchQueueDepth.Add(context.WithoutCancel(ctx), delta)
	}
}
