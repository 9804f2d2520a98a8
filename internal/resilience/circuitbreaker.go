// Package resilience guards transcription backends against cascading
// failures.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) keyed
// to consecutive failures. [FallbackGroup] chains several backends of the same
// type, each behind its own breaker, and [STTFallback] applies that to
// stt.Provider.
//
// Context cancellation is never counted as a backend failure: a client that
// hangs up must not trip the breaker for everybody else.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. Enough
	// successful trials close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the state name as used in logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Trials is the number of successful half-open calls needed to close.
	// Default: 3.
	Trials int

	// OnStateChange, when set, is called after every transition. It runs
	// with the breaker unlocked.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Trials <= 0 {
		c.Trials = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker is a consecutive-failure circuit breaker. It is safe for
// concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inflight int // half-open trials started
	passed   int // half-open trials succeeded
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults()}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn unless the breaker is open. The error of fn is returned
// unchanged. Errors caused by ctx ending are not recorded.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	switch {
	case err == nil:
		b.success(trial)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.abandon(trial)
	default:
		b.failure(trial)
	}
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var change func()
	defer func() {
		b.mu.Unlock()
		if change != nil {
			change()
		}
	}()

	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		change = b.transition(StateHalfOpen)
		b.inflight, b.passed = 0, 0
	}
	if b.state == StateHalfOpen {
		if b.inflight >= b.cfg.Trials {
			return false, ErrCircuitOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) success(trial bool) {
	b.mu.Lock()
	var change func()
	if trial && b.state == StateHalfOpen {
		b.passed++
		if b.passed >= b.cfg.Trials {
			change = b.transition(StateClosed)
		}
	}
	if b.state == StateClosed {
		b.failures = 0
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

func (b *Breaker) failure(trial bool) {
	b.mu.Lock()
	var change func()
	b.failures++
	if (trial && b.state == StateHalfOpen) || (b.state == StateClosed && b.failures >= b.cfg.MaxFailures) {
		b.openedAt = b.cfg.Now()
		change = b.transition(StateOpen)
	}
	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// abandon returns a trial slot taken by a call whose context ended.
func (b *Breaker) abandon(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial && b.state == StateHalfOpen && b.inflight > 0 {
		b.inflight--
	}
}

// transition sets the new state and returns the notification to run once
// b.mu is released. Must be called with b.mu held.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	name := b.cfg.Name
	hook := b.cfg.OnStateChange
	return func() {
		if to == StateOpen {
			slog.Warn("circuit breaker opened", "name", name, "from", from.String())
		} else {
			slog.Info("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		}
		if hook != nil {
			hook(name, from, to)
		}
	}
}

// State reports the current state. An open breaker whose cool-down has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.transition(StateClosed)
	b.failures, b.inflight, b.passed = 0, 0, 0
	b.mu.Unlock()
	if change != nil {
		change()
	}
}
