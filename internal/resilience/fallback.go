package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] succeeded.
var ErrAllFailed = errors.New("resilience: all providers failed")

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// FallbackGroup tries a primary value and then its fallbacks, in registration
// order, each behind its own [Breaker]. Register all entries before the first
// call; calls themselves are safe for concurrent use.
type FallbackGroup[T any] struct {
	cfg     BreakerConfig
	entries []entry[T]

	// OnError, when set, observes every failed attempt except skipped
	// (open) entries.
	OnError func(ctx context.Context, name string, err error)
}

// NewFallbackGroup returns a group whose first entry is primary. cfg is the
// template for every entry's breaker; its Name is replaced by the entry name.
func NewFallbackGroup[T any](primaryName string, primary T, cfg BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback.
func (g *FallbackGroup[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Names returns the entry names in try order.
func (g *FallbackGroup[T]) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the breaker guarding the named entry, or nil.
func (g *FallbackGroup[T]) Breaker(name string) *Breaker {
	for _, e := range g.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Call runs fn against the entries of g until one succeeds and returns its
// result along with the name of the entry that produced it. It stops early
// when ctx ends.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range g.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var res R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			res, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return res, e.name, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		if ctx.Err() != nil {
			return zero, "", err
		}
		lastErr = err
		if g.OnError != nil {
			g.OnError(ctx, e.name, err)
		}
		slog.Warn("provider failed, trying next", "provider", e.name, "err", err)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
