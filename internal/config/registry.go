package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxclip/pkg/provider/decoder"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	decoder map[string]func(ProviderEntry) (decoder.Provider, error)
	stt     map[string]func(ProviderEntry) (stt.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		decoder: make(map[string]func(ProviderEntry) (decoder.Provider, error)),
		stt:     make(map[string]func(ProviderEntry) (stt.Provider, error)),
	}
}

// RegisterDecoder registers a decoder factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterDecoder(name string, factory func(ProviderEntry) (decoder.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoder[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateDecoder instantiates the decoder registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateDecoder(entry ProviderEntry) (decoder.Provider, error) {
	r.mu.RLock()
	factory, ok := r.decoder[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: decoder/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Decoders returns the registered decoder names, sorted.
func (r *Registry) Decoders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.decoder)
}

// STTs returns the registered STT provider names, sorted.
func (r *Registry) STTs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.stt)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
