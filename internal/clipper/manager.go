package clipper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxclip/internal/dispatch"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
)

// ErrTooManyStreams is returned by Open when the stream limit is reached.
var ErrTooManyStreams = errors.New("clipper: too many open streams")

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records decode, utterance and stream-count metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithDecoderName labels decode metrics. Defaults to "decoder".
func WithDecoderName(name string) Option {
	return func(mgr *Manager) {
		if name != "" {
			mgr.decName = name
		}
	}
}

// WithMaxStreams caps the number of open streams. 0 means unlimited.
func WithMaxStreams(n int) Option {
	return func(mgr *Manager) { mgr.maxStreams = n }
}

// WithClock replaces time.Now for utterance timestamps.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// Manager owns the open streams of the service.
type Manager struct {
	dec        decoder.Provider
	decName    string
	disp       *dispatch.Dispatcher
	metrics    *observe.Metrics
	maxStreams int
	now        func() time.Time

	mu      sync.Mutex
	cfg     Config
	streams map[string]*Stream
}

// NewManager creates a Manager whose streams decode with dec on disp.
func NewManager(cfg Config, dec decoder.Provider, disp *dispatch.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		dec:     dec,
		decName: "decoder",
		disp:    disp,
		now:     time.Now,
		cfg:     cfg,
		streams: make(map[string]*Stream),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetConfig replaces the configuration used for streams opened from now on.
// Open streams keep their configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Config returns the configuration for new streams.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Open returns the stream with the given ID, creating it if needed.
func (m *Manager) Open(ctx context.Context, id string) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s, nil
	}
	if m.maxStreams > 0 && len(m.streams) >= m.maxStreams {
		return nil, ErrTooManyStreams
	}
	s := newStream(id, m.cfg, m.dec, m.decName, m.disp, m.metrics, m.now)
	m.streams[id] = s
	if m.metrics != nil {
		m.metrics.ActiveStreams.Add(ctx, 1)
	}
	slog.Debug("clipper: stream opened", "stream", id, "mode", m.cfg.Mode, "order", m.cfg.Order)
	return s, nil
}

// Get returns the stream with the given ID if it is open.
func (m *Manager) Get(id string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	return s, ok
}

// Close removes the stream and returns any utterance it still held. It
// reports false when no such stream was open.
func (m *Manager) Close(ctx context.Context, id string) ([]Utterance, bool) {
	m.mu.Lock()
	s, ok := m.streams[id]
	if ok {
		delete(m.streams, id)
		if m.metrics != nil {
			m.metrics.ActiveStreams.Add(ctx, -1)
		}
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	out := s.close(ctx)
	slog.Debug("clipper: stream closed", "stream", id, "final_utterances", len(out))
	return out, true
}

// CloseAll closes every stream and returns their remaining utterances.
func (m *Manager) CloseAll(ctx context.Context) []Utterance {
	var out []Utterance
	for _, id := range m.IDs() {
		u, _ := m.Close(ctx, id)
		out = append(out, u...)
	}
	return out
}

// Active returns the number of open streams.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// IDs returns the sorted IDs of the open streams.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}
