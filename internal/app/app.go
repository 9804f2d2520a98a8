// Package app wires all voxclip subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// drains open streams and tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxclip/internal/clipper"
	"github.com/MrWong99/voxclip/internal/clipstore"
	"github.com/MrWong99/voxclip/internal/config"
	"github.com/MrWong99/voxclip/internal/dispatch"
	"github.com/MrWong99/voxclip/internal/health"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/internal/pipeline"
	"github.com/MrWong99/voxclip/internal/server"
	"github.com/MrWong99/voxclip/internal/transcript"
	"github.com/MrWong99/voxclip/pkg/audio/segment"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	// Decoder is required.
	Decoder decoder.Provider

	// DecoderName labels decode metrics. Defaults to the configured name.
	DecoderName string

	// STT is optional; nil stores utterances without text.
	STT stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics  *observe.Metrics
	registry *prometheus.Registry
	level    *slog.LevelVar

	store   clipstore.Store
	wav     *clipstore.WAVSink
	disp    *dispatch.Dispatcher
	streams *clipper.Manager
	pipe    *pipeline.Pipeline
	health  *health.Handler
	handler http.Handler
	httpSrv *http.Server

	configPath     string
	reloadInterval time.Duration
	watcher        *config.Watcher

	mu       sync.Mutex
	addr     net.Addr
	serving  *errgroup.Group
	dispDone chan error

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an utterance store instead of creating one from config.
func WithStore(s clipstore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metric instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPrometheusRegistry serves /metrics from reg.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithLogLevel lets config reloads adjust the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigReload watches path and applies changes to the running service.
// A non-positive interval uses the watcher default.
func WithConfigReload(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.reloadInterval = interval
	}
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Decoder == nil {
		return nil, errors.New("app: a decoder provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	var checkers []health.Checker
	if err := a.initStore(ctx, &checkers); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if dir := cfg.Storage.ClipsDir; dir != "" {
		sink, err := clipstore.NewWAVSink(dir)
		if err != nil {
			return nil, fmt.Errorf("app: init clip sink: %w", err)
		}
		a.wav = sink
	}

	// ── 2. Dispatcher + streams ──────────────────────────────────────────
	a.disp = dispatch.New(cfg.Dispatch.QueueSize, dispatch.WithMetrics(a.metrics))
	checkers = append(checkers, health.Checker{Name: "dispatcher", Check: a.disp.Check})

	decName := providers.DecoderName
	if decName == "" {
		decName = cfg.Providers.Decoder.Name
	}
	a.streams = clipper.NewManager(ClipperConfig(cfg), providers.Decoder, a.disp,
		clipper.WithMetrics(a.metrics),
		clipper.WithDecoderName(decName),
		clipper.WithMaxStreams(cfg.Server.MaxStreams),
	)

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	popts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if providers.STT != nil {
		popts = append(popts, pipeline.WithSTT(providers.STT, cfg.Providers.STT.Language))
	}
	if vocab := transcript.New(cfg.Providers.Vocabulary); vocab.Len() > 0 {
		popts = append(popts, pipeline.WithCorrector(vocab))
	}
	if a.wav != nil {
		popts = append(popts, pipeline.WithWAVSink(a.wav))
	}
	a.pipe = pipeline.New(a.store, popts...)

	// ── 4. HTTP ──────────────────────────────────────────────────────────
	a.health = health.New(checkers...)
	sopts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithMaxChunkBytes(cfg.Server.MaxChunkBytes),
		server.WithHealth(a.health),
		server.WithMetricsHandler(observe.MetricsHandler(a.registry)),
	}
	if a.wav != nil {
		sopts = append(sopts, server.WithWAVSink(a.wav))
	}
	a.handler = server.New(a.streams, a.pipe, sopts...)
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── 5. Config reload ─────────────────────────────────────────────────
	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.reloadInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.reloadInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			return nil, fmt.Errorf("app: config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initStore connects PostgreSQL when a DSN is configured and falls back to
// an in-memory store otherwise.
func (a *App) initStore(ctx context.Context, checkers *[]health.Checker) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Info("no postgres_dsn configured, keeping utterances in memory")
		a.store = clipstore.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	store := clipstore.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.store = store
	*checkers = append(*checkers, health.Checker{Name: "postgres", Check: pool.Ping})
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// applyConfig is the watcher callback.
func (a *App) applyConfig(_, cfg *config.Config, diff config.ConfigDiff) {
	if diff.StreamConfigChanged {
		a.streams.SetConfig(ClipperConfig(cfg))
		slog.Info("stream settings updated; applies to streams opened from now on")
	}
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(diff.NewLogLevel))
	}
}

// Handler returns the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler { return a.handler }

// Streams returns the stream manager.
func (a *App) Streams() *clipper.Manager { return a.streams }

// Store returns the utterance store.
func (a *App) Store() clipstore.Store { return a.store }

// Addr returns the listen address once Run has bound it, nil before.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the dispatcher and the HTTP server and blocks until ctx is
// cancelled or serving fails. The server keeps running after Run returns
// because of cancellation; call Shutdown to drain it.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}

	// The worker outlives ctx so requests still in flight during Shutdown
	// can decode; Shutdown stops it with Close.
	dispDone := make(chan error, 1)
	go func() { dispDone <- a.disp.Run(context.WithoutCancel(ctx)) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serve(ln) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	a.mu.Lock()
	a.addr = ln.Addr()
	a.serving = g
	a.dispDone = dispDone
	a.mu.Unlock()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	<-gctx.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.Wait()
}

func (a *App) serve(ln net.Listener) error {
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
	} else {
		err = a.httpSrv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("app: serve: %w", err)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown fails readiness, stops accepting requests, flushes every open
// stream through the pipeline, lets the dispatcher finish its queue and runs
// the closers. It respects the context deadline: if ctx expires, remaining
// steps are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "streams", a.streams.Active(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		a.mu.Lock()
		serving, dispDone := a.serving, a.dispDone
		a.mu.Unlock()
		if serving != nil {
			if err := serving.Wait(); err != nil {
				slog.Warn("server stopped with error", "err", err)
			}
		}

		if utts := a.streams.CloseAll(ctx); len(utts) > 0 {
			if _, err := a.pipe.Process(ctx, utts); err != nil {
				slog.Warn("final utterances not processed", "count", len(utts), "err", err)
			} else {
				slog.Info("flushed open streams", "utterances", len(utts))
			}
		}

		a.disp.Close()
		if dispDone != nil {
			select {
			case err := <-dispDone:
				if err != nil {
					slog.Warn("dispatcher stopped with error", "err", err)
				}
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded waiting for dispatcher")
				shutdownErr = ctx.Err()
				return
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// ClipperConfig converts the audio section of cfg to per-stream settings.
func ClipperConfig(cfg *config.Config) clipper.Config {
	cc := clipper.Config{
		TargetSampleRate: cfg.Audio.TargetSampleRate,
		SilenceThreshold: float32(cfg.Audio.Threshold()),
		Order:            segment.FIFO,
		Mode:             clipper.Cumulative,
	}
	if cfg.Audio.DeliveryOrder == config.OrderLIFO {
		cc.Order = segment.LIFO
	}
	if cfg.Audio.ChunkMode == config.ChunkIndependent {
		cc.Mode = clipper.Independent
	}
	return cc
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
