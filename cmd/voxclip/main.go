// Command voxclip is the main entry point for the voxclip utterance service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/voxclip/internal/app"
	"github.com/MrWong99/voxclip/internal/config"
	"github.com/MrWong99/voxclip/internal/observe"
	"github.com/MrWong99/voxclip/internal/resilience"
	"github.com/MrWong99/voxclip/pkg/provider/decoder"
	"github.com/MrWong99/voxclip/pkg/provider/decoder/ffmpeg"
	wavdecoder "github.com/MrWong99/voxclip/pkg/provider/decoder/wav"
	"github.com/MrWong99/voxclip/pkg/provider/stt"
	"github.com/MrWong99/voxclip/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/voxclip/pkg/provider/stt/openai"
	"github.com/MrWong99/voxclip/pkg/provider/stt/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	reload := flag.Duration("reload-interval", 5*time.Second, "how often to check the config file for changes (0 disables)")
	sampleRatio := flag.Float64("trace-sample-ratio", 1, "fraction of new traces to sample")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxclip: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxclip: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("voxclip starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    *sampleRatio,
		Registry:       promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers, closers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}()

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithPrometheusRegistry(promReg),
		app.WithLogLevel(&level),
	}
	if *reload > 0 {
		opts = append(opts, app.WithConfigReload(*configPath, *reload))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping, draining open streams", "timeout", cfg.Server.ShutdownTimeout)
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── Decoders ──────────────────────────────────────────────────────────────

	reg.RegisterDecoder("ffmpeg", func(entry config.ProviderEntry) (decoder.Provider, error) {
		return ffmpeg.New(
			ffmpeg.WithBinary(entry.Option("binary")),
			ffmpeg.WithTempDir(cfg.Audio.TempDir),
		)
	})

	reg.RegisterDecoder("wav", func(config.ProviderEntry) (decoder.Provider, error) {
		return wavdecoder.New(), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.Option("model_path")
		}
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if entry.Language != "" {
			opts = append(opts, oaistt.WithLanguage(entry.Language))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	slog.Debug("registered providers", "decoders", reg.Decoders(), "stt", reg.STTs())
}

// buildProviders instantiates all providers named in cfg using the registry.
// STT fallbacks are chained behind the primary with one circuit breaker each.
// The returned closers release providers that hold native resources.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, []io.Closer, error) {
	var closers []io.Closer
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	dec, err := reg.CreateDecoder(cfg.Providers.Decoder)
	if err != nil {
		return nil, nil, fmt.Errorf("create decoder %q: %w", cfg.Providers.Decoder.Name, err)
	}
	slog.Info("provider created", "kind", "decoder", "name", cfg.Providers.Decoder.Name)
	ps := &app.Providers{Decoder: dec, DecoderName: cfg.Providers.Decoder.Name}

	primary := cfg.Providers.STT
	if primary.Name == "" {
		slog.Info("no stt provider configured, utterances are stored without text")
		return ps, closers, nil
	}
	p, err := reg.CreateSTT(primary)
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", primary.Name, err)
	}
	track(p)
	slog.Info("provider created", "kind", "stt", "name", primary.Name)
	if len(cfg.Providers.STTFallbacks) == 0 {
		ps.STT = p
		return ps, closers, nil
	}

	fb := resilience.NewSTTFallback(primary.Name, p, resilience.BreakerConfig{}, metrics)
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		track(p)
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "stt-fallback", "name", entry.Name)
	}
	ps.STT = fb
	return ps, closers, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
