package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitProvider_ExposesMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		InstanceID:     "replica-1",
		Registry:       reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.Utterances.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{"voxclip_utterances", "go_goroutines", `service_instance_id="replica-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("/metrics output missing %q", want)
		}
	}

	_, span := StartSpan(context.Background(), "after-init")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("spans should be sampled by default")
	}
}

func TestInitProvider_RegistryConflict(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{Registry: reg})
	if err != nil {
		t.Fatalf("first InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	if _, err := InitProvider(context.Background(), ProviderConfig{Registry: reg}); err == nil {
		t.Fatal("second InitProvider on the same registry should fail")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range tests {
		desc := sampler(tc.ratio).Description()
		if !strings.Contains(desc, tc.want) {
			t.Errorf("sampler(%v) = %s, want it to contain %s", tc.ratio, desc, tc.want)
		}
	}

	// A sampled parent is always honoured.
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler(0.0001)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	_, span := tp.Tracer("test").Start(ctx, "child")
	defer span.End()
	if !span.SpanContext().IsSampled() {
		t.Error("child of a sampled parent was dropped")
	}
}
